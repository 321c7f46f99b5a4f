package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "example.com", Normalize(" *.Example.COM. "))
	assert.Equal(t, "a.example.com", Normalize("a.example.com"))
}

func TestRelativeSubdomain(t *testing.T) {
	assert.Equal(t, "", RelativeSubdomain("example.com", "example.com"))
	assert.Equal(t, "a", RelativeSubdomain("a.b.example.com", "b.example.com"))
	assert.Equal(t, "a.b", RelativeSubdomain("a.b.example.com", "example.com"))
}

func TestChallengeSubdomain(t *testing.T) {
	assert.Equal(t, "_acme-challenge", ChallengeSubdomain(""))
	assert.Equal(t, "_acme-challenge.a", ChallengeSubdomain("a"))
	assert.Equal(t, "_acme-challenge.a.b", ChallengeSubdomain("a.b"))
}

func TestIsSubDomain(t *testing.T) {
	assert.True(t, IsSubDomain("example.com", "example.com"))
	assert.True(t, IsSubDomain("www.example.com", "example.com"))
	assert.False(t, IsSubDomain("badexample.com", "example.com"))
}

func TestMatchDomain(t *testing.T) {
	tests := []struct {
		cert, target string
		want         bool
	}{
		{"example.com", "example.com", true},
		{"*.example.com", "www.example.com", true},
		{"*.example.com", "a.b.example.com", false},
		{"*.example.com", "example.com", false},
		{"*.example.com", "www.badexample.com", false},
		{"Example.com", "example.COM", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchDomain(tt.cert, tt.target), "%s vs %s", tt.cert, tt.target)
	}
}

func TestCoversAll(t *testing.T) {
	certDomains := []string{"example.com", "*.example.com"}
	assert.True(t, CoversAll(certDomains, []string{"example.com", "www.example.com"}))
	assert.False(t, CoversAll(certDomains, []string{"example.com", "example.org"}))
}
