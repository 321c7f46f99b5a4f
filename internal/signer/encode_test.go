package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abcXYZ019-_.", "abcXYZ019-_."},
		{"a*b", "a%2Ab"},
		{"a~b", "a~b"},
		{"a b", "a%20b"},
		{"a+b/c", "a%2Bb%2Fc"},
		{"解析", "%E8%A7%A3%E6%9E%90"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PercentEncode(tt.in), tt.in)
	}
}

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/", canonicalPath(""))
	assert.Equal(t, "/", canonicalPath("/"))
	assert.Equal(t, "/v2/zones/a%2Ab~c", canonicalPath("/v2/zones/a*b~c"))
}
