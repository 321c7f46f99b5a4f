package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssl-dns01/internal/config"
	"ssl-dns01/internal/storage"
)

type memStore struct {
	account *storage.Account
	key     []byte
	err     error
	saved   int
}

func (m *memStore) LoadAccount(directory string) (*storage.Account, []byte, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	if m.account == nil {
		return nil, nil, storage.ErrNotFound
	}
	return m.account, m.key, nil
}

func (m *memStore) SaveAccount(account *storage.Account, keyPEM []byte) error {
	m.account, m.key = account, keyPEM
	m.saved++
	return nil
}

func testConfig() config.ACMEConfig {
	return config.ACMEConfig{Email: "ops@example.com", Directory: "https://acme.invalid/directory"}
}

func TestAccountReusesStoredRegistration(t *testing.T) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	require.NoError(t, err)

	store := &memStore{
		account: &storage.Account{
			Email:        "ops@example.com",
			Directory:    "https://acme.invalid/directory",
			Registration: &registration.Resource{URI: "https://acme.invalid/acct/7"},
		},
		key: certcrypto.PEMEncode(key),
	}
	issuer := NewIssuer(testConfig(), store, nil)

	// 已注册的账号不会访问 ACME 服务器
	require.NoError(t, issuer.CreateAccount(context.Background()))
	assert.Equal(t, "https://acme.invalid/acct/7", issuer.user.GetRegistration().URI)
	assert.Equal(t, "ops@example.com", issuer.user.GetEmail())
	assert.Equal(t, 0, store.saved)
}

func TestLoadUserEmailMismatchCreatesNewKey(t *testing.T) {
	store := &memStore{
		account: &storage.Account{Email: "old@example.com", Registration: &registration.Resource{URI: "x"}},
		key:     []byte("unused"),
	}
	issuer := NewIssuer(testConfig(), store, nil)

	u, err := issuer.loadUser()
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", u.GetEmail())
	assert.Nil(t, u.GetRegistration())
	assert.IsType(t, &ecdsa.PrivateKey{}, u.GetPrivateKey())
}

func TestLoadUserStoreError(t *testing.T) {
	issuer := NewIssuer(testConfig(), &memStore{err: errors.New("磁盘错误")}, nil)
	_, err := issuer.loadUser()
	assert.EqualError(t, err, "磁盘错误")
}

func TestCreateAccountHonoursCancelledContext(t *testing.T) {
	issuer := NewIssuer(testConfig(), &memStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, issuer.CreateAccount(ctx), context.Canceled)
}

func TestParseKeyType(t *testing.T) {
	tests := map[string]certcrypto.KeyType{
		"":        certcrypto.EC256,
		"EC384":   certcrypto.EC384,
		"rsa2048": certcrypto.RSA2048,
		"rsa4096": certcrypto.RSA4096,
	}
	for name, want := range tests {
		got, err := ParseKeyType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseKeyType("dsa")
	assert.Error(t, err)
}

func pemCert(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestToCertificateSplitsLeaf(t *testing.T) {
	leaf := pemCert(t, "example.com")
	issuerCert := pemCert(t, "Test CA")

	cert, err := toCertificate(&certificate.Resource{
		Certificate:       append(append([]byte{}, leaf...), issuerCert...),
		PrivateKey:        []byte("KEY"),
		IssuerCertificate: issuerCert,
	})
	require.NoError(t, err)

	assert.Equal(t, string(leaf), cert.Certificate)
	assert.Equal(t, string(leaf)+string(issuerCert), cert.Chain)
	assert.Equal(t, string(issuerCert), cert.Issuer)
	assert.Equal(t, "KEY", cert.PrivateKey)
}
