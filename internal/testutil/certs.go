// Package testutil provides signing identities for tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Password protects every generated key store.
const Password = "s3cr3t"

// Identity is a throwaway RSA key with a self-signed certificate.
type Identity struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
	PFX         []byte
	Password    string
}

// CertPool returns a pool containing only the identity certificate.
func (id *Identity) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(id.Certificate)
	return pool
}

// NewIdentity creates an identity valid from yesterday to tomorrow.
func NewIdentity(t testing.TB) *Identity {
	t.Helper()
	now := time.Now()
	return NewIdentityWithValidity(t, now.Add(-24*time.Hour), now.Add(24*time.Hour))
}

// NewIdentityWithValidity creates an identity with the given validity window.
func NewIdentityWithValidity(t testing.TB, notBefore, notAfter time.Time) *Identity {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "EMPRESA TESTE LTDA:12345678000199",
			Organization: []string{"ICP-Brasil"},
			Country:      []string{"BR"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	pfx, err := pkcs12.Modern.Encode(key, cert, nil, Password)
	if err != nil {
		t.Fatalf("encode pkcs12: %v", err)
	}

	return &Identity{Key: key, Certificate: cert, PFX: pfx, Password: Password}
}

// TrustStore encodes certificates without a private key.
func TrustStore(t testing.TB, certs ...*x509.Certificate) []byte {
	t.Helper()
	pfx, err := pkcs12.Modern.EncodeTrustStore(certs, Password)
	if err != nil {
		t.Fatalf("encode trust store: %v", err)
	}
	return pfx
}
