// =============================================================================
// Reinf Transmitter - Key Store Module
// =============================================================================
//
// This module decodes the password-protected PKCS#12 container (.pfx / .p12)
// that holds the signer's private key and certificate.
//
// FAILURE MODES:
//   - ErrInvalidKeystoreFormat : the blob is not a PKCS#12 container
//   - ErrWrongPassword         : the integrity check fails under the password
//   - ErrNoPrivateKey          : the container has no key bag
//   - ErrNoCertificate         : the container has no certificate bag
//
// The decoded key is a high-value secret: callers hold the Bundle only for
// the signing or transmission call and release it with Destroy.
//
// =============================================================================

package keystore

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrInvalidKeystoreFormat = errors.New("invalid keystore format")
	ErrWrongPassword         = errors.New("wrong keystore password")
	ErrNoPrivateKey          = errors.New("keystore has no private key")
	ErrNoCertificate         = errors.New("keystore has no certificate")

	ErrCertificateExpired     = errors.New("certificate expired")
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")
)

// Error is a key-store decoding failure. Kind is one of the Err* sentinels
// above; Err is the underlying decoder error.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Is matches the failure kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Unwrap returns the decoder error.
func (e *Error) Unwrap() error { return e.Err }

// classify maps a decoder error onto a failure kind.
func classify(err error) *Error {
	msg := err.Error()
	switch {
	case errors.Is(err, pkcs12.ErrIncorrectPassword):
		return &Error{Kind: ErrWrongPassword, Err: err}
	case strings.Contains(msg, "private key missing"):
		return &Error{Kind: ErrNoPrivateKey, Err: err}
	case strings.Contains(msg, "certificate missing"):
		return &Error{Kind: ErrNoCertificate, Err: err}
	default:
		return &Error{Kind: ErrInvalidKeystoreFormat, Err: err}
	}
}

// =============================================================================
// BUNDLE
// =============================================================================

// Bundle is a decoded key store.
type Bundle struct {
	// Key is the signer's private key.
	Key any

	// Certificate is the certificate matching Key.
	Certificate *x509.Certificate

	// Chain holds any additional certificates found in the container.
	Chain []*x509.Certificate
}

// Open decodes a PKCS#12 blob.
func Open(blob []byte, password string) (*Bundle, error) {
	if len(blob) == 0 {
		return nil, &Error{Kind: ErrInvalidKeystoreFormat, Err: errors.New("empty keystore")}
	}

	key, cert, chain, err := pkcs12.DecodeChain(blob, password)
	if err != nil {
		return nil, classify(err)
	}
	if key == nil {
		return nil, &Error{Kind: ErrNoPrivateKey}
	}
	if cert == nil {
		return nil, &Error{Kind: ErrNoCertificate}
	}

	return &Bundle{Key: key, Certificate: cert, Chain: chain}, nil
}

// OpenFile reads and decodes a key-store file.
func OpenFile(path, password string) (*Bundle, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	return Open(blob, password)
}

// DecodeBase64 decodes a base64 key store, accepting a "data:...;base64,"
// prefix and embedded line breaks.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	s = strings.Join(strings.Fields(s), "")

	blob, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidKeystoreFormat, Err: err}
	}
	return blob, nil
}

// TLSCertificate returns the client certificate for mutual TLS.
func (b *Bundle) TLSCertificate() tls.Certificate {
	chain := [][]byte{b.Certificate.Raw}
	for _, c := range b.Chain {
		chain = append(chain, c.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  b.Key,
		Leaf:        b.Certificate,
	}
}

// CheckValidity reports whether the certificate is valid at now.
func (b *Bundle) CheckValidity(now time.Time) error {
	if now.Before(b.Certificate.NotBefore) {
		return ErrCertificateNotYetValid
	}
	if now.After(b.Certificate.NotAfter) {
		return ErrCertificateExpired
	}
	return nil
}

// Destroy zeroes the private key material and drops the key.
func (b *Bundle) Destroy() {
	if b == nil {
		return
	}
	if key, ok := b.Key.(*rsa.PrivateKey); ok && key != nil {
		zero(key.D)
		for _, p := range key.Primes {
			zero(p)
		}
		zero(key.Precomputed.Dp)
		zero(key.Precomputed.Dq)
		zero(key.Precomputed.Qinv)
	}
	b.Key = nil
}

func zero(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}

// =============================================================================
// CERTIFICATE INFO
// =============================================================================

// Info describes the certificate of a bundle.
type Info struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serialNumber"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidTo      time.Time `json:"validTo"`
}

// Info returns the certificate description.
func (b *Bundle) Info() Info {
	c := b.Certificate
	return Info{
		Subject:      c.Subject.String(),
		Issuer:       c.Issuer.String(),
		SerialNumber: c.SerialNumber.String(),
		ValidFrom:    c.NotBefore.UTC(),
		ValidTo:      c.NotAfter.UTC(),
	}
}
