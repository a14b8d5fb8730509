// =============================================================================
// Reinf Transmitter - Signing Engine
// =============================================================================
//
// This module applies an enveloped XML-DSig signature to an event document.
//
// SIGNING STEPS:
//   1. Decode the key store (keystore.Open)
//   2. Locate the root event element; it must carry a non-empty "id"
//   3. Canonicalize it (C14N 1.0 inclusive), digest with SHA-256
//   4. Sign the canonical SignedInfo with RSA-SHA256
//   5. Append <Signature> as the last child of the event element
//
// The document is never re-indented after signing: the bytes that were
// digested are the bytes that are transmitted.
//
// =============================================================================

package signer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/ginjaninja78/reinf-transmitter/internal/keystore"
)

// IDAttribute is the attribute the signature reference points at.
const IDAttribute = "id"

var (
	// ErrMissingSignatureAnchor means the event element has no id attribute.
	ErrMissingSignatureAnchor = errors.New("event element has no id attribute to anchor the signature")

	// ErrUnsupportedKey means the key store holds a non-RSA key.
	ErrUnsupportedKey = errors.New("signing key is not an RSA key")

	// ErrInvalidSignature is returned by Verify.
	ErrInvalidSignature = errors.New("signature verification failed")
)

// keyStore adapts a decoded key to dsig.X509KeyStore.
type keyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (ks keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.key, ks.cert, nil
}

// Sign decodes the key store and signs doc. The decoded key is destroyed
// before Sign returns.
func Sign(doc, keystoreBlob []byte, password string) ([]byte, error) {
	bundle, err := keystore.Open(keystoreBlob, password)
	if err != nil {
		return nil, err
	}
	defer bundle.Destroy()

	return SignWith(doc, bundle)
}

// SignWith signs doc with an already decoded bundle.
func SignWith(doc []byte, bundle *keystore.Bundle) ([]byte, error) {
	key, ok := bundle.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}

	tree, el, err := anchor(doc)
	if err != nil {
		return nil, err
	}

	ctx := dsig.NewDefaultSigningContext(keyStore{key: key, cert: bundle.Certificate.Raw})
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	ctx.IdAttribute = IDAttribute
	ctx.Prefix = ""
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, fmt.Errorf("failed to set signature method: %w", err)
	}

	signed, err := ctx.SignEnveloped(el)
	if err != nil {
		return nil, fmt.Errorf("failed to sign event: %w", err)
	}

	parent := el.Parent()
	idx := el.Index()
	parent.RemoveChildAt(idx)
	parent.InsertChildAt(idx, signed)

	out, err := tree.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed document: %w", err)
	}
	return out, nil
}

// Verify checks the enveloped signature of signed against trusted
// certificates.
func Verify(signed []byte, trusted ...*x509.Certificate) error {
	_, el, err := anchor(signed)
	if err != nil {
		return err
	}

	ctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{Roots: trusted})
	ctx.IdAttribute = IDAttribute

	if _, err := ctx.Validate(el); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// EmbeddedCertificate returns the certificate carried in the signature's
// KeyInfo.
func EmbeddedCertificate(signed []byte) (*x509.Certificate, error) {
	_, el, err := anchor(signed)
	if err != nil {
		return nil, err
	}

	node := el.FindElement("./Signature/KeyInfo/X509Data/X509Certificate")
	if node == nil {
		return nil, errors.New("document carries no signing certificate")
	}

	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(node.Text()), ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// anchor parses doc and returns the first child of the root element, which
// must carry the id attribute.
func anchor(doc []byte) (*etree.Document, *etree.Element, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse document: %w", err)
	}

	root := tree.Root()
	if root == nil {
		return nil, nil, errors.New("document has no root element")
	}

	children := root.ChildElements()
	if len(children) == 0 {
		return nil, nil, ErrMissingSignatureAnchor
	}

	el := children[0]
	if el.SelectAttrValue(IDAttribute, "") == "" {
		return nil, nil, ErrMissingSignatureAnchor
	}
	return tree, el, nil
}
