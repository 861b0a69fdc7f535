// Package certutil implements the supporting certificate utilities spec §2
// item 9 calls out separately from the coordinator: RSA key generation, CSR
// construction, and parsing an issued leaf certificate into the fields
// CertRecord needs (serialNumber, fingerprint, altNames, validFrom, validTo).
package certutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"
)

// DefaultKeyBits and DefaultExponent are the RSA parameters spec §4.4 names
// for ACME account keys; the coordinator uses the same defaults for leaf
// certificate keys unless overridden.
const (
	DefaultKeyBits    = 2048
	DefaultExponent   = 65537
	pemPrivateKeyType = "RSA PRIVATE KEY"
)

// GenerateKey returns a new RSA private key of the given bit size. RSA
// keygen is CPU-heavy and must be run off any request-handling goroutine
// (spec §4.6: "RSA keygen (offloaded)") — callers are expected to invoke
// this from a worker, not inline in a hot path.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("certutil: generate key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM serializes an RSA private key to PKCS#1 PEM, the form
// persisted (encrypted) as domain:<D>:privateKey.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	block := &pem.Block{Type: pemPrivateKeyType, Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return pem.EncodeToMemory(block)
}

// DecodePrivateKeyPEM parses a PKCS#1 PEM-encoded RSA private key.
func DecodePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certutil: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse private key: %w", err)
	}
	return key, nil
}

// BuildCSR constructs a DER-encoded PKCS#10 certificate request for a single
// domain, signed by key (spec non-goal: "no multi-SAN or wildcard
// certificates — each certificate covers exactly one domain").
func BuildCSR(domain string, key *rsa.PrivateKey) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domain},
		DNSNames: []string{domain},
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("certutil: create csr for %q: %w", domain, err)
	}
	return csr, nil
}

// LeafInfo is the subset of an issued leaf certificate CertRecord stores
// directly (spec §3: "serialNumber, fingerprint, altNames[]: parsed from
// cert").
type LeafInfo struct {
	SerialNumber string
	Fingerprint  string
	AltNames     []string
	ValidFrom    time.Time
	ValidTo      time.Time
}

// ParseLeaf extracts LeafInfo from a PEM-encoded leaf certificate.
func ParseLeaf(certPEM []byte) (LeafInfo, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return LeafInfo{}, fmt.Errorf("certutil: no PEM block found in leaf certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return LeafInfo{}, fmt.Errorf("certutil: parse leaf certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	return LeafInfo{
		SerialNumber: cert.SerialNumber.String(),
		Fingerprint:  hex.EncodeToString(sum[:]),
		AltNames:     cert.DNSNames,
		ValidFrom:    cert.NotBefore.UTC(),
		ValidTo:      cert.NotAfter.UTC(),
	}, nil
}
