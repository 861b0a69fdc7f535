package coordinator

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/caasmo/certrenew/account"
	"github.com/caasmo/certrenew/certutil"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
)

// LeafResult is what a successful issuance yields, already parsed into the
// fields CertRecord stores directly (spec §4.6 step 11).
type LeafResult struct {
	CertPEM      []byte
	ChainPEM     [][]byte
	SerialNumber string
	Fingerprint  string
	AltNames     []string
	ValidFrom    time.Time
	ValidTo      time.Time
}

// Issuer runs one ACME order for a single-domain CSR (spec §4.6 steps 8-10).
// It is the seam at which the ACME client library — an external
// collaborator per spec §1 — is invoked; tests substitute a fake so the
// coordinator's own logic is exercised without real network or CA traffic.
type Issuer interface {
	Obtain(ctx context.Context, acc *account.Account, domain string, csrDER []byte) (*LeafResult, error)
}

// http01Provider is the subset of lego's challenge.Provider interface
// LegoIssuer needs; satisfied structurally by *challenge.Provider.
type http01Provider interface {
	Present(domain, token, keyAuth string) error
	CleanUp(domain, token, keyAuth string) error
}

// LegoIssuer implements Issuer against a real ACME directory using
// go-acme/lego (spec §1: "treat it as a library with the contract given in
// §6"), registering the given HTTP-01 provider on each fresh client so
// challenge answers flow through this module's own challenge.Store.
type LegoIssuer struct {
	directoryURL string
	provider     http01Provider
}

// NewLegoIssuer returns a LegoIssuer targeting directoryURL, presenting
// HTTP-01 challenges through provider.
func NewLegoIssuer(directoryURL string, provider http01Provider) *LegoIssuer {
	return &LegoIssuer{directoryURL: directoryURL, provider: provider}
}

// Obtain builds a lego client bound to acc, orders a certificate for the
// CSR, and parses the resulting leaf (spec §4.6 steps 8-10; step 7, CSR
// construction, is the caller's responsibility via certutil.BuildCSR).
func (i *LegoIssuer) Obtain(ctx context.Context, acc *account.Account, domain string, csrDER []byte) (*LeafResult, error) {
	u := account.NewUser(acc)
	cfg := lego.NewConfig(u)
	cfg.CADirURL = i.directoryURL
	cfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("coordinator: init acme client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(i.provider); err != nil {
		return nil, fmt.Errorf("coordinator: set http-01 provider: %w", err)
	}

	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("coordinator: parse csr: %w", err)
	}

	resource, err := client.Certificate.ObtainForCSR(certificate.ObtainForCSRRequest{
		CSR:    csr,
		Bundle: true,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: obtain certificate for %q: %w", domain, err)
	}
	if resource == nil || len(resource.Certificate) == 0 {
		return nil, nil
	}

	leaf, err := certutil.ParseLeaf(resource.Certificate)
	if err != nil {
		return nil, fmt.Errorf("coordinator: parse issued leaf: %w", err)
	}

	return &LeafResult{
		CertPEM:      resource.Certificate,
		ChainPEM:     [][]byte{resource.IssuerCertificate},
		SerialNumber: leaf.SerialNumber,
		Fingerprint:  leaf.Fingerprint,
		AltNames:     leaf.AltNames,
		ValidFrom:    leaf.ValidFrom,
		ValidTo:      leaf.ValidTo,
	}, nil
}
