package signer

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
)

// defaultSignedHeaders are signed when DKIMConfig.Headers is empty.
var defaultSignedHeaders = []string{
	"From", "Reply-To", "Subject", "Date", "To", "Cc",
	"Message-Id", "Mime-Version", "Content-Type",
}

// DKIMConfig holds everything needed to DKIM-sign outgoing mail.
type DKIMConfig struct {
	// PrivateKey is a PEM-encoded RSA (PKCS#1 or PKCS#8) or Ed25519 (PKCS#8) key.
	PrivateKey []byte
	Domain     string
	Selector   string
	// Headers lists the header fields to sign.
	Headers []string
}

// LoadDKIMConfig reads the private key at keyPath.
func LoadDKIMConfig(keyPath, domain, selector string) (DKIMConfig, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return DKIMConfig{}, fmt.Errorf("failed to read DKIM key from %s: %w", keyPath, err)
	}
	return DKIMConfig{
		PrivateKey: key,
		Domain:     domain,
		Selector:   selector,
	}, nil
}

// DKIM signs messages with go-msgauth.
type DKIM struct {
	options dkim.SignOptions
}

// NewDKIM parses the key in cfg and prepares the signing options.
func NewDKIM(cfg DKIMConfig) (*DKIM, error) {
	if cfg.Domain == "" {
		return nil, errors.New("DKIM domain is required")
	}
	if cfg.Selector == "" {
		return nil, errors.New("DKIM selector is required")
	}

	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	headers := cfg.Headers
	if len(headers) == 0 {
		headers = defaultSignedHeaders
	}

	return &DKIM{
		options: dkim.SignOptions{
			Domain:                 cfg.Domain,
			Selector:               cfg.Selector,
			Signer:                 key,
			HeaderCanonicalization: dkim.CanonicalizationRelaxed,
			BodyCanonicalization:   dkim.CanonicalizationRelaxed,
			HeaderKeys:             headers,
		},
	}, nil
}

// Sign prepends a DKIM-Signature header to raw.
func (d *DKIM) Sign(raw []byte) ([]byte, error) {
	options := d.options

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), &options); err != nil {
		return nil, fmt.Errorf("failed to DKIM-sign message: %w", err)
	}
	return signed.Bytes(), nil
}

// Domain returns the signing domain.
func (d *DKIM) Domain() string {
	return d.options.Domain
}

// Selector returns the DNS selector.
func (d *DKIM) Selector() string {
	return d.options.Selector
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
		}
		s, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}
