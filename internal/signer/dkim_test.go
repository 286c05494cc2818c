package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessage = "From: sender@example.com\r\n" +
	"To: rcpt@example.org\r\n" +
	"Subject: DKIM test\r\n" +
	"Date: Mon, 19 Oct 2026 10:00:00 +0000\r\n" +
	"Message-Id: <dkim-test@example.com>\r\n" +
	"Mime-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello, signed world.\r\n"

func generateRSAKey(t *testing.T) ([]byte, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	return keyPEM, "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pub)
}

func generateEd25519Key(t *testing.T) ([]byte, string) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return keyPEM, "v=DKIM1; k=ed25519; p=" + base64.StdEncoding.EncodeToString(pub)
}

func verify(t *testing.T, signed []byte, record string) []*dkim.Verification {
	t.Helper()

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != "mail._domainkey.example.com" {
				return nil, errors.New("unexpected lookup " + domain)
			}
			return []string{record}, nil
		},
	})
	require.NoError(t, err)
	return verifications
}

func TestDKIM_SignRSA(t *testing.T) {
	t.Parallel()

	key, record := generateRSAKey(t)
	s, err := NewDKIM(DKIMConfig{PrivateKey: key, Domain: "example.com", Selector: "mail"})
	require.NoError(t, err)

	signed, err := s.Sign([]byte(testMessage))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(signed), "DKIM-Signature:"))
	assert.Contains(t, string(signed), "d=example.com")
	assert.Contains(t, string(signed), "s=mail")

	verifications := verify(t, signed, record)
	require.Len(t, verifications, 1)
	assert.NoError(t, verifications[0].Err)
}

func TestDKIM_SignEd25519(t *testing.T) {
	t.Parallel()

	key, record := generateEd25519Key(t)
	s, err := NewDKIM(DKIMConfig{PrivateKey: key, Domain: "example.com", Selector: "mail"})
	require.NoError(t, err)

	signed, err := s.Sign([]byte(testMessage))
	require.NoError(t, err)

	verifications := verify(t, signed, record)
	require.Len(t, verifications, 1)
	assert.NoError(t, verifications[0].Err)
}

func TestNewDKIM_Errors(t *testing.T) {
	t.Parallel()

	key, _ := generateRSAKey(t)

	tests := []struct {
		name string
		cfg  DKIMConfig
	}{
		{name: "missing domain", cfg: DKIMConfig{PrivateKey: key, Selector: "mail"}},
		{name: "missing selector", cfg: DKIMConfig{PrivateKey: key, Domain: "example.com"}},
		{name: "not PEM", cfg: DKIMConfig{PrivateKey: []byte("nope"), Domain: "example.com", Selector: "mail"}},
		{
			name: "wrong block type",
			cfg: DKIMConfig{
				PrivateKey: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}}),
				Domain:     "example.com",
				Selector:   "mail",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewDKIM(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoadDKIMConfig(t *testing.T) {
	t.Parallel()

	key, _ := generateRSAKey(t)
	path := filepath.Join(t.TempDir(), "dkim.pem")
	require.NoError(t, os.WriteFile(path, key, 0o600))

	cfg, err := LoadDKIMConfig(path, "example.com", "mail")
	require.NoError(t, err)
	assert.Equal(t, key, cfg.PrivateKey)
	assert.Equal(t, "example.com", cfg.Domain)
	assert.Equal(t, "mail", cfg.Selector)

	_, err = LoadDKIMConfig(filepath.Join(t.TempDir(), "missing.pem"), "example.com", "mail")
	assert.Error(t, err)
}
