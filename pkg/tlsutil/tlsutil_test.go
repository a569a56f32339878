package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domody/syris/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// setupTestFiles writes a cert, its key and the same cert as a CA.
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644))
	return certFile, keyFile, caFile
}

func TestLoadClientConfig_Zero(t *testing.T) {
	cfg, err := LoadClientConfig(ClientConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	tests := []struct {
		name       string
		cfg        ClientConfig
		minVersion uint16
		insecure   bool
		certs      int
	}{
		{"min version only", ClientConfig{MinVersion: "1.3"}, tls.VersionTLS13, false, 0},
		{"extra CA", ClientConfig{CAFiles: []string{caFile}}, tls.VersionTLS12, false, 0},
		{"insecure", ClientConfig{InsecureSkipVerify: true}, tls.VersionTLS12, true, 0},
		{"client certificate", ClientConfig{CertFile: certFile, KeyFile: keyFile}, tls.VersionTLS12, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientConfig(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.minVersion, got.MinVersion)
			assert.Equal(t, tt.insecure, got.InsecureSkipVerify)
			assert.NotNil(t, got.RootCAs)
			assert.Len(t, got.Certificates, tt.certs)
		})
	}
}

func TestLoadClientConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not pem"), 0644))

	tests := []struct {
		name    string
		cfg     ClientConfig
		invalid bool
	}{
		{"missing CA file", ClientConfig{CAFiles: []string{filepath.Join(dir, "nope.pem")}}, false},
		{"bad PEM", ClientConfig{CAFiles: []string{junk}}, false},
		{"bad min version", ClientConfig{MinVersion: "1.0"}, true},
		{"cert without key", ClientConfig{CertFile: junk}, true},
		{"unreadable key pair", ClientConfig{CertFile: junk, KeyFile: junk}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadClientConfig(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.IsInvalid(err))
		})
	}
}
