package adapters

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"mqtt-session/application"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a certificate and its key as PEM files into dir.
func writeSelfSigned(t *testing.T, dir string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certPath, keyPath
}

func TestLoadTLSConfig_Disabled(t *testing.T) {
	config, err := LoadTLSConfig(application.TLSOptions{})
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestLoadTLSConfig(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())

	config, err := LoadTLSConfig(application.TLSOptions{
		TrustStore: certPath,
		KeyStore:   certPath,
		PrivateKey: keyPath,
	})
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, uint16(tls.VersionTLS12), config.MinVersion)
	assert.Len(t, config.Certificates, 1)
	assert.NotNil(t, config.RootCAs)
	assert.Equal(t, false, config.InsecureSkipVerify)
}

func TestLoadTLSConfig_InsecureOnly(t *testing.T) {
	config, err := LoadTLSConfig(application.TLSOptions{InsecureSkipVerify: true})
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, true, config.InsecureSkipVerify)
	assert.Nil(t, config.RootCAs)
}

func TestLoadTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0600))

	_, err := LoadTLSConfig(application.TLSOptions{KeyStore: certPath, PrivateKey: filepath.Join(dir, "missing.pem")})
	assert.ErrorIs(t, err, errLoadCerts)

	_, err = LoadTLSConfig(application.TLSOptions{KeyStore: certPath, PrivateKey: keyPath, TrustStore: filepath.Join(dir, "missing.pem")})
	assert.ErrorIs(t, err, errLoadTrustStore)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadTLSConfig(application.TLSOptions{TrustStore: garbage})
	assert.ErrorIs(t, err, errAppendCA)
}
