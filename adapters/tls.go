package adapters

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"mqtt-session/application"
	"os"
)

var (
	errLoadCerts      = errors.New("failed to load key store and private key")
	errLoadTrustStore = errors.New("failed to load trust store")
	errAppendCA       = errors.New("trust store contains no PEM certificates")
)

// LoadTLSConfig builds the client TLS configuration from the referenced PEM
// files. It returns nil when TLS is not enabled.
func LoadTLSConfig(opts application.TLSOptions) (*tls.Config, error) {
	if !opts.Enabled() {
		return nil, nil
	}

	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if opts.KeyStore != "" || opts.PrivateKey != "" {
		certificate, err := tls.LoadX509KeyPair(opts.KeyStore, opts.PrivateKey)
		if err != nil {
			return nil, errors.Join(errLoadCerts, err)
		}
		config.Certificates = []tls.Certificate{certificate}
	}

	if opts.TrustStore != "" {
		rootCA, err := os.ReadFile(opts.TrustStore)
		if err != nil {
			return nil, errors.Join(errLoadTrustStore, err)
		}
		config.RootCAs = x509.NewCertPool()
		if !config.RootCAs.AppendCertsFromPEM(rootCA) {
			return nil, errAppendCA
		}
	}

	return config, nil
}
