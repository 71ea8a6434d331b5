package application

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultKeepAlive      = 20 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// TLSOptions references the certificate material used for the encrypted
// transport. Files are loaded by the transport, not by the session.
type TLSOptions struct {
	// TrustStore is the PEM bundle of CAs used to verify the broker.
	TrustStore string
	// KeyStore is the PEM client certificate chain.
	KeyStore string
	// PrivateKey is the PEM private key matching KeyStore.
	PrivateKey string

	InsecureSkipVerify bool
}

func (t TLSOptions) Enabled() bool {
	return t.TrustStore != "" || t.KeyStore != "" || t.PrivateKey != "" || t.InsecureSkipVerify
}

// ConnectionOptions describes one logical session against the broker.
type ConnectionOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	CleanSession   bool

	// Will is published by the broker if the client goes away uncleanly.
	Will *Message

	TLS TLSOptions
}

// EnsureDefaults fills zero durations with their defaults.
func (o *ConnectionOptions) EnsureDefaults() {
	if o.KeepAlive == 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
}

func (o ConnectionOptions) Validate() error {
	if o.BrokerURL == "" {
		return fmt.Errorf("%w: broker url is required", ErrConfig)
	}
	u, err := url.Parse(o.BrokerURL)
	if err != nil {
		return fmt.Errorf("%w: broker url: %v", ErrConfig, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: broker url %q must look like scheme://host:port", ErrConfig, o.BrokerURL)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrConfig)
	}
	if o.KeepAlive < 0 {
		return fmt.Errorf("%w: keep alive cannot be negative", ErrConfig)
	}
	if o.Will != nil {
		if o.Will.Topic == "" {
			return fmt.Errorf("%w: will: %w", ErrConfig, ErrInvalidTopic)
		}
		if !o.Will.QoS.Valid() {
			return fmt.Errorf("%w: will: %w", ErrConfig, ErrInvalidQoS)
		}
	}
	if (o.TLS.KeyStore == "") != (o.TLS.PrivateKey == "") {
		return fmt.Errorf("%w: key store and private key must be set together", ErrConfig)
	}
	return nil
}
