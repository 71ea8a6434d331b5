package config

import (
	"fmt"
	"mqtt-session/application"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBroker         = "ssl://localhost:8883"
	DefaultPayloadPrefix  = "Hello world! "
	DefaultPublishCount   = 5
	DefaultSubscribeQoS   = int(application.AtLeastOnce)
	DefaultWillTopic      = "test"
	DefaultWillPayload    = "Consumer lost connection"
	RetryStrategyFixed    = "fixed"
	RetryStrategyBackoff  = "backoff"
	defaultBackoffMaxWait = 2 * time.Minute
)

var DefaultTopics = []string{"rust/mqtt", "rust/test"}

// Config is the full process configuration. It is assembled from built-in
// defaults, an optional YAML file and finally command line flags.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	TLS       TLSConfig       `yaml:"tls"`
	Session   SessionConfig   `yaml:"session"`
	Will      WillConfig      `yaml:"will"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Subscribe SubscribeConfig `yaml:"subscribe"`
	Publish   PublishConfig   `yaml:"publish"`
}

type BrokerConfig struct {
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TLSConfig struct {
	TrustStore         string `yaml:"trust_store"`
	KeyStore           string `yaml:"key_store"`
	PrivateKey         string `yaml:"private_key"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type SessionConfig struct {
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CleanSession   bool          `yaml:"clean_session"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type WillConfig struct {
	Topic    string `yaml:"topic"`
	Payload  string `yaml:"payload"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

type ReconnectConfig struct {
	Strategy    string        `yaml:"strategy"`
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type SubscribeConfig struct {
	Topics []string `yaml:"topics"`
	QoS    []int    `yaml:"qos"`
}

type PublishConfig struct {
	Topics        []string `yaml:"topics"`
	QoS           int      `yaml:"qos"`
	Count         int      `yaml:"count"`
	PayloadPrefix string   `yaml:"payload_prefix"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL: DefaultBroker,
		},
		Session: SessionConfig{
			KeepAlive:      application.DefaultKeepAlive,
			ConnectTimeout: application.DefaultConnectTimeout,
			ReportInterval: application.DefaultReportInterval,
		},
		Will: WillConfig{
			Topic:   DefaultWillTopic,
			Payload: DefaultWillPayload,
			QoS:     int(application.AtLeastOnce),
		},
		Reconnect: ReconnectConfig{
			Strategy:    RetryStrategyFixed,
			MaxAttempts: application.DefaultMaxAttempts,
			Delay:       application.DefaultRetryDelay,
			MaxDelay:    defaultBackoffMaxWait,
		},
		Subscribe: SubscribeConfig{
			Topics: append([]string(nil), DefaultTopics...),
			QoS:    []int{0, 1},
		},
		Publish: PublishConfig{
			Topics:        append([]string(nil), DefaultTopics...),
			QoS:           int(application.AtLeastOnce),
			Count:         DefaultPublishCount,
			PayloadPrefix: DefaultPayloadPrefix,
		},
	}
}

// Load reads a YAML file on top of the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", application.ErrConfig, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", application.ErrConfig, err)
	}

	return cfg, nil
}

// DefaultClientID returns a client identifier unique to this process.
func DefaultClientID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("%w: broker url is required", application.ErrConfig)
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("%w: reconnect max attempts must be at least 1", application.ErrConfig)
	}
	if c.Reconnect.Delay < 0 {
		return fmt.Errorf("%w: reconnect delay cannot be negative", application.ErrConfig)
	}
	switch c.Reconnect.Strategy {
	case RetryStrategyFixed, RetryStrategyBackoff:
	default:
		return fmt.Errorf("%w: unknown reconnect strategy %q", application.ErrConfig, c.Reconnect.Strategy)
	}
	if c.Session.ReportInterval <= 0 {
		return fmt.Errorf("%w: report interval must be positive", application.ErrConfig)
	}
	return nil
}

// ConnectionOptions converts the broker, session, will and TLS sections.
// withWill controls whether a last-will message is attached.
func (c *Config) ConnectionOptions(withWill bool) (application.ConnectionOptions, error) {
	opts := application.ConnectionOptions{
		BrokerURL:      c.Broker.URL,
		ClientID:       c.Broker.ClientID,
		Username:       c.Broker.Username,
		Password:       c.Broker.Password,
		KeepAlive:      c.Session.KeepAlive,
		ConnectTimeout: c.Session.ConnectTimeout,
		CleanSession:   c.Session.CleanSession,
		TLS: application.TLSOptions{
			TrustStore:         c.TLS.TrustStore,
			KeyStore:           c.TLS.KeyStore,
			PrivateKey:         c.TLS.PrivateKey,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
	}

	if withWill && c.Will.Topic != "" {
		qos, err := application.ParseQoS(c.Will.QoS)
		if err != nil {
			return opts, fmt.Errorf("%w: will: %w", application.ErrConfig, err)
		}
		opts.Will = &application.Message{
			Topic:    c.Will.Topic,
			Payload:  []byte(c.Will.Payload),
			QoS:      qos,
			Retained: c.Will.Retained,
		}
	}

	opts.EnsureDefaults()
	return opts, opts.Validate()
}

// Subscriptions returns the configured topics and their qos levels. Either
// one qos is given per topic, or a single qos applies to every topic.
func (c *Config) Subscriptions() ([]string, []application.QoS, error) {
	levels := c.Subscribe.QoS
	if len(levels) == 1 && len(c.Subscribe.Topics) > 1 {
		levels = make([]int, len(c.Subscribe.Topics))
		for i := range levels {
			levels[i] = c.Subscribe.QoS[0]
		}
	}

	if len(c.Subscribe.Topics) != len(levels) {
		return nil, nil, fmt.Errorf("%w: %w: %d topics, %d qos",
			application.ErrConfig, application.ErrMismatchedLengths, len(c.Subscribe.Topics), len(levels))
	}

	qos := make([]application.QoS, len(levels))
	for i, v := range levels {
		q, err := application.ParseQoS(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", application.ErrConfig, err)
		}
		qos[i] = q
	}
	return c.Subscribe.Topics, qos, nil
}

func (c *Config) RetryPolicy() application.RetryPolicy {
	if c.Reconnect.Strategy == RetryStrategyBackoff {
		return &application.BackoffRetryPolicy{
			Attempts: c.Reconnect.MaxAttempts,
			Min:      c.Reconnect.Delay,
			Max:      c.Reconnect.MaxDelay,
			Factor:   2,
			Jitter:   true,
		}
	}
	return application.NewFixedRetryPolicy(c.Reconnect.MaxAttempts, c.Reconnect.Delay)
}
