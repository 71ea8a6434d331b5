package main

import (
	"mqtt-session/application"
	"mqtt-session/config"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfig = &cli.StringFlag{
	Name:    "config",
	Usage:   "optional yaml config file, flags take precedence",
	EnvVars: []string{"CONFIG_FILE"},
}

var FlagBroker = &cli.StringFlag{
	Name:    "broker",
	Usage:   "ssl://broker:port",
	EnvVars: []string{"BROKER"},
	Value:   config.DefaultBroker,
}

var FlagClientID = &cli.StringFlag{
	Name:    "client-id",
	Usage:   "generated when empty",
	EnvVars: []string{"CLIENT_ID"},
}

var FlagUsername = &cli.StringFlag{
	Name:    "username",
	EnvVars: []string{"MQTT_USERNAME"},
}

var FlagPassword = &cli.StringFlag{
	Name:    "password",
	EnvVars: []string{"MQTT_PASSWORD"},
}

var FlagTrustStore = &cli.StringFlag{
	Name:    "trust-store",
	Usage:   "PEM file with the CA certificates used to verify the broker",
	EnvVars: []string{"TRUST_STORE"},
}

var FlagKeyStore = &cli.StringFlag{
	Name:    "key-store",
	Usage:   "PEM file with the client certificate",
	EnvVars: []string{"KEY_STORE"},
}

var FlagPrivateKey = &cli.StringFlag{
	Name:    "private-key",
	Usage:   "PEM file with the client private key",
	EnvVars: []string{"PRIVATE_KEY"},
}

var FlagInsecureSkipVerify = &cli.BoolFlag{
	Name:    "insecure-skip-verify",
	EnvVars: []string{"INSECURE_SKIP_VERIFY"},
}

var FlagKeepAlive = &cli.DurationFlag{
	Name:    "keep-alive",
	EnvVars: []string{"KEEP_ALIVE"},
	Value:   application.DefaultKeepAlive,
}

var FlagConnectTimeout = &cli.DurationFlag{
	Name:    "connect-timeout",
	EnvVars: []string{"CONNECT_TIMEOUT"},
	Value:   application.DefaultConnectTimeout,
}

var FlagCleanSession = &cli.BoolFlag{
	Name:    "clean-session",
	Usage:   "discard broker side session state (default: false for subscribe, true for publish)",
	EnvVars: []string{"CLEAN_SESSION"},
}

var FlagTopics = &cli.StringSliceFlag{
	Name:    "topic",
	EnvVars: []string{"TOPICS"},
	Value:   cli.NewStringSlice(config.DefaultTopics...),
}

var FlagSubscribeQoS = &cli.IntSliceFlag{
	Name:    "qos",
	Usage:   "one qos per --topic, or a single qos for all of them",
	EnvVars: []string{"QOS"},
	Value:   cli.NewIntSlice(0, 1),
}

var FlagWillTopic = &cli.StringFlag{
	Name:    "will-topic",
	EnvVars: []string{"WILL_TOPIC"},
	Value:   config.DefaultWillTopic,
}

var FlagWillPayload = &cli.StringFlag{
	Name:    "will-payload",
	EnvVars: []string{"WILL_PAYLOAD"},
	Value:   config.DefaultWillPayload,
}

var FlagWillQoS = &cli.IntFlag{
	Name:    "will-qos",
	EnvVars: []string{"WILL_QOS"},
	Value:   int(application.AtLeastOnce),
}

var FlagMaxAttempts = &cli.IntFlag{
	Name:    "max-attempts",
	Usage:   "reconnect attempts before giving up",
	EnvVars: []string{"MAX_ATTEMPTS"},
	Value:   application.DefaultMaxAttempts,
}

var FlagRetryDelay = &cli.DurationFlag{
	Name:    "retry-delay",
	Usage:   "wait before each reconnect attempt (initial wait for backoff)",
	EnvVars: []string{"RETRY_DELAY"},
	Value:   application.DefaultRetryDelay,
}

var FlagRetryStrategy = &cli.StringFlag{
	Name:    "retry-strategy",
	Usage:   "one of: [fixed, backoff]",
	EnvVars: []string{"RETRY_STRATEGY"},
	Value:   config.RetryStrategyFixed,
}

var FlagReportInterval = &cli.DurationFlag{
	Name:    "report-interval",
	EnvVars: []string{"REPORT_INTERVAL"},
	Value:   application.DefaultReportInterval,
}

var FlagPublishQoS = &cli.IntFlag{
	Name:    "qos",
	EnvVars: []string{"QOS"},
	Value:   int(application.AtLeastOnce),
}

var FlagCount = &cli.IntFlag{
	Name:    "count",
	Usage:   "number of messages to publish",
	EnvVars: []string{"COUNT"},
	Value:   config.DefaultPublishCount,
}

var FlagPayload = &cli.StringFlag{
	Name:    "payload",
	Usage:   "payload prefix, the message number is appended",
	EnvVars: []string{"PAYLOAD"},
	Value:   config.DefaultPayloadPrefix,
}

var ConnectionFlags = []cli.Flag{
	FlagBroker,
	FlagClientID,
	FlagUsername,
	FlagPassword,
	FlagTrustStore,
	FlagKeyStore,
	FlagPrivateKey,
	FlagInsecureSkipVerify,
	FlagKeepAlive,
	FlagConnectTimeout,
	FlagCleanSession,
}

var SubscribeFlags = append([]cli.Flag{
	FlagTopics,
	FlagSubscribeQoS,
	FlagWillTopic,
	FlagWillPayload,
	FlagWillQoS,
	FlagMaxAttempts,
	FlagRetryDelay,
	FlagRetryStrategy,
	FlagReportInterval,
}, ConnectionFlags...)

var PublishFlags = append([]cli.Flag{
	FlagTopics,
	FlagPublishQoS,
	FlagCount,
	FlagPayload,
}, ConnectionFlags...)

// applyFlags overrides cfg with every flag the user set explicitly, either
// on the command line or through its environment variable.
func applyFlags(ctx *cli.Context, cfg *config.Config) {
	setString := func(flag *cli.StringFlag, dst *string) {
		if ctx.IsSet(flag.Name) {
			*dst = ctx.String(flag.Name)
		}
	}

	setString(FlagBroker, &cfg.Broker.URL)
	setString(FlagClientID, &cfg.Broker.ClientID)
	setString(FlagUsername, &cfg.Broker.Username)
	setString(FlagPassword, &cfg.Broker.Password)
	setString(FlagTrustStore, &cfg.TLS.TrustStore)
	setString(FlagKeyStore, &cfg.TLS.KeyStore)
	setString(FlagPrivateKey, &cfg.TLS.PrivateKey)
	setString(FlagWillTopic, &cfg.Will.Topic)
	setString(FlagWillPayload, &cfg.Will.Payload)
	setString(FlagRetryStrategy, &cfg.Reconnect.Strategy)
	setString(FlagPayload, &cfg.Publish.PayloadPrefix)

	if ctx.IsSet(FlagInsecureSkipVerify.Name) {
		cfg.TLS.InsecureSkipVerify = ctx.Bool(FlagInsecureSkipVerify.Name)
	}
	if ctx.IsSet(FlagCleanSession.Name) {
		cfg.Session.CleanSession = ctx.Bool(FlagCleanSession.Name)
	}
	if ctx.IsSet(FlagKeepAlive.Name) {
		cfg.Session.KeepAlive = ctx.Duration(FlagKeepAlive.Name)
	}
	if ctx.IsSet(FlagConnectTimeout.Name) {
		cfg.Session.ConnectTimeout = ctx.Duration(FlagConnectTimeout.Name)
	}
	if ctx.IsSet(FlagReportInterval.Name) {
		cfg.Session.ReportInterval = ctx.Duration(FlagReportInterval.Name)
	}
	if ctx.IsSet(FlagRetryDelay.Name) {
		cfg.Reconnect.Delay = ctx.Duration(FlagRetryDelay.Name)
	}
	if ctx.IsSet(FlagMaxAttempts.Name) {
		cfg.Reconnect.MaxAttempts = ctx.Int(FlagMaxAttempts.Name)
	}
	if ctx.IsSet(FlagWillQoS.Name) {
		cfg.Will.QoS = ctx.Int(FlagWillQoS.Name)
	}
	if ctx.IsSet(FlagCount.Name) {
		cfg.Publish.Count = ctx.Int(FlagCount.Name)
	}

	if ctx.IsSet(FlagTopics.Name) {
		cfg.Subscribe.Topics = ctx.StringSlice(FlagTopics.Name)
		cfg.Publish.Topics = ctx.StringSlice(FlagTopics.Name)
	}
	if ctx.Command.Name == "subscribe" {
		switch {
		case ctx.IsSet(FlagSubscribeQoS.Name):
			cfg.Subscribe.QoS = ctx.IntSlice(FlagSubscribeQoS.Name)
		case ctx.IsSet(FlagTopics.Name):
			// the default qos list only pairs with the default topics
			cfg.Subscribe.QoS = []int{config.DefaultSubscribeQoS}
		}
	}
	if ctx.Command.Name == "publish" && ctx.IsSet(FlagPublishQoS.Name) {
		cfg.Publish.QoS = ctx.Int(FlagPublishQoS.Name)
	}
}
