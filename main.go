package main

import (
	"context"
	"fmt"
	"io"
	"mqtt-session/adapters"
	"mqtt-session/application"
	"mqtt-session/config"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfig,
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// same as the broker tooling: a .env next to the binary is optional
	envFiles := []string{}
	if f := os.Getenv("ENV_FILE"); f != "" {
		envFiles = append(envFiles, f)
	}
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		logger.Err(err).Msg("failed to load env file")
		os.Exit(1)
	}

	app := cli.App{
		Name:    "mqtt-session",
		Usage:   "resilient MQTT subscriber and publisher",
		Version: "v0.1.0",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			switch ctx.String(FlagLogWriter.Name) {
			case "console":
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			case "json":
				logWriter = os.Stderr
			default:
				return fmt.Errorf("%w: unknown log writer %q", application.ErrConfig, ctx.String(FlagLogWriter.Name))
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "mqtt-session").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)
			adapters.SetPahoLoggers(logger.With().Str("module", "paho").Logger())

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "subscribe",
				Usage: "keep a session with the broker and print every message received",
				Flags: SubscribeFlags,
				Action: func(ctx *cli.Context) error {
					return runSubscribe(ctx, logger)
				},
			},
			{
				Name:  "publish",
				Usage: "publish a numbered sequence of messages, alternating topics",
				Flags: PublishFlags,
				Action: func(ctx *cli.Context) error {
					return runPublish(ctx, logger)
				},
			},
		},
		Authors: []*cli.Author{
			{
				Name: "mqtt-session authors",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
		os.Exit(1)
	}
}

func runSubscribe(ctx *cli.Context, logger zerolog.Logger) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = config.DefaultClientID("mqtt-subscribe")
	}

	opts, err := connectionOptions(cfg, true)
	if err != nil {
		return err
	}

	topics, qos, err := cfg.Subscriptions()
	if err != nil {
		return err
	}
	registry := application.NewSubscriptionRegistry()
	if err := registry.AddMany(topics, qos); err != nil {
		return err
	}

	msgLog := logger.With().Str("module", "consumer").Logger()
	session, err := application.NewSession(application.SessionParams{
		Transport: adapters.NewMQTTClient(adapters.MQTTClientParams{
			Log: logger.With().Str("module", "mqtt-client").Logger(),
		}),
		Options:  opts,
		Registry: registry,
		Policy:   cfg.RetryPolicy(),
		Handler: func(ctx context.Context, msg application.Message) error {
			msgLog.Info().
				Str("topic", msg.Topic).
				Uint8("qos", uint8(msg.QoS)).
				Bool("retained", msg.Retained).
				Str("payload", string(msg.Payload)).
				Msg("message received")
			return nil
		},
		ReportInterval: cfg.Session.ReportInterval,
		Log:            logger.With().Str("module", "session").Logger(),
	})
	if err != nil {
		return err
	}

	logger.Info().Str("client_id", opts.ClientID).Strs("topics", topics).Msg("service starting...")

	appCtx, cancel := signalContext(logger)
	defer cancel()

	if err := session.Run(appCtx); err != nil {
		return err
	}

	logger.Info().Msg("service terminating...")
	return nil
}

func runPublish(ctx *cli.Context, logger zerolog.Logger) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = config.DefaultClientID("mqtt-publish")
	}
	if !ctx.IsSet(FlagCleanSession.Name) && ctx.String(FlagConfig.Name) == "" {
		cfg.Session.CleanSession = true
	}

	opts, err := connectionOptions(cfg, false)
	if err != nil {
		return err
	}

	qos, err := application.ParseQoS(cfg.Publish.QoS)
	if err != nil {
		return fmt.Errorf("%w: %w", application.ErrConfig, err)
	}
	plan, err := application.AlternatingTopics(cfg.Publish.Topics, qos, cfg.Publish.PayloadPrefix)
	if err != nil {
		return err
	}

	session, err := application.NewSession(application.SessionParams{
		Transport: adapters.NewMQTTClient(adapters.MQTTClientParams{
			Log: logger.With().Str("module", "mqtt-client").Logger(),
		}),
		Options: opts,
		Policy:  cfg.RetryPolicy(),
		Log:     logger.With().Str("module", "session").Logger(),
	})
	if err != nil {
		return err
	}

	sequencer, err := application.NewPublishSequencer(application.PublishSequencerParams{
		Publisher: session,
		Log:       logger.With().Str("module", "publisher").Logger(),
	})
	if err != nil {
		return err
	}

	appCtx, cancel := signalContext(logger)
	defer cancel()

	if err := session.Start(); err != nil {
		return err
	}
	logger.Info().Msg("connected to the broker")

	published, err := sequencer.Run(appCtx, cfg.Publish.Count, plan)
	logger.Info().Int("published", published).Int("count", cfg.Publish.Count).Msg("publish sequence finished")

	if serr := session.Shutdown(); serr != nil {
		logger.Warn().Err(serr).Msg("disconnect from the broker failed")
	}
	return err
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.String(FlagConfig.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	applyFlags(ctx, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// connectionOptions converts cfg and checks the TLS material up front so a
// bad certificate is reported before any connection attempt.
func connectionOptions(cfg *config.Config, withWill bool) (application.ConnectionOptions, error) {
	opts, err := cfg.ConnectionOptions(withWill)
	if err != nil {
		return opts, err
	}
	if _, err := adapters.LoadTLSConfig(opts.TLS); err != nil {
		return opts, fmt.Errorf("%w: %w", application.ErrConfig, err)
	}
	return opts, nil
}

func signalContext(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)

		select {
		case <-c:
			logger.Warn().Msg("interrupt signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
