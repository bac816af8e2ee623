package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/lmittmann/tint"

	"github.com/glassflow/mqtt-stream-bridge/internal/api"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/configbridge"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/transport"
	"github.com/glassflow/mqtt-stream-bridge/internal/metrics"
	"github.com/glassflow/mqtt-stream-bridge/internal/server"
	"github.com/glassflow/mqtt-stream-bridge/internal/service"
)

//nolint:gochecknoglobals,revive // build variables
var (
	commit string = "unspecified"
	app    string = "unspecified"
)

type config struct {
	LogFormat    string     `default:"json" split_words:"true"`
	LogLevel     slog.Level `default:"info" split_words:"true"`
	LogAddSource bool       `default:"true" split_words:"true"`

	ServerAddr            string        `default:":8080" split_words:"true"`
	ServerWriteTimeout    time.Duration `default:"15s" split_words:"true"`
	ServerReadTimeout     time.Duration `default:"15s" split_words:"true"`
	ServerIdleTimeout     time.Duration `default:"5m" split_words:"true"`
	ServerShutdownTimeout time.Duration `default:"30s" split_words:"true"`

	MQTTBrokerURL          string        `default:"tcp://localhost:1883" envconfig:"MQTT_BROKER_URL"`
	MQTTClientIDPrefix     string        `default:"smbridge-" envconfig:"MQTT_CLIENT_ID_PREFIX"`
	MQTTUsername           string        `envconfig:"MQTT_USERNAME"`
	MQTTPassword           string        `envconfig:"MQTT_PASSWORD"`
	MQTTQoS                uint8         `default:"1" envconfig:"MQTT_QOS"`
	MQTTKeepAlive          time.Duration `default:"60s" envconfig:"MQTT_KEEP_ALIVE"`
	MQTTConnectTimeout     time.Duration `default:"10s" envconfig:"MQTT_CONNECT_TIMEOUT"`
	MQTTCAFile             string        `envconfig:"MQTT_CA_FILE"`
	MQTTCertFile           string        `envconfig:"MQTT_CERT_FILE"`
	MQTTKeyFile            string        `envconfig:"MQTT_KEY_FILE"`
	MQTTInsecureSkipVerify bool          `envconfig:"MQTT_INSECURE_SKIP_VERIFY"`

	ConfigNATSHost  string `default:"localhost" envconfig:"CONFIG_NATS_HOST"`
	ConfigNATSPort  int    `default:"4222" envconfig:"CONFIG_NATS_PORT"`
	ConfigNATSCreds string `envconfig:"CONFIG_NATS_CREDS"`
	ConfigBucket    string `default:"smbridge-config" split_words:"true"`

	StreamHost          string        `default:"localhost" split_words:"true"`
	StreamCreds         string        `split_words:"true"`
	StreamTimeout       time.Duration `default:"5s" split_words:"true"`
	StreamSubjectPrefix string        `default:"smbridge" split_words:"true"`

	RetryAttempts uint          `default:"1" split_words:"true"`
	RetryDelay    time.Duration `default:"100ms" split_words:"true"`
	RetryMaxDelay time.Duration `default:"5s" split_words:"true"`
}

func main() {
	var cfg config
	err := envconfig.Process("smbridge", &cfg)
	if err != nil {
		slog.Error("unable to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	//nolint: exhaustruct // optional config
	logOpts := &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogAddSource,
	}

	var logHandler slog.Handler
	switch cfg.LogFormat {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stdout, logOpts)
	default:
		//nolint:exhaustruct // optional config
		logHandler = tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:  true,
			Level:      cfg.LogLevel,
			TimeFormat: time.Kitchen,
		})
	}

	log := slog.New(logHandler)

	log = log.With(
		slog.String("app", app),
		slog.String("commit_hash", commit),
		slog.String("goversion", runtime.Version()),
	)

	if err := mainErr(&cfg, log); err != nil {
		log.Error("Service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("Service terminated gracefully")
}

func mainErr(cfg *config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.New()

	//nolint: exhaustruct // optional config
	configConn, err := stream.NewNATSWrapper(ctx, stream.ConnConfig{
		Host:  cfg.ConfigNATSHost,
		Port:  cfg.ConfigNATSPort,
		Creds: cfg.ConfigNATSCreds,
	}, log)
	if err != nil {
		return fmt.Errorf("connect to config source: %w", err)
	}
	defer func() {
		if err := configConn.Close(); err != nil {
			log.Warn("Unable to close config source connection", slog.Any("error", err))
		}
	}()

	kv, err := configbridge.OpenBucket(ctx, configConn.JetStream(), cfg.ConfigBucket)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}

	table := mapping.NewTable()
	templates := catalog.New()
	keyStore := transport.NewKeyStore(transport.KeyStoreConfig{
		CAFile:             cfg.MQTTCAFile,
		CertFile:           cfg.MQTTCertFile,
		KeyFile:            cfg.MQTTKeyFile,
		InsecureSkipVerify: cfg.MQTTInsecureSkipVerify,
	})

	configSource := configbridge.New(kv, configbridge.Targets{
		Mapping:  table,
		Catalog:  templates,
		KeyStore: keyStore,
	}, log, configbridge.WithMetrics(reg))
	defer configSource.Stop()

	mqttCfg := transport.Config{
		BrokerURL:            cfg.MQTTBrokerURL,
		ClientIDPrefix:       cfg.MQTTClientIDPrefix,
		Username:             cfg.MQTTUsername,
		Password:             cfg.MQTTPassword,
		QoS:                  cfg.MQTTQoS,
		KeepAlive:            cfg.MQTTKeepAlive,
		ConnectTimeout:       cfg.MQTTConnectTimeout,
		MaxReconnectInterval: 0,
		OperationTimeout:     0,
	}

	//nolint: exhaustruct // port is discovered at start
	streamCfg := stream.ConnConfig{
		Host:    cfg.StreamHost,
		Creds:   cfg.StreamCreds,
		Timeout: cfg.StreamTimeout,
	}

	bridge, err := service.New(service.Deps{
		Mapping:  table,
		Catalog:  templates,
		Config:   configSource,
		KeyStore: keyStore,
		NewTransport: func(h transport.Handler) (service.Transport, error) {
			c, err := transport.NewClient(mqttCfg, keyStore, h, log)
			if err != nil {
				return nil, err //nolint:wrapcheck // wrapped by the service
			}
			return c, nil
		},
		NewStream: service.NATSStreamFactory(streamCfg, cfg.StreamSubjectPrefix, log),
		Retry: stream.BackoffRetry{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
			MaxDelay: cfg.RetryMaxDelay,
		},
		Metrics: reg,
	}, log)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	if err := bridge.Install(ctx); err != nil {
		return fmt.Errorf("install bridge: %w", err)
	}

	go func() {
		// a failed start leaves the bridge ERRORED and visible through the API
		if err := bridge.Start(ctx); err != nil {
			log.Error("Unable to start bridge", slog.Any("error", err))
		}
	}()

	apiServer := server.NewHTTPServer(
		cfg.ServerAddr,
		cfg.ServerReadTimeout,
		cfg.ServerWriteTimeout,
		cfg.ServerIdleTimeout,
		api.NewRouter(log, bridge, table, templates, reg.Registry()),
		log,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		bridge.Stop()
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-shutdown:
		log.Info("Received termination signal - service will shutdown")
		cancel()
		bridge.Stop()
		if err := apiServer.Shutdown(cfg.ServerShutdownTimeout); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	}
}
