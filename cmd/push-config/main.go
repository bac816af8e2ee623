package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/configbridge"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/schema"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
)

// Config is the bridge configuration document. Sections left out are not
// touched in the bucket.
type Config struct {
	Mapping                json.RawMessage `json:"mqttStreamMapping"`
	StreamDefinition       json.RawMessage `json:"streamDefinition"`
	CertificateAuthorities json.RawMessage `json:"certificateAuthorities"`
	StreamManagerPort      json.RawMessage `json:"streamManagerPort"`
}

func (c Config) sections() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		schema.SectionMapping:                c.Mapping,
		schema.SectionStreamDefinition:       c.StreamDefinition,
		schema.SectionCertificateAuthorities: c.CertificateAuthorities,
		schema.SectionStreamManagerPort:      c.StreamManagerPort,
	}
}

type ConfigLoader[C any] struct {
	filePath string
}

func NewConfigLoader[C any](filePath string) (zero *ConfigLoader[C], _ error) {
	if len(filePath) == 0 {
		return zero, fmt.Errorf("config file path is empty")
	}
	return &ConfigLoader[C]{
		filePath: filePath,
	}, nil
}

func (cl *ConfigLoader[C]) Load() (zero C, _ error) {
	var config C
	jsFile, err := os.ReadFile(cl.filePath)
	if err != nil {
		return zero, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(jsFile, &config); err != nil {
		return zero, fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return config, nil
}

// validate parses every present section the way the bridge will.
func validate(cfg Config) error {
	if len(cfg.Mapping) > 0 {
		tree, err := schema.DecodeTree(cfg.Mapping)
		if err != nil {
			return fmt.Errorf("%s: %w", schema.SectionMapping, err)
		}
		if _, err := schema.ParseMapping(tree); err != nil {
			return err //nolint:wrapcheck // config error names the section
		}
	}
	if len(cfg.StreamDefinition) > 0 {
		tree, err := schema.DecodeTree(cfg.StreamDefinition)
		if err != nil {
			return fmt.Errorf("%s: %w", schema.SectionStreamDefinition, err)
		}
		if _, err := schema.ParseStreamDefinitions(tree); err != nil {
			return err //nolint:wrapcheck // config error names the section
		}
	}
	if _, err := schema.ParseCertificateAuthorities(cfg.CertificateAuthorities); err != nil {
		return err //nolint:wrapcheck // config error names the section
	}
	if _, err := schema.ParsePort(cfg.StreamManagerPort); err != nil {
		return err //nolint:wrapcheck // config error names the section
	}
	return nil
}

func push(ctx context.Context, kv jetstream.KeyValue, cfg Config, log *slog.Logger) error {
	for section, value := range cfg.sections() {
		if len(value) == 0 {
			continue
		}

		rev, err := kv.Put(ctx, section, value)
		if err != nil {
			return fmt.Errorf("put %s: %w", section, err)
		}

		log.Info("Configuration section written", slog.String("section", section), slog.Uint64("revision", rev))
	}

	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	natsHost := flag.String("nats-host", "localhost", "NATS host holding the config bucket")
	natsPort := flag.Int("nats-port", 4222, "NATS port")
	bucket := flag.String("bucket", configbridge.DefaultBucket, "Config bucket name")
	debug := flag.Bool("d", false, "Enable debug logging")
	flag.Parse()

	logHandlerOpts := slog.HandlerOptions{} //nolint:exhaustruct // optional config
	if *debug {
		logHandlerOpts.Level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &logHandlerOpts))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		log.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	loader, err := NewConfigLoader[Config](*configPath)
	if err != nil {
		log.Error("failed to create config loader: ", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := loader.Load()
	if err != nil {
		log.Error("failed to load config: ", slog.Any("error", err))
		os.Exit(1)
	}

	if err := validate(cfg); err != nil {
		log.Error("invalid config: ", slog.Any("error", err))
		os.Exit(1)
	}

	//nolint: exhaustruct // optional config
	nc, err := stream.NewNATSWrapper(ctx, stream.ConnConfig{Host: *natsHost, Port: *natsPort}, log)
	if err != nil {
		log.Error("failed to create NATS wrapper: ", slog.Any("error", err))
		os.Exit(1)
	}

	err = func() error {
		kv, err := configbridge.OpenBucket(ctx, nc.JetStream(), *bucket)
		if err != nil {
			return err //nolint:wrapcheck // already wrapped
		}
		return push(ctx, kv, cfg, log)
	}()

	if cerr := nc.Close(); cerr != nil {
		log.Warn("failed to close NATS wrapper: ", slog.Any("error", cerr))
	}

	if err != nil {
		log.Error("failed to push config: ", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("Configuration pushed")
}
