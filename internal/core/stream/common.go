package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	DefaultPort = 8088

	connectAttempts = 5
	connectDelay    = 500 * time.Millisecond
	connectTimeout  = 5 * time.Second
)

type ConnConfig struct {
	Host    string
	Port    int
	Creds   string
	Timeout time.Duration
}

func (c ConnConfig) URL() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return "nats://" + net.JoinHostPort(c.Host, strconv.Itoa(port))
}

type NATSConnWrapper struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewNATSWrapper(ctx context.Context, cfg ConnConfig, log *slog.Logger) (*NATSConnWrapper, error) {
	url := cfg.URL()

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = connectTimeout
	}

	opts := []nats.Option{
		nats.Name("mqtt-stream-bridge"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("stream service disconnected", slog.String("url", url), slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("stream service reconnected", slog.String("url", url))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn("stream service error", slog.Any("error", err))
		}),
	}
	if cfg.Creds != "" {
		opts = append(opts, nats.UserCredentials(cfg.Creds))
	}

	var nc *nats.Conn
	err := retry.Do(
		func() error {
			var err error
			nc, err = nats.Connect(url, opts...)
			return err //nolint:wrapcheck // wrapped below
		},
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("retrying stream service connection", slog.String("url", url), slog.Uint64("attempt", uint64(n+1)), slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to connect to JetStream: %w", err)
	}

	return &NATSConnWrapper{
		nc: nc,
		js: js,
	}, nil
}

func (n *NATSConnWrapper) JetStream() jetstream.JetStream {
	return n.js
}

func (n *NATSConnWrapper) Conn() *nats.Conn {
	return n.nc
}

func (n *NATSConnWrapper) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
