package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
)

// StreamConn is an open connection to the stream service.
type StreamConn interface {
	Client() stream.Client
	Close() error
}

// StreamFactory connects to the stream service on the given port.
type StreamFactory func(ctx context.Context, port int) (StreamConn, error)

type natsStreamConn struct {
	wrapper *stream.NATSConnWrapper
	client  *stream.JetStreamClient
}

func (c *natsStreamConn) Client() stream.Client {
	return c.client
}

func (c *natsStreamConn) Close() error {
	return c.wrapper.Close() //nolint:wrapcheck // already wrapped
}

// NATSStreamFactory connects to JetStream at cfg.Host and the port chosen
// at start time.
func NATSStreamFactory(cfg stream.ConnConfig, subjectPrefix string, log *slog.Logger) StreamFactory {
	return func(ctx context.Context, port int) (StreamConn, error) {
		cfg := cfg
		cfg.Port = port

		w, err := stream.NewNATSWrapper(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("connect to stream service: %w", err)
		}

		return &natsStreamConn{
			wrapper: w,
			client:  stream.NewJetStreamClient(w.JetStream(), subjectPrefix),
		}, nil
	}
}
