package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/metrics"
)

type Phase string

const (
	PhaseCreate Phase = "create"
	PhaseAppend Phase = "append"
)

type PublishError struct {
	Stream string
	Phase  Phase
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to stream %s failed on %s: %v", e.Stream, e.Phase, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// StreamMessage is one routed payload for one destination stream.
type StreamMessage struct {
	Stream  string
	Payload []byte
}

// Templates is the part of the catalog the publisher reads.
type Templates interface {
	Lookup(name string) (catalog.StreamDefinition, bool)
	Default() catalog.StreamDefinition
}

type PublisherOption func(*Publisher)

func WithRetryPolicy(p RetryPolicy) PublisherOption {
	return func(pub *Publisher) {
		if p != nil {
			pub.retry = p
		}
	}
}

func WithMetrics(m *metrics.Bridge) PublisherOption {
	return func(pub *Publisher) {
		pub.metrics = m
	}
}

// Publisher makes sure a stream exists before appending to it.
type Publisher struct {
	client    Client
	templates Templates
	retry     RetryPolicy
	metrics   *metrics.Bridge
	log       *slog.Logger

	// best effort only, the storage service stays authoritative
	known cmap.ConcurrentMap

	seeded atomic.Pointer[catalog.StreamDefinition]
}

func NewPublisher(client Client, templates Templates, log *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:    client,
		templates: templates,
		retry:     NoRetry{},
		metrics:   nil,
		log:       log,
		known:     cmap.New(),
		seeded:    atomic.Pointer[catalog.StreamDefinition]{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// SetDefaultFromCatalog seeds the default template. It is called before the
// first publish and again after every stream definition update.
func (p *Publisher) SetDefaultFromCatalog(c Templates) {
	def := c.Default()
	p.seeded.Store(&def)
	p.log.Debug("Set default stream configuration", slog.String("definition", def.String()))
}

func (p *Publisher) defaultTemplate() catalog.StreamDefinition {
	if d := p.seeded.Load(); d != nil {
		return *d
	}
	if p.templates != nil {
		return p.templates.Default()
	}
	return catalog.SyntheticDefault()
}

func (p *Publisher) resolve(name string) catalog.StreamDefinition {
	if p.templates != nil {
		if def, ok := p.templates.Lookup(name); ok {
			return def
		}
	}
	return p.defaultTemplate().WithName(name)
}

func (p *Publisher) Publish(ctx context.Context, msg StreamMessage) error {
	err := p.publish(ctx, msg)
	p.metrics.Published(err)
	return err
}

func (p *Publisher) publish(ctx context.Context, msg StreamMessage) error {
	if !p.known.Has(msg.Stream) {
		if err := p.ensureStream(ctx, msg.Stream); err != nil {
			return err
		}
	}

	err := p.retry.Do(ctx, func() error {
		return p.client.Append(ctx, msg.Stream, msg.Payload)
	})
	if err != nil {
		p.known.Remove(msg.Stream)
		p.log.Error("Unable to append to stream", slog.String("stream", msg.Stream), slog.Any("error", err))
		return &PublishError{Stream: msg.Stream, Phase: PhaseAppend, Err: err}
	}

	p.log.Info("Appended message to stream", slog.String("stream", msg.Stream), slog.Int("bytes", len(msg.Payload)))

	return nil
}

func (p *Publisher) ensureStream(ctx context.Context, name string) error {
	_, err := p.client.Describe(ctx, name)
	if err == nil {
		p.known.Set(name, struct{}{})
		return nil
	}

	// not found and remote failures look the same here; a spurious create
	// is rejected by the service as already existing
	p.log.Debug("Stream not described, creating it", slog.String("stream", name), slog.Any("error", err))

	def := p.resolve(name)

	exists := false
	err = p.retry.Do(ctx, func() error {
		err := p.client.Create(ctx, def)
		if errors.Is(err, ErrStreamExists) {
			exists = true
			return nil
		}
		return err
	})
	switch {
	case exists:
		p.log.Debug("Stream already exists", slog.String("stream", name))
	case err != nil:
		p.log.Error("Unable to create stream", slog.String("stream", name), slog.Any("error", err))
		return &PublishError{Stream: name, Phase: PhaseCreate, Err: err}
	default:
		p.metrics.StreamCreated()
		p.log.Info("Created new stream", slog.String("stream", name))
		p.log.Debug("New stream", slog.String("definition", def.String()))
	}

	p.known.Set(name, struct{}{})

	return nil
}

// Forget drops a stream from the known-streams cache.
func (p *Publisher) Forget(name string) {
	p.known.Remove(name)
}
