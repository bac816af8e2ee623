package router

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
	"github.com/glassflow/mqtt-stream-bridge/internal/metrics"
)

type Publisher interface {
	Publish(ctx context.Context, msg stream.StreamMessage) error
}

// Subscriber is the part of the transport the router keeps in sync with
// the mapping.
type Subscriber interface {
	SyncSubscriptions(filters []string) error
}

type Mapping interface {
	Match(topic string) []mapping.Entry
	Filters() []string
	OnUpdate(listener func())
}

type publisherRef struct{ Publisher }

type subscriberRef struct{ Subscriber }

type Option func(*Router)

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func WithMetrics(m *metrics.Bridge) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// Router forwards transport messages to every stream they are mapped to.
type Router struct {
	mapping Mapping
	now     func() time.Time
	metrics *metrics.Bridge
	log     *slog.Logger

	publisher  atomic.Pointer[publisherRef]
	subscriber atomic.Pointer[subscriberRef]
}

// New creates a router and subscribes it to mapping updates.
func New(m Mapping, log *slog.Logger, opts ...Option) *Router {
	r := &Router{
		mapping:    m,
		now:        time.Now,
		metrics:    nil,
		log:        log,
		publisher:  atomic.Pointer[publisherRef]{},
		subscriber: atomic.Pointer[subscriberRef]{},
	}

	for _, opt := range opts {
		opt(r)
	}

	m.OnUpdate(r.syncSubscriptions)

	return r
}

// SwapPublisher replaces the stream publisher. Messages already being
// handled keep the publisher they started with.
func (r *Router) SwapPublisher(p Publisher) {
	if p == nil {
		r.publisher.Store(nil)
		return
	}
	r.publisher.Store(&publisherRef{p})
}

// SwapTransport replaces the transport and subscribes it to the current
// mapping filters.
func (r *Router) SwapTransport(s Subscriber) {
	if s == nil {
		r.subscriber.Store(nil)
		return
	}
	r.subscriber.Store(&subscriberRef{s})
	r.syncSubscriptions()
}

func (r *Router) syncSubscriptions() {
	ref := r.subscriber.Load()
	if ref == nil {
		return
	}

	filters := r.mapping.Filters()
	if err := ref.SyncSubscriptions(filters); err != nil {
		r.log.Error("Unable to update subscriptions", slog.Any("filters", filters), slog.Any("error", err))
		return
	}

	r.log.Debug("Subscriptions updated", slog.Any("filters", filters))
}

// HandleMessage routes one inbound message. Failures are logged per stream
// and never stop the router.
func (r *Router) HandleMessage(ctx context.Context, topic string, payload []byte) {
	r.metrics.MessageReceived()

	matches := r.mapping.Match(topic)
	if len(matches) == 0 {
		r.metrics.MessageUnmapped()
		r.log.Debug("No mapping for topic, dropping message", slog.String("topic", topic))
		return
	}

	ref := r.publisher.Load()
	if ref == nil {
		r.log.Warn("Stream client not ready, dropping message", slog.String("topic", topic))
		return
	}

	now := r.now()
	for _, e := range matches {
		msg := stream.StreamMessage{
			Stream:  strings.TrimSpace(e.Stream),
			Payload: Transform(e, topic, payload, now),
		}

		if err := ref.Publish(ctx, msg); err != nil {
			r.log.Error("Unable to forward message",
				slog.String("topic", topic),
				slog.String("stream", e.Stream),
				slog.Any("error", err),
			)
		}
	}
}
