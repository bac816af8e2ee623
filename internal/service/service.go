package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/configbridge"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/router"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/schema"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/transport"
	"github.com/glassflow/mqtt-stream-bridge/internal/metrics"
)

// Transport is the MQTT side as seen by the service.
type Transport interface {
	Start(ctx context.Context) error
	Stop()
	SyncSubscriptions(filters []string) error
}

type TransportFactory func(handler transport.Handler) (Transport, error)

type KeyStore interface {
	Init() error
}

// ConfigSource delivers configuration sections to the service.
type ConfigSource interface {
	Start(ctx context.Context) error
	Ready() <-chan struct{}
	Port() int
	SetListener(l configbridge.Listener)
}

type Deps struct {
	Mapping      *mapping.Table
	Catalog      *catalog.Catalog
	Config       ConfigSource
	KeyStore     KeyStore
	NewTransport TransportFactory
	NewStream    StreamFactory
	Retry        stream.RetryPolicy
	Metrics      *metrics.Bridge
}

// Bridge runs the MQTT to stream bridge lifecycle:
// INSTALLING -> STARTING -> RUNNING -> (ERRORED | STOPPING -> STOPPED).
type Bridge struct {
	deps   Deps
	router *router.Router
	log    *slog.Logger

	mu        sync.Mutex
	state     State
	cause     error
	failed    map[string]error
	transport Transport
	conn      StreamConn
	publisher *stream.Publisher
}

func New(deps Deps, log *slog.Logger, routerOpts ...router.Option) (*Bridge, error) {
	switch {
	case deps.Mapping == nil:
		return nil, errors.New("mapping table is required")
	case deps.Catalog == nil:
		return nil, errors.New("stream catalog is required")
	case deps.Config == nil:
		return nil, errors.New("config source is required")
	case deps.NewTransport == nil:
		return nil, errors.New("transport factory is required")
	case deps.NewStream == nil:
		return nil, errors.New("stream factory is required")
	}
	if deps.Retry == nil {
		deps.Retry = stream.NoRetry{}
	}

	routerOpts = append([]router.Option{router.WithMetrics(deps.Metrics)}, routerOpts...)

	//nolint: exhaustruct // clients are created by Start
	b := &Bridge{
		deps:   deps,
		router: router.New(deps.Mapping, log, routerOpts...),
		log:    log,
		state:  StateInstalling,
		failed: map[string]error{},
	}
	deps.Metrics.State(string(StateInstalling), stateNames())

	deps.Config.SetListener(b)

	return b, nil
}

func (b *Bridge) Router() *router.Router {
	return b.router
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cause is the error that moved the service to ERRORED.
func (b *Bridge) Cause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cause
}

func (b *Bridge) setStateLocked(s State, cause error) {
	if b.state == s && errors.Is(cause, b.cause) {
		return
	}

	prev := b.state
	b.state = s
	b.cause = cause
	b.deps.Metrics.State(string(s), stateNames())

	if cause != nil {
		b.log.Error("Service errored", slog.String("from", string(prev)), slog.Any("error", cause))
		return
	}
	b.log.Info("Service state changed", slog.String("from", string(prev)), slog.String("to", string(s)))
}

func (b *Bridge) erroredLocked(err error) error {
	b.setStateLocked(StateErrored, err)
	return err
}

// Install starts watching the configuration.
func (b *Bridge) Install(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateInstalling {
		return fmt.Errorf("install in state %s", b.state)
	}

	if err := b.deps.Config.Start(ctx); err != nil {
		return b.erroredLocked(fmt.Errorf("start config watch: %w", err))
	}

	if b.state == StateInstalling {
		b.setStateLocked(StateStarting, nil)
	}

	return nil
}

// Start brings up the MQTT and stream clients and moves to RUNNING.
func (b *Bridge) Start(ctx context.Context) error {
	select {
	case <-b.deps.Config.Ready():
	case <-ctx.Done():
		return fmt.Errorf("wait for configuration: %w", ctx.Err())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Ready and Done may both be ready when shutdown races the start
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	switch b.state {
	case StateStarting, StateErrored, StateStopped:
	default:
		return fmt.Errorf("start in state %s", b.state)
	}

	if b.deps.KeyStore != nil {
		if err := b.deps.KeyStore.Init(); err != nil {
			return b.erroredLocked(fmt.Errorf("init key store: %w", err))
		}
	}

	if b.transport == nil {
		t, err := b.deps.NewTransport(b.router.HandleMessage)
		if err != nil {
			return b.erroredLocked(fmt.Errorf("create mqtt client: %w", err))
		}
		b.transport = t
	}
	if err := b.transport.Start(ctx); err != nil {
		return b.erroredLocked(fmt.Errorf("start mqtt client: %w", err))
	}
	b.router.SwapTransport(b.transport)

	port := b.deps.Config.Port()
	conn, err := b.deps.NewStream(ctx, port)
	if err != nil {
		// never leave the router on a connection that is about to close
		b.router.SwapPublisher(nil)
		b.publisher = nil
		b.closeStreamLocked()
		return b.erroredLocked(fmt.Errorf("start stream client on port %d: %w", port, err))
	}

	publisher := stream.NewPublisher(conn.Client(), b.deps.Catalog, b.log,
		stream.WithRetryPolicy(b.deps.Retry),
		stream.WithMetrics(b.deps.Metrics),
	)
	publisher.SetDefaultFromCatalog(b.deps.Catalog)
	b.router.SwapPublisher(publisher)

	b.closeStreamLocked()
	b.conn = conn
	b.publisher = publisher

	b.setStateLocked(StateRunning, nil)

	return nil
}

// Stop disconnects both clients. Configuration keeps being watched.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateStopped {
		return
	}

	b.setStateLocked(StateStopping, nil)

	b.router.SwapTransport(nil)
	if b.transport != nil {
		b.transport.Stop()
	}

	b.router.SwapPublisher(nil)
	b.publisher = nil
	b.closeStreamLocked()

	b.setStateLocked(StateStopped, nil)
}

func (b *Bridge) closeStreamLocked() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Close(); err != nil {
		b.log.Warn("Unable to close stream client", slog.Any("error", err))
	}
	b.conn = nil
}

// SectionApplied is called by the config source after a section update.
func (b *Bridge) SectionApplied(section string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if section == schema.SectionStreamDefinition && b.publisher != nil {
		b.publisher.SetDefaultFromCatalog(b.deps.Catalog)
	}

	delete(b.failed, section)

	if b.state != StateErrored || len(b.failed) > 0 {
		return
	}

	// only configuration errors can be cleared by configuration
	var cfgErr *schema.ConfigError
	if !errors.As(b.cause, &cfgErr) {
		return
	}

	if b.transport != nil && b.publisher != nil {
		b.setStateLocked(StateRunning, nil)
		return
	}
	b.setStateLocked(StateStarting, nil)
}

// SectionFailed is called by the config source when a section update was
// rejected.
func (b *Bridge) SectionFailed(section string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed[section] = err

	switch b.state {
	case StateStopping, StateStopped:
		b.log.Error("Invalid configuration while stopped", slog.String("section", section), slog.Any("error", err))
		return
	}

	b.erroredLocked(err)
}

// FailedSections lists the sections whose last update was rejected.
func (b *Bridge) FailedSections() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.failed))
}
