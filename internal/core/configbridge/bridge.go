package configbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/schema"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
	"github.com/glassflow/mqtt-stream-bridge/internal/metrics"
)

const (
	DefaultBucket = "smbridge-config"

	bucketHistory = 5
)

type MappingTarget interface {
	Replace(entries map[string]mapping.Entry) error
}

type CatalogTarget interface {
	Replace(defs map[string]catalog.StreamDefinition) error
}

type CATarget interface {
	UpdateCA(pems []string) error
}

// Listener is told about every section update the bridge applied or
// rejected.
type Listener interface {
	SectionApplied(section string)
	SectionFailed(section string, err error)
}

type Targets struct {
	Mapping  MappingTarget
	Catalog  CatalogTarget
	KeyStore CATarget
}

type Option func(*Bridge)

func WithMetrics(m *metrics.Bridge) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

func WithListener(l Listener) Option {
	return func(b *Bridge) {
		b.SetListener(l)
	}
}

type listenerRef struct{ Listener }

// Bridge watches the configuration bucket and pushes every section change
// into its target table.
type Bridge struct {
	kv      jetstream.KeyValue
	targets Targets
	metrics *metrics.Bridge
	log     *slog.Logger

	listener atomic.Pointer[listenerRef]
	port     atomic.Int64

	mu       sync.Mutex
	watchers []jetstream.KeyWatcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    chan struct{}
	pending  sync.WaitGroup
}

// OpenBucket returns the configuration bucket, creating it when missing.
func OpenBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	//nolint: exhaustruct // optional config
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "mqtt stream bridge configuration",
		History:     bucketHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("open config bucket %s: %w", bucket, err)
	}

	return kv, nil
}

func New(kv jetstream.KeyValue, targets Targets, log *slog.Logger, opts ...Option) *Bridge {
	//nolint: exhaustruct // watchers are created by Start
	b := &Bridge{
		kv:      kv,
		targets: targets,
		log:     log.With(slog.String("component", "configbridge")),
		ready:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Bridge) SetListener(l Listener) {
	if l == nil {
		b.listener.Store(nil)
		return
	}
	b.listener.Store(&listenerRef{l})
}

// Port is the stream service port from configuration, or the default.
func (b *Bridge) Port() int {
	if p := b.port.Load(); p > 0 {
		return int(p)
	}
	return stream.DefaultPort
}

// Ready is closed once the values present at Start have been applied.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Start opens one watcher per section. Values already in the bucket are
// applied first, then every change as it happens.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	watchers := make([]jetstream.KeyWatcher, 0, len(schema.Sections()))
	for _, section := range schema.Sections() {
		w, err := b.kv.Watch(watchCtx, section)
		if err != nil {
			for _, w := range watchers {
				_ = w.Stop()
			}
			cancel()
			return fmt.Errorf("watch config section %s: %w", section, err)
		}
		watchers = append(watchers, w)
	}

	b.watchers = watchers
	b.cancel = cancel

	b.pending.Add(len(watchers))
	for i, w := range watchers {
		b.wg.Add(1)
		go b.watch(watchCtx, schema.Sections()[i], w)
	}

	go func() {
		b.pending.Wait()
		close(b.ready)
	}()

	return nil
}

// Stop stops every watcher and waits for in-flight updates.
func (b *Bridge) Stop() {
	b.mu.Lock()
	watchers := b.watchers
	cancel := b.cancel
	b.watchers = nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}

	for _, w := range watchers {
		_ = w.Stop()
	}
	cancel()
	b.wg.Wait()
}

func (b *Bridge) watch(ctx context.Context, section string, w jetstream.KeyWatcher) {
	defer b.wg.Done()

	initial := true
	defer func() {
		if initial {
			b.pending.Done()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.Updates():
			if !ok {
				return
			}
			if entry == nil {
				// end of the values present at start
				if initial {
					initial = false
					b.pending.Done()
				}
				continue
			}

			if err := b.Apply(section, entry.Operation(), entry.Value()); err != nil {
				b.log.Error("Invalid configuration", slog.String("section", section), slog.Uint64("revision", entry.Revision()), slog.Any("error", err))
			}
		}
	}
}

// Apply applies one change of one section. Deleted and purged sections
// apply as empty.
func (b *Bridge) Apply(section string, op jetstream.KeyValueOp, value []byte) error {
	if op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
		value = nil
	}

	var err error
	switch section {
	case schema.SectionMapping:
		err = b.applyMapping(value)
	case schema.SectionStreamDefinition:
		err = b.applyDefinitions(value)
	case schema.SectionCertificateAuthorities:
		err = b.applyCAs(value)
	case schema.SectionStreamManagerPort:
		err = b.applyPort(value)
	default:
		b.log.Debug("Ignoring unknown configuration key", slog.String("key", section))
		return nil
	}

	b.metrics.ConfigUpdated(section, err)

	l := b.listener.Load()
	if err != nil {
		var cfgErr *schema.ConfigError
		if !errors.As(err, &cfgErr) {
			err = &schema.ConfigError{Section: section, Err: err}
		}
		if l != nil {
			l.SectionFailed(section, err)
		}
		return err
	}

	if l != nil {
		l.SectionApplied(section)
	}

	return nil
}

func (b *Bridge) applyMapping(value []byte) error {
	tree, err := schema.DecodeTree(value)
	if err != nil {
		return err //nolint:wrapcheck // wrapped as a config error by Apply
	}
	if len(tree) == 0 {
		b.log.Debug("Mapping empty")
	}

	entries, err := schema.ParseMapping(tree)
	if err != nil {
		return err //nolint:wrapcheck // already a config error
	}

	b.log.Info("Updating mapping", slog.Any("mapping", entries))

	if err := b.targets.Mapping.Replace(entries); err != nil {
		return fmt.Errorf("replace mapping: %w", err)
	}

	return nil
}

func (b *Bridge) applyDefinitions(value []byte) error {
	tree, err := schema.DecodeTree(value)
	if err != nil {
		return err //nolint:wrapcheck // wrapped as a config error by Apply
	}
	if len(tree) == 0 {
		b.log.Debug("Stream definition config empty")
	}

	defs, err := schema.ParseStreamDefinitions(tree)
	if err != nil {
		return err //nolint:wrapcheck // already a config error
	}

	b.log.Info("Updating stream definitions", slog.Any("streams", defs))

	if err := b.targets.Catalog.Replace(defs); err != nil {
		return fmt.Errorf("replace stream definitions: %w", err)
	}

	return nil
}

func (b *Bridge) applyCAs(value []byte) error {
	pems, err := schema.ParseCertificateAuthorities(value)
	if err != nil {
		return err //nolint:wrapcheck // already a config error
	}
	if len(pems) == 0 {
		b.log.Debug("CA list null or empty")
		return nil
	}
	if b.targets.KeyStore == nil {
		b.log.Warn("No key store to update, ignoring CA list")
		return nil
	}

	if err := b.targets.KeyStore.UpdateCA(pems); err != nil {
		return fmt.Errorf("update CA list: %w", err)
	}

	b.log.Info("Updated certificate authorities", slog.Int("count", len(pems)))

	return nil
}

func (b *Bridge) applyPort(value []byte) error {
	port, err := schema.ParsePort(value)
	if err != nil {
		return err //nolint:wrapcheck // already a config error
	}

	b.port.Store(int64(port))
	b.log.Info("Stream service port configured", slog.Int("port", b.Port()))

	return nil
}
