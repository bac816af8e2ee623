package service_test

import (
	"context"
	"errors"
	"sync"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/configbridge"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream/mocks"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/transport"
	"github.com/glassflow/mqtt-stream-bridge/internal/service"
)

type fakeTransport struct {
	mu       sync.Mutex
	handler  transport.Handler
	startErr error
	started  int
	stopped  int
	filters  []string
}

func (f *fakeTransport) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeTransport) SyncSubscriptions(filters []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = filters
	return nil
}

func (f *fakeTransport) Filters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.filters...)
}

// deliver simulates the broker handing a message to the bridge.
func (f *fakeTransport) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(context.Background(), topic, []byte(payload))
}

func (f *fakeTransport) factory() service.TransportFactory {
	return func(h transport.Handler) (service.Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = h
		return f, nil
	}
}

type fakeConn struct {
	client  *mocks.MockClient
	closed  int
	onClose func()
}

func (c *fakeConn) Client() stream.Client { return c.client }

func (c *fakeConn) Close() error {
	c.closed++
	if c.onClose != nil {
		c.onClose()
	}
	return nil
}

type fakeStreams struct {
	mu    sync.Mutex
	err   error
	ports []int
	conns []*fakeConn
}

func (f *fakeStreams) factory() service.StreamFactory {
	return func(_ context.Context, port int) (service.StreamConn, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.ports = append(f.ports, port)
		if f.err != nil {
			return nil, f.err
		}
		c := &fakeConn{client: mocks.NewMockClient(), closed: 0, onClose: nil}
		f.conns = append(f.conns, c)
		return c, nil
	}
}

func (f *fakeStreams) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeStreams) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

type fakeConfig struct {
	ready    chan struct{}
	port     int
	startErr error
	listener configbridge.Listener
}

func newFakeConfig() *fakeConfig {
	ready := make(chan struct{})
	close(ready)
	return &fakeConfig{ready: ready, port: 8088, startErr: nil, listener: nil}
}

func (c *fakeConfig) Start(context.Context) error          { return c.startErr }
func (c *fakeConfig) Ready() <-chan struct{}               { return c.ready }
func (c *fakeConfig) Port() int                            { return c.port }
func (c *fakeConfig) SetListener(l configbridge.Listener) { c.listener = l }

type fakeKeyStore struct {
	err error
}

func (k *fakeKeyStore) Init() error { return k.err }

var errBoom = errors.New("boom")
