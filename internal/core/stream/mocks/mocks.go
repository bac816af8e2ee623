package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
)

var ErrNotFound = errors.New("stream not found")

type Appended struct {
	Stream  string
	Payload []byte
}

// MockClient behaves like an empty storage service unless a Func is set.
// Every call is recorded.
type MockClient struct {
	DescribeFunc func(ctx context.Context, name string) (stream.StreamInfo, error)
	CreateFunc   func(ctx context.Context, def catalog.StreamDefinition) error
	AppendFunc   func(ctx context.Context, name string, payload []byte) error

	mu        sync.Mutex
	streams   map[string]struct{}
	Described []string
	Created   []catalog.StreamDefinition
	Appends   []Appended
}

func NewMockClient() *MockClient {
	//nolint: exhaustruct // funcs are optional
	return &MockClient{
		streams: map[string]struct{}{},
	}
}

func (m *MockClient) Describe(ctx context.Context, name string) (stream.StreamInfo, error) {
	m.mu.Lock()
	m.Described = append(m.Described, name)
	_, ok := m.streams[name]
	m.mu.Unlock()

	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, name)
	}
	if !ok {
		return stream.StreamInfo{}, ErrNotFound
	}
	return stream.StreamInfo{Name: name}, nil //nolint:exhaustruct // test value
}

func (m *MockClient) Create(ctx context.Context, def catalog.StreamDefinition) error {
	m.mu.Lock()
	m.Created = append(m.Created, def)
	m.mu.Unlock()

	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, def); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.streams[def.Name] = struct{}{}
	m.mu.Unlock()

	return nil
}

func (m *MockClient) Append(ctx context.Context, name string, payload []byte) error {
	m.mu.Lock()
	m.Appends = append(m.Appends, Appended{Stream: name, Payload: append([]byte(nil), payload...)})
	m.mu.Unlock()

	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, name, payload)
	}
	return nil
}

func (m *MockClient) Calls() (described []string, created []catalog.StreamDefinition, appends []Appended) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.Described...),
		append([]catalog.StreamDefinition(nil), m.Created...),
		append([]Appended(nil), m.Appends...)
}
