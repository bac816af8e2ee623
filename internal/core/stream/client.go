package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
)

const (
	DefaultSubjectPrefix = "smbridge"

	metadataSegmentSize = "smbridge.segment_size"
	metadataFlush       = "smbridge.flush_on_write"
	metadataExport      = "smbridge.export_definition"
)

var (
	ErrStreamExists      = errors.New("stream already exists")
	ErrInvalidStreamName = errors.New("invalid stream name")
)

// ValidateName applies the JetStream stream naming rules: no whitespace,
// no subject tokens and no path separators.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidStreamName)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidStreamName, name)
	}
	if strings.ContainsAny(name, ".*>/\\") {
		return fmt.Errorf("%w: %q contains one of . * > / \\", ErrInvalidStreamName, name)
	}
	return nil
}

type StreamInfo struct {
	Name     string
	Messages uint64
	Bytes    uint64
	Created  time.Time
}

// Client is the narrow contract of the stream storage service.
type Client interface {
	Describe(ctx context.Context, name string) (StreamInfo, error)
	Create(ctx context.Context, def catalog.StreamDefinition) error
	Append(ctx context.Context, name string, payload []byte) error
}

// JetStreamClient stores every stream as a JetStream stream bound to a
// single subject: <prefix>.<name>.
type JetStreamClient struct {
	js            jetstream.JetStream
	subjectPrefix string
}

func NewJetStreamClient(js jetstream.JetStream, subjectPrefix string) *JetStreamClient {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	return &JetStreamClient{
		js:            js,
		subjectPrefix: subjectPrefix,
	}
}

func (c *JetStreamClient) Subject(name string) string {
	return c.subjectPrefix + "." + name
}

func (c *JetStreamClient) Describe(ctx context.Context, name string) (zero StreamInfo, _ error) {
	s, err := c.js.Stream(ctx, name)
	if err != nil {
		return zero, fmt.Errorf("describe stream %s: %w", name, err)
	}

	info := s.CachedInfo()

	return StreamInfo{
		Name:     info.Config.Name,
		Messages: info.State.Msgs,
		Bytes:    info.State.Bytes,
		Created:  info.Created,
	}, nil
}

func (c *JetStreamClient) Create(ctx context.Context, def catalog.StreamDefinition) error {
	sc, err := c.StreamConfig(def)
	if err != nil {
		return err
	}

	_, err = c.js.CreateStream(ctx, sc)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("create stream %s: %w", sc.Name, ErrStreamExists)
		}
		return fmt.Errorf("create stream %s: %w", sc.Name, err)
	}

	return nil
}

func (c *JetStreamClient) Append(ctx context.Context, name string, payload []byte) error {
	_, err := c.js.Publish(ctx, c.Subject(name), payload, jetstream.WithExpectStream(name))
	if err != nil {
		return fmt.Errorf("append to stream %s: %w", name, err)
	}

	return nil
}

// StreamConfig translates a template into a JetStream stream config.
func (c *JetStreamClient) StreamConfig(def catalog.StreamDefinition) (zero jetstream.StreamConfig, _ error) {
	name := strings.TrimSpace(def.Name)
	if err := ValidateName(name); err != nil {
		return zero, fmt.Errorf("stream definition: %w", err)
	}

	//nolint: exhaustruct // unset fields keep the server defaults
	sc := jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{c.Subject(name)},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardNew,
		Metadata:  map[string]string{},
	}

	if def.MaxSize > 0 {
		sc.MaxBytes = def.MaxSize
	}
	if def.TimeToLiveMillis > 0 {
		sc.MaxAge = time.Duration(def.TimeToLiveMillis) * time.Millisecond
	}

	switch def.StrategyOnFull {
	case catalog.OverwriteOldestData:
		sc.Discard = jetstream.DiscardOld
	case catalog.RejectNewData, "":
		sc.Discard = jetstream.DiscardNew
	default:
		return zero, fmt.Errorf("stream %s: unsupported strategy on full %q", name, def.StrategyOnFull)
	}

	switch def.Persistence {
	case catalog.PersistenceMemory:
		sc.Storage = jetstream.MemoryStorage
	case catalog.PersistenceFile, "":
		sc.Storage = jetstream.FileStorage
	default:
		return zero, fmt.Errorf("stream %s: unsupported persistence %q", name, def.Persistence)
	}

	if def.StreamSegmentSize > 0 {
		sc.Metadata[metadataSegmentSize] = strconv.FormatInt(def.StreamSegmentSize, 10)
	}
	if def.FlushOnWrite {
		sc.Metadata[metadataFlush] = strconv.FormatBool(def.FlushOnWrite)
	}
	if len(def.ExportDefinition) > 0 {
		sc.Metadata[metadataExport] = string(def.ExportDefinition)
	}

	return sc, nil
}
