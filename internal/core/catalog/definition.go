package catalog

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type StrategyOnFull string

const (
	RejectNewData       StrategyOnFull = "RejectNewData"
	OverwriteOldestData StrategyOnFull = "OverwriteOldestData"
)

func ParseStrategyOnFull(s string) (StrategyOnFull, error) {
	switch {
	case strings.EqualFold(s, string(RejectNewData)):
		return RejectNewData, nil
	case strings.EqualFold(s, string(OverwriteOldestData)):
		return OverwriteOldestData, nil
	default:
		return "", fmt.Errorf("unknown strategy on full %q", s)
	}
}

type Persistence string

const (
	PersistenceFile   Persistence = "File"
	PersistenceMemory Persistence = "Memory"
)

func ParsePersistence(s string) (Persistence, error) {
	switch {
	case strings.EqualFold(s, string(PersistenceFile)):
		return PersistenceFile, nil
	case strings.EqualFold(s, string(PersistenceMemory)):
		return PersistenceMemory, nil
	default:
		return "", fmt.Errorf("unknown persistence %q", s)
	}
}

// StreamDefinition is the template a stream is created from.
// Zero values leave the setting to the storage service.
type StreamDefinition struct {
	Name              string         `json:"name"`
	MaxSize           int64          `json:"maxSize,omitempty"`
	StreamSegmentSize int64          `json:"streamSegmentSize,omitempty"`
	TimeToLiveMillis  int64          `json:"timeToLiveMillis,omitempty"`
	StrategyOnFull    StrategyOnFull `json:"strategyOnFull,omitempty"`
	Persistence       Persistence    `json:"persistence,omitempty"`
	FlushOnWrite      bool           `json:"flushOnWrite,omitempty"`

	// ExportDefinition is carried to the storage service untouched.
	ExportDefinition json.RawMessage `json:"exportDefinition,omitempty"`
}

// WithName returns a copy of d targeting another stream.
func (d StreamDefinition) WithName(name string) StreamDefinition {
	d.Name = name
	if d.ExportDefinition != nil {
		d.ExportDefinition = append(json.RawMessage(nil), d.ExportDefinition...)
	}
	return d
}

func (d StreamDefinition) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("{name: %s}", d.Name)
	}
	return string(b)
}
