package mapping

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// ReservedTopicFilter is used by the bridge itself and cannot be mapped.
const ReservedTopicFilter = "$SM-BRIDGE/+/#"

var ErrInvalidArgument = errors.New("invalid argument")

// Entry maps an MQTT topic filter to a destination stream.
type Entry struct {
	Topic       string `json:"topic"`
	Stream      string `json:"stream"`
	AppendTime  bool   `json:"appendTime"`
	AppendTopic bool   `json:"appendTopic"`
}

func (e Entry) String() string {
	return fmt.Sprintf("{topic: %s, stream: %s, appendTime: %t, appendTopic: %t}",
		e.Topic, e.Stream, e.AppendTime, e.AppendTopic)
}

type snapshot struct {
	entries map[string]Entry
	keys    []string
}

// Table holds the live mapping. Readers always see a complete snapshot.
type Table struct {
	current atomic.Pointer[snapshot]

	listenersMu sync.Mutex
	listeners   atomic.Pointer[[]func()]
}

func NewTable() *Table {
	//nolint: exhaustruct // zero values are ready to use
	t := &Table{}
	t.current.Store(&snapshot{entries: map[string]Entry{}, keys: nil})
	t.listeners.Store(&[]func(){})
	return t
}

// Replace swaps the whole mapping and then notifies listeners in
// registration order. A nil map is rejected, an empty one disables routing.
func (t *Table) Replace(entries map[string]Entry) error {
	if entries == nil {
		return fmt.Errorf("replace mapping with nil: %w", ErrInvalidArgument)
	}

	if err := Validate(entries); err != nil {
		return err
	}

	t.current.Store(&snapshot{
		entries: maps.Clone(entries),
		keys:    slices.Sorted(maps.Keys(entries)),
	})

	// listeners run outside any lock so they can call Replace themselves
	for _, l := range *t.listeners.Load() {
		l()
	}

	return nil
}

// Current returns a copy of the live mapping.
func (t *Table) Current() map[string]Entry {
	return maps.Clone(t.current.Load().entries)
}

// OnUpdate registers a listener fired after every successful Replace.
func (t *Table) OnUpdate(listener func()) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()

	old := *t.listeners.Load()
	next := make([]func(), 0, len(old)+1)
	next = append(next, old...)
	next = append(next, listener)
	t.listeners.Store(&next)
}

// Match returns every entry whose filter matches topic, ordered by entry key.
func (t *Table) Match(topic string) []Entry {
	s := t.current.Load()

	var matched []Entry
	for _, k := range s.keys {
		e := s.entries[k]
		if MatchTopic(strings.TrimSpace(e.Topic), topic) {
			matched = append(matched, e)
		}
	}

	return matched
}

// Filters returns the distinct topic filters of the live mapping.
func (t *Table) Filters() []string {
	s := t.current.Load()

	seen := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		seen[strings.TrimSpace(e.Topic)] = struct{}{}
	}

	return slices.Sorted(maps.Keys(seen))
}

// Validate checks a full mapping batch. One bad entry rejects the batch.
func Validate(entries map[string]Entry) error {
	var errs []error

	for _, k := range slices.Sorted(maps.Keys(entries)) {
		e := entries[k]
		topic := strings.TrimSpace(e.Topic)

		switch {
		case topic == "":
			errs = append(errs, fmt.Errorf("entry %q: topic is empty", k))
		case strings.TrimSpace(e.Stream) == "":
			errs = append(errs, fmt.Errorf("entry %q: stream is empty", k))
		default:
			if err := ValidateFilter(topic); err != nil {
				errs = append(errs, fmt.Errorf("entry %q: %w", k, err))
				continue
			}
			if Overlaps(ReservedTopicFilter, topic) {
				errs = append(errs, fmt.Errorf("entry %q: topic %q is in the reserved namespace %s", k, topic, ReservedTopicFilter))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, errors.Join(errs...))
	}

	return nil
}
