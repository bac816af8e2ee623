package catalog

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
)

// DefaultKey selects the default template, compared case-insensitively.
const DefaultKey = "default"

var ErrInvalidArgument = errors.New("invalid argument")

// SyntheticDefault is used when no default template is configured.
func SyntheticDefault() StreamDefinition {
	//nolint: exhaustruct // service baseline for everything else
	return StreamDefinition{
		StrategyOnFull: RejectNewData,
	}
}

type snapshot struct {
	defs     map[string]StreamDefinition
	ordered  []StreamDefinition
	fallback StreamDefinition
}

// Catalog holds the stream templates.
type Catalog struct {
	current atomic.Pointer[snapshot]
}

func New() *Catalog {
	//nolint: exhaustruct // pointer is set below
	c := &Catalog{}
	c.current.Store(&snapshot{
		defs:     map[string]StreamDefinition{},
		ordered:  nil,
		fallback: SyntheticDefault(),
	})
	return c
}

// Replace swaps the full template set and recomputes the default template.
func (c *Catalog) Replace(defs map[string]StreamDefinition) error {
	if defs == nil {
		return fmt.Errorf("replace stream definitions with nil: %w", ErrInvalidArgument)
	}

	keys := slices.Sorted(maps.Keys(defs))

	s := &snapshot{
		defs:     maps.Clone(defs),
		ordered:  make([]StreamDefinition, 0, len(keys)),
		fallback: SyntheticDefault(),
	}

	defaultFound := false
	for _, k := range keys {
		s.ordered = append(s.ordered, defs[k])
		if !defaultFound && strings.EqualFold(k, DefaultKey) {
			s.fallback = defs[k]
			defaultFound = true
		}
	}

	c.current.Store(s)

	return nil
}

// Lookup finds a template by its Name field. The first match in key order wins.
func (c *Catalog) Lookup(name string) (zero StreamDefinition, _ bool) {
	want := strings.TrimSpace(name)

	for _, d := range c.current.Load().ordered {
		if strings.TrimSpace(d.Name) == want {
			return d, true
		}
	}

	return zero, false
}

// Default returns the default template.
func (c *Catalog) Default() StreamDefinition {
	return c.current.Load().fallback
}

// Definitions returns a copy of the template set.
func (c *Catalog) Definitions() map[string]StreamDefinition {
	return maps.Clone(c.current.Load().defs)
}
