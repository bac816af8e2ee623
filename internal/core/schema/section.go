package schema

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/stream"
)

// Configuration sections, also used as the config bucket keys.
const (
	SectionMapping                = "mqttStreamMapping"
	SectionStreamDefinition       = "streamDefinition"
	SectionCertificateAuthorities = "certificateAuthorities"
	SectionStreamManagerPort      = "streamManagerPort"
)

// Sections lists every configuration section the bridge watches.
func Sections() []string {
	return []string{
		SectionMapping,
		SectionStreamDefinition,
		SectionCertificateAuthorities,
		SectionStreamManagerPort,
	}
}

type fieldSetter[T any] func(target *T, value any) error

// Field names are matched case-insensitively, keyed here in lower case.
var mappingFields = map[string]fieldSetter[mapping.Entry]{ //nolint:gochecknoglobals // lookup table
	"topic": func(e *mapping.Entry, v any) (err error) {
		e.Topic, err = cast.ToStringE(v)
		return err //nolint:wrapcheck // wrapped by the caller
	},
	"stream": func(e *mapping.Entry, v any) (err error) {
		e.Stream, err = cast.ToStringE(v)
		return err //nolint:wrapcheck // wrapped by the caller
	},
	"appendtime": func(e *mapping.Entry, v any) (err error) {
		e.AppendTime, err = cast.ToBoolE(v)
		return err //nolint:wrapcheck // wrapped by the caller
	},
	"appendtopic": func(e *mapping.Entry, v any) (err error) {
		e.AppendTopic, err = cast.ToBoolE(v)
		return err //nolint:wrapcheck // wrapped by the caller
	},
}

var definitionFields = map[string]fieldSetter[catalog.StreamDefinition]{ //nolint:gochecknoglobals // lookup table
	"name": func(d *catalog.StreamDefinition, v any) (err error) {
		d.Name, err = cast.ToStringE(v)
		return err //nolint:wrapcheck // wrapped by the caller
	},
	"maxsize": func(d *catalog.StreamDefinition, v any) (err error) {
		d.MaxSize, err = toInt64(v)
		return err
	},
	"streamsegmentsize": func(d *catalog.StreamDefinition, v any) (err error) {
		d.StreamSegmentSize, err = toInt64(v)
		return err
	},
	"timetolivemillis": func(d *catalog.StreamDefinition, v any) (err error) {
		d.TimeToLiveMillis, err = toInt64(v)
		return err
	},
	"strategyonfull": func(d *catalog.StreamDefinition, v any) error {
		if v == nil {
			return nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return err //nolint:wrapcheck // wrapped by the caller
		}
		d.StrategyOnFull, err = catalog.ParseStrategyOnFull(s)
		return err
	},
	"persistence": func(d *catalog.StreamDefinition, v any) error {
		if v == nil {
			return nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return err //nolint:wrapcheck // wrapped by the caller
		}
		d.Persistence, err = catalog.ParsePersistence(s)
		return err
	},
	"flushonwrite": func(d *catalog.StreamDefinition, v any) (err error) {
		d.FlushOnWrite, err = cast.ToBoolE(v)
		return err //nolint:wrapcheck // wrapped by the caller
	},
	"exportdefinition": func(d *catalog.StreamDefinition, v any) error {
		if v == nil {
			d.ExportDefinition = nil
			return nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode export definition: %w", err)
		}
		d.ExportDefinition = b
		return nil
	},
}

func toInt64(v any) (int64, error) {
	if f, ok := v.(float64); ok && f != float64(int64(f)) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by the caller
	}
	return n, nil
}

// DecodeTree decodes a raw section value. An empty value, or JSON null,
// is an empty section.
func DecodeTree(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}

	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}

	return tree, nil
}

func decodeObject[T any](key string, value any, fields map[string]fieldSetter[T]) (zero T, _ error) {
	obj, err := cast.ToStringMapE(value)
	if err != nil {
		return zero, fmt.Errorf("entry %q is not an object: %w", key, err)
	}

	var out T
	seen := make(map[string]string, len(obj))

	for _, name := range slices.Sorted(maps.Keys(obj)) {
		lower := strings.ToLower(name)

		set, ok := fields[lower]
		if !ok {
			return zero, fmt.Errorf("entry %q: unknown field %q", key, name)
		}
		if prev, dup := seen[lower]; dup {
			return zero, fmt.Errorf("entry %q: field %q duplicates %q", key, name, prev)
		}
		seen[lower] = name

		if err := set(&out, obj[name]); err != nil {
			return zero, fmt.Errorf("entry %q: field %q: %w", key, name, err)
		}
	}

	return out, nil
}

// ParseMapping converts a decoded mqttStreamMapping section into mapping
// entries. The batch is validated as the mapping table would.
func ParseMapping(tree map[string]any) (map[string]mapping.Entry, error) {
	entries := make(map[string]mapping.Entry, len(tree))

	for key, value := range tree {
		e, err := decodeObject(key, value, mappingFields)
		if err != nil {
			return nil, newConfigError(SectionMapping, err)
		}
		entries[key] = e
	}

	if err := mapping.Validate(entries); err != nil {
		return nil, newConfigError(SectionMapping, err)
	}

	for _, k := range slices.Sorted(maps.Keys(entries)) {
		if err := stream.ValidateName(strings.TrimSpace(entries[k].Stream)); err != nil {
			return nil, newConfigError(SectionMapping, fmt.Errorf("entry %q: %w", k, err))
		}
	}

	return entries, nil
}

// ParseStreamDefinitions converts a decoded streamDefinition section into
// stream templates.
func ParseStreamDefinitions(tree map[string]any) (map[string]catalog.StreamDefinition, error) {
	defs := make(map[string]catalog.StreamDefinition, len(tree))

	for key, value := range tree {
		d, err := decodeObject(key, value, definitionFields)
		if err != nil {
			return nil, newConfigError(SectionStreamDefinition, err)
		}
		defs[key] = d
	}

	return defs, nil
}

// ParseCertificateAuthorities accepts a JSON list of PEM strings. An empty
// value yields an empty list.
func ParseCertificateAuthorities(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, newConfigError(SectionCertificateAuthorities, fmt.Errorf("decode CA list: %w", err))
	}

	pems, err := cast.ToStringSliceE(list)
	if err != nil {
		return nil, newConfigError(SectionCertificateAuthorities, err)
	}

	out := make([]string, 0, len(pems))
	for _, p := range pems {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}

	return out, nil
}

// ParsePort reads the stream service port. An empty value yields zero,
// meaning the default port.
func ParsePort(raw []byte) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}

	port, err := cast.ToIntE(s)
	if err != nil {
		return 0, newConfigError(SectionStreamManagerPort, fmt.Errorf("parse port %q: %w", s, err))
	}
	if port <= 0 || port > 65535 {
		return 0, newConfigError(SectionStreamManagerPort, fmt.Errorf("port %d out of range", port))
	}

	return port, nil
}
