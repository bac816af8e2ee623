package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/+", "a/b", true},
		{"a/#", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/c", true},
		{"a/#", "a/c", true},
		{"a/b", "a/b/c", false},
		{"a/+", "a/b/c", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"a/+", "a", false},
		{"+/+", "/finance", true},
		{"/+", "/finance", true},
		{"+", "/finance", false},
		{"#", "a/b/c", true},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
		{"sensors/+/temp", "sensors/kitchen/temp", true},
		{"sensors/+/temp", "sensors/kitchen/humidity", false},
		{"A/b", "a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"_"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.filter, tt.topic))
		})
	}
}

func TestTable_MatchFanOut(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Replace(map[string]Entry{
		"exact":  {Topic: "a/b", Stream: "exact"},
		"single": {Topic: "a/+", Stream: "single"},
		"multi":  {Topic: "a/#", Stream: "multi"},
	}))

	streams := func(entries []Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Stream)
		}
		return out
	}

	assert.Equal(t, []string{"exact", "multi", "single"}, streams(table.Match("a/b")))
	assert.Equal(t, []string{"multi", "single"}, streams(table.Match("a/c")))
	assert.Equal(t, []string{"multi"}, streams(table.Match("a/b/c")))
	assert.Empty(t, table.Match("b"))
}

func TestTable_MatchSameFilterDifferentKeys(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Replace(map[string]Entry{
		"first":  {Topic: "sensors/temp", Stream: "s1"},
		"second": {Topic: "sensors/temp", Stream: "s2", AppendTopic: true},
	}))

	got := table.Match("sensors/temp")
	require.Len(t, got, 2)
	assert.Equal(t, Entry{Topic: "sensors/temp", Stream: "s1"}, got[0])
	assert.Equal(t, Entry{Topic: "sensors/temp", Stream: "s2", AppendTopic: true}, got[1])
}

func TestOverlaps(t *testing.T) {
	assert.True(t, Overlaps(ReservedTopicFilter, "$SM-BRIDGE/x/y"))
	assert.True(t, Overlaps(ReservedTopicFilter, "$SM-BRIDGE/+"))
	assert.True(t, Overlaps(ReservedTopicFilter, "$SM-BRIDGE/#"))
	assert.False(t, Overlaps(ReservedTopicFilter, "$SM-BRIDGE"))
	assert.False(t, Overlaps(ReservedTopicFilter, "#"))
	assert.False(t, Overlaps(ReservedTopicFilter, "+/x/y"))
	assert.False(t, Overlaps(ReservedTopicFilter, "sensors/#"))
}
