package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/schema"
)

func TestDecodeTree_EmptyValues(t *testing.T) {
	for _, raw := range []string{"", "   ", "null", "{}"} {
		tree, err := schema.DecodeTree([]byte(raw))
		require.NoError(t, err, raw)
		assert.NotNil(t, tree)
		assert.Empty(t, tree)
	}

	_, err := schema.DecodeTree([]byte("[1,2]"))
	require.Error(t, err)
}

func TestParseMapping(t *testing.T) {
	tree, err := schema.DecodeTree([]byte(`{
		"m1": {"topic": "sensors/temp", "stream": "temps", "appendTime": true},
		"m2": {"TOPIC": "sensors/#", "Stream": "all", "AppendTopic": "true", "appendtime": false}
	}`))
	require.NoError(t, err)

	entries, err := schema.ParseMapping(tree)
	require.NoError(t, err)

	assert.Equal(t, map[string]mapping.Entry{
		"m1": {Topic: "sensors/temp", Stream: "temps", AppendTime: true, AppendTopic: false},
		"m2": {Topic: "sensors/#", Stream: "all", AppendTime: false, AppendTopic: true},
	}, entries)
}

func TestParseMapping_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown field", raw: `{"m1": {"topic": "a", "stream": "s", "qos": 1}}`},
		{name: "duplicate field", raw: `{"m1": {"topic": "a", "Topic": "b", "stream": "s"}}`},
		{name: "not an object", raw: `{"m1": 5}`},
		{name: "bad bool", raw: `{"m1": {"topic": "a", "stream": "s", "appendTime": "sometimes"}}`},
		{name: "missing stream", raw: `{"m1": {"topic": "a"}}`},
		{name: "malformed filter", raw: `{"m1": {"topic": "a/#/b", "stream": "s"}}`},
		{name: "reserved filter", raw: `{"m1": {"topic": "$SM-BRIDGE/x/y", "stream": "s"}}`},
		{name: "stream with dot", raw: `{"m1": {"topic": "a", "stream": "temps.raw"}}`},
		{name: "stream with wildcard", raw: `{"m1": {"topic": "a", "stream": "temps*"}}`},
		{name: "stream with gt", raw: `{"m1": {"topic": "a", "stream": "temps>"}}`},
		{name: "stream with inner space", raw: `{"m1": {"topic": "a", "stream": "temp stream"}}`},
		{name: "stream with slash", raw: `{"m1": {"topic": "a", "stream": "sensors/temp"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree, err := schema.DecodeTree([]byte(tc.raw))
			require.NoError(t, err)

			_, err = schema.ParseMapping(tree)
			require.Error(t, err)

			var cfgErr *schema.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, schema.SectionMapping, cfgErr.Section)
		})
	}
}

func TestParseMapping_TrimsStreamNameBeforeValidation(t *testing.T) {
	tree, err := schema.DecodeTree([]byte(`{"m1": {"topic": "a", "stream": " temps "}}`))
	require.NoError(t, err)

	entries, err := schema.ParseMapping(tree)
	require.NoError(t, err)
	assert.Equal(t, " temps ", entries["m1"].Stream)
}

func TestParseStreamDefinitions(t *testing.T) {
	tree, err := schema.DecodeTree([]byte(`{
		"Default": {"maxSize": 1048576, "strategyOnFull": "overwriteoldestdata"},
		"temps": {
			"NAME": "temps",
			"streamSegmentSize": "4096",
			"timeToLiveMillis": 60000,
			"persistence": "Memory",
			"flushOnWrite": true,
			"exportDefinition": {"kinesis": [{"identifier": "k1"}]}
		}
	}`))
	require.NoError(t, err)

	defs, err := schema.ParseStreamDefinitions(tree)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	def := defs["Default"]
	assert.Empty(t, def.Name)
	assert.Equal(t, int64(1048576), def.MaxSize)
	assert.Equal(t, catalog.OverwriteOldestData, def.StrategyOnFull)

	temps := defs["temps"]
	assert.Equal(t, "temps", temps.Name)
	assert.Equal(t, int64(4096), temps.StreamSegmentSize)
	assert.Equal(t, int64(60000), temps.TimeToLiveMillis)
	assert.Equal(t, catalog.PersistenceMemory, temps.Persistence)
	assert.True(t, temps.FlushOnWrite)
	assert.JSONEq(t, `{"kinesis": [{"identifier": "k1"}]}`, string(temps.ExportDefinition))
}

func TestParseStreamDefinitions_Errors(t *testing.T) {
	for name, raw := range map[string]string{
		"unknown strategy":    `{"a": {"strategyOnFull": "DropEverything"}}`,
		"unknown persistence": `{"a": {"persistence": "Tape"}}`,
		"fractional size":     `{"a": {"maxSize": 1.5}}`,
		"unknown field":       `{"a": {"partitions": 3}}`,
	} {
		t.Run(name, func(t *testing.T) {
			tree, err := schema.DecodeTree([]byte(raw))
			require.NoError(t, err)

			_, err = schema.ParseStreamDefinitions(tree)

			var cfgErr *schema.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, schema.SectionStreamDefinition, cfgErr.Section)
		})
	}
}

func TestParseCertificateAuthorities(t *testing.T) {
	pems, err := schema.ParseCertificateAuthorities([]byte(`["-----BEGIN CERTIFICATE-----\nA\n-----END CERTIFICATE-----", " "]`))
	require.NoError(t, err)
	assert.Len(t, pems, 1)

	pems, err = schema.ParseCertificateAuthorities(nil)
	require.NoError(t, err)
	assert.Empty(t, pems)

	_, err = schema.ParseCertificateAuthorities([]byte(`{"ca": "x"}`))
	var cfgErr *schema.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, schema.SectionCertificateAuthorities, cfgErr.Section)
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "9000", want: 9000},
		{raw: `"9001"`, want: 9001},
		{raw: " 8088\n", want: 8088},
		{raw: "abc", wantErr: true},
		{raw: "70000", wantErr: true},
		{raw: "-1", wantErr: true},
	}

	for _, tc := range tests {
		got, err := schema.ParsePort([]byte(tc.raw))
		if tc.wantErr {
			require.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestSections(t *testing.T) {
	assert.Equal(t, []string{
		"mqttStreamMapping",
		"streamDefinition",
		"certificateAuthorities",
		"streamManagerPort",
	}, schema.Sections())
}
