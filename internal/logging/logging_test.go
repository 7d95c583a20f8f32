package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf, ServiceName: "aala-test"})

	log.Debug().Msg("hidden")
	log.Warn().Str("file", "MY2024_AALA.pdf").Int("page", 3).Msg("page skipped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "aala-test", entry["service"])
	assert.Equal(t, "MY2024_AALA.pdf", entry["file"])
	assert.EqualValues(t, 3, entry["page"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("").String())
}
