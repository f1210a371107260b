package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterEmitsJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info").With("service")

	l.Info().Str("sale_id", "sale_1").Msg("sale_committed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "service", entry["component"])
	assert.Equal(t, "sale_1", entry["sale_id"])
	assert.Equal(t, "sale_committed", entry["message"])
}

func TestLevelFiltersLowerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")

	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	l.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}
