package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Config{Level: "debug", Format: "json"}, &buf), "indexer")
	logger.Debug().Str("event_id", "0xtx-1").Msg("processed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "indexer", line["component"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "processed", line["message"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "bogus"}, &buf)
	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
