package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json")

	log.Info("patch installed", "member", "getImageData", "layers", 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "patch installed", entry["message"])
	assert.Equal(t, "getImageData", entry["member"])
	assert.EqualValues(t, 1, entry["layers"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud", "json")

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	log.Info("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestWithAndErrors(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json").With("origin", "https://example.com")

	log.Error("store failed", "error", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "https://example.com", entry["origin"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNopIsSilent(t *testing.T) {
	log := Nop()
	assert.NotPanics(t, func() {
		log.Info("nothing")
		log.With("k", "v").Error("nothing")
	})
}
