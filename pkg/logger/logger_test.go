package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", "json", &buf)

	log.Info("hidden")
	log.Warn("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", "json", &buf)

	log.WithServiceType("skin-analysis").WithTaskID("t-1").Info("deferred")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "deferred", entry["msg"])
	assert.Equal(t, "skin-analysis", entry["service_type"])
	assert.Equal(t, "t-1", entry["task_id"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("debug", "text", &buf)

	log.Debug("trace detail")

	assert.Contains(t, buf.String(), "trace detail")
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", "json", &buf)

	log.WithRequestID("req-123").Info("request completed")

	assert.Contains(t, buf.String(), "req-123")
}
