package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := NewZerologLogger(&Config{
		Level:       level,
		Format:      JSONFormat,
		Outputs:     []io.Writer{buf},
		Environment: "production",
	})
	return log, buf
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, TraceLevel, ParseLogLevel("trace"))
	assert.Equal(t, WarnLevel, ParseLogLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("err"))
	assert.Equal(t, InfoLevel, ParseLogLevel("bogus"))
}

func TestZerologLogger_TypedFields(t *testing.T) {
	log, buf := newBufferLogger(DebugLevel)

	log.Info("token issued",
		String("wallet_id", "w1"),
		Int("attempt", 2),
		Int64("expires_at", 1060),
		Bool("cached", false),
		Duration("ttl", time.Minute),
		Err(errors.New("boom")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token issued", entry["message"])
	assert.Equal(t, "w1", entry["wallet_id"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, float64(1060), entry["expires_at"])
	assert.Equal(t, false, entry["cached"])
	assert.Equal(t, "boom", entry["error"])
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(WarnLevel)

	log.Debug("quiet")
	log.Info("also quiet")
	assert.Zero(t, buf.Len())

	log.Warn("loud")
	assert.NotZero(t, buf.Len())

	assert.True(t, log.IsLevelEnabled(ErrorLevel))
	assert.False(t, log.IsLevelEnabled(DebugLevel))
}

func TestZerologLogger_WithSubsystem(t *testing.T) {
	log, buf := newBufferLogger(InfoLevel)

	log.WithSubsystem("multitenant").WithSubsystem("sweeper").Info("sweep complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "multitenant.sweeper", entry["module"])
}

func TestZerologLogger_WithFields(t *testing.T) {
	log, buf := newBufferLogger(InfoLevel)

	log.WithFields(String("wallet_id", "w1")).Info("first")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "w1", entry["wallet_id"])
}
