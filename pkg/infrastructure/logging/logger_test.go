package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, level)

	level, err = ParseLogLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, level)

	_, err = ParseLogLevel("bogus")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: WarnLevel, Format: TextFormat, Output: &buf})

	logger.Info("should be dropped", nil)
	logger.Warn("should appear", nil)

	out := buf.String()
	assert.NotContains(t, out, "should be dropped")
	assert.Contains(t, out, "should appear")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Output: &buf, Component: "pool"})

	logger.Info("block added", map[string]interface{}{"bytes": 4096})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "pool", entry.Component)
	assert.Equal(t, "block added", entry.Message)
	assert.EqualValues(t, 4096, entry.Fields["bytes"])
}

func TestWithComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&Config{Level: DebugLevel, Format: TextFormat, Output: &buf})

	derived := base.WithComponent("refill").WithField("source", "sdo")
	derived.Infof("processed %d frames", 3)

	out := buf.String()
	assert.Contains(t, out, "[refill]")
	assert.Contains(t, out, "source=sdo")
	assert.Contains(t, out, "processed 3 frames")

	// Parent logger must stay untagged.
	buf.Reset()
	base.Info("plain", nil)
	assert.False(t, strings.Contains(buf.String(), "refill"))
}
