package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: NewOutput(&buf),
	})

	logger.Info("publishing artifact", "arch", "aarch64", "version", "15.0.0")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "publishing artifact", entry["msg"])
	assert.Equal(t, "aarch64", entry["arch"])
	assert.Equal(t, "15.0.0", entry["version"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelWarn,
		Format: FormatText,
		Output: NewOutput(&buf),
	})

	logger.Debug("not shown")
	logger.Info("not shown either")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.Contains(t, out, "shown")
}

func TestWithErrorPackError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: NewOutput(&buf),
	})

	err := errors.Wrap(errors.ErrCodeFetchFailed, "failed to fetch source", fmt.Errorf("timeout"))
	logger.WithError(err).Error("stage failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "FETCH-002", entry["error_code"])
	assert.Equal(t, "FetchFailed", entry["error_kind"])
	assert.Equal(t, "timeout", entry["cause"])
}

func TestParseLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, FormatText, ParseFormat("console"))
	assert.Equal(t, FormatJSON, ParseFormat("bogus"))
}
