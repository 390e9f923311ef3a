package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

func TestLogger_IncludesStackAndServiceOnError(t *testing.T) {
	var buf bytes.Buffer
	log := New("test-service", WithWriter(&buf))
	log.Error().Stack().Err(errors.New("boom")).Msg("something failed")

	line := lastNonEmptyLine(buf.String())
	require.NotEmpty(t, line, "no output captured")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &payload), line)

	assert.Equal(t, "test-service", payload["service"])
	assert.Equal(t, "error", payload["level"])
	assert.Contains(t, payload, "stack")
	assert.Contains(t, payload, "time")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("svc", WithWriter(&buf), WithLevel("warn"))
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestLogger_UnknownLevelKeepsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("svc", WithWriter(&buf), WithLevel("loud"))
	log.Debug().Msg("debug-line")
	log.Info().Msg("info-line")

	assert.NotContains(t, buf.String(), "debug-line")
	assert.Contains(t, buf.String(), "info-line")
}
