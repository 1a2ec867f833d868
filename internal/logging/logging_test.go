package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/connreg/config"
)

func TestSetupWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Level: "WARN"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("connection", "orders").Msg("connect failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "orders", entry["connection"])
	require.Equal(t, "connect failed", entry["message"])
	require.Contains(t, entry, "time")
}

func TestSetupTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := setup(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("ready")
	require.Contains(t, buf.String(), "INF")
	require.Contains(t, buf.String(), "ready")
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestSetupRejectsInvalidSettings(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)

	_, _, err = Setup(config.LoggingConfig{Format: "xml"})
	require.Error(t, err)

	_, _, err = Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}})
	require.ErrorContains(t, err, "loki url is required")
}

func TestLokiLabelsDefault(t *testing.T) {
	require.Equal(t, model.LabelSet{"app": "connreg"}, lokiLabels(config.LokiConfig{}))
	require.Equal(t, model.LabelSet{"env": "prod"}, lokiLabels(config.LokiConfig{Labels: map[string]string{"env": "prod"}}))
}
