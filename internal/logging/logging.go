package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/connreg/config"
)

// DefaultLokiLabels are attached to every Loki stream when the configuration
// declares no labels.
var DefaultLokiLabels = map[string]string{"app": "connreg"}

// Setup creates a zerolog logger according to the provided configuration.
// The returned cleanup flushes remote writers and must be called on shutdown.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	var local io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		local = out
	case "text", "console":
		local = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	default:
		return zerolog.Logger{}, nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	writers := []io.Writer{local}
	cleanup := func() {}
	if cfg.Loki.Enabled {
		writer, stop, err := newLokiWriter(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, writer)
		cleanup = stop
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger().
		Level(level)
	return logger, cleanup, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func lokiLabels(cfg config.LokiConfig) model.LabelSet {
	source := cfg.Labels
	if len(source) == 0 {
		source = DefaultLokiLabels
	}
	labels := make(model.LabelSet, len(source))
	for k, v := range source {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	return labels
}

func newLokiWriter(cfg config.LokiConfig) (io.Writer, func(), error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}
	labels := lokiLabels(cfg)
	if err := labels.Validate(); err != nil {
		client.Stop()
		return nil, nil, fmt.Errorf("loki labels: %w", err)
	}
	return &lokiWriter{client: client, labels: labels}, client.Stop, nil
}

type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	return len(p), l.client.Handle(l.labels, time.Now(), entry)
}
