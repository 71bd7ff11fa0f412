package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfydrive/graphapi"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, cfg.Server.URL)
	assert.Equal(t, 120*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 120*time.Second, cfg.Jobs.Timeout)
	assert.Equal(t, time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 3, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "./workflows", cfg.Workflows.Dir)
	assert.Equal(t, 1, cfg.Workflows.DefaultIndex)
	assert.True(t, cfg.Prompts.GlobalInHead)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comfydrive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: https://comfy.example.com:8443/
  request_timeout: 45s
jobs:
  timeout: 5m
  poll_interval: 250ms
  max_concurrent: 1
workflows:
  dir: /srv/workflows
  default_index: 2
prompts:
  positive_global: "masterpiece, "
  negative_global: "blurry, "
  global_in_head: false
logging:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://comfy.example.com:8443", cfg.Server.URL)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.PollInterval)
	assert.Equal(t, 1, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "/srv/workflows", cfg.Workflows.Dir)
	assert.Equal(t, 2, cfg.Workflows.DefaultIndex)
	assert.Equal(t, "masterpiece, ", cfg.Prompts.PositiveGlobal)
	assert.Equal(t, "blurry, ", cfg.Prompts.NegativeGlobal)
	assert.False(t, cfg.Prompts.GlobalInHead)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestParseRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"scheme", "server:\n  url: localhost:8188\n"},
		{"level", "logging:\n  level: verbose\n"},
		{"format", "logging:\n  format: xml\n"},
		{"syntax", "server: [\n"},
		{"duration", "jobs:\n  timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestTaxonomyExtendsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
taxonomy:
  sampler: [MySampler]
  passthrough: [MyReroute]
  max_trace_depth: 3
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"MySampler"}, cfg.Types.Sampler)

	tax := cfg.Taxonomy()
	assert.True(t, tax.Sampler.Has("MySampler"))
	assert.True(t, tax.Sampler.Has("KSampler"))
	assert.True(t, tax.Passthrough.Has("MyReroute"))
	assert.True(t, tax.Passthrough.Has("Reroute"))
	assert.Equal(t, 3, tax.MaxTraceDepth)

	// the built in taxonomy is untouched
	assert.False(t, graphapi.DefaultTaxonomy().Sampler.Has("MySampler"))
	assert.Equal(t, graphapi.DefaultMaxTraceDepth, Default().Taxonomy().MaxTraceDepth)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger.Warn("poll failed", "job", "42")
	assert.Contains(t, buf.String(), `"msg":"poll failed"`)
	assert.Contains(t, buf.String(), `"job":"42"`)

	buf.Reset()
	LoggingConfig{Level: "debug"}.NewLogger(&buf).Debug("tick")
	assert.Contains(t, buf.String(), "msg=tick")
}
