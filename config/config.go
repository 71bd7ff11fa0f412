// Package config loads the comfydrive YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinsley/comfydrive/graphapi"
)

const (
	DefaultServerURL      = "http://localhost:8188"
	DefaultRequestTimeout = 120 * time.Second
	DefaultJobTimeout     = 120 * time.Second
	DefaultPollInterval   = time.Second
	DefaultMaxConcurrent  = 3
	DefaultWorkflowDir    = "./workflows"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Types     TaxonomyConfig  `yaml:"taxonomy"`
}

type ServerConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type JobsConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxConcurrent bounds the jobs a single command keeps in flight.
	MaxConcurrent int `yaml:"max_concurrent"`
}

type WorkflowsConfig struct {
	Dir          string `yaml:"dir"`
	DefaultIndex int    `yaml:"default_index"`
}

// PromptsConfig holds text added to every user prompt.
type PromptsConfig struct {
	PositiveGlobal string `yaml:"positive_global"`
	NegativeGlobal string `yaml:"negative_global"`
	// GlobalInHead places the global text before the user text.
	GlobalInHead bool `yaml:"global_in_head"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TaxonomyConfig lists class types added to the built in sets.
type TaxonomyConfig struct {
	PromptEncode      []string `yaml:"prompt_encode"`
	Latent            []string `yaml:"latent"`
	Sampler           []string `yaml:"sampler"`
	LoadImage         []string `yaml:"load_image"`
	Output            []string `yaml:"output"`
	AcceleratedLoader []string `yaml:"accelerated_loader"`
	Passthrough       []string `yaml:"passthrough"`
	MaxTraceDepth     int      `yaml:"max_trace_depth"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Prompts: PromptsConfig{GlobalInHead: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, then validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = DefaultServerURL
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Jobs.Timeout <= 0 {
		c.Jobs.Timeout = DefaultJobTimeout
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = DefaultPollInterval
	}
	if c.Jobs.MaxConcurrent <= 0 {
		c.Jobs.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Workflows.Dir == "" {
		c.Workflows.Dir = DefaultWorkflowDir
	}
	if c.Workflows.DefaultIndex <= 0 {
		c.Workflows.DefaultIndex = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Types.MaxTraceDepth <= 0 {
		c.Types.MaxTraceDepth = graphapi.DefaultMaxTraceDepth
	}
}

// Validate checks the values and normalizes the server URL.
func (c *Config) Validate() error {
	url := strings.TrimSpace(c.Server.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("server.url %q must start with http:// or https://", c.Server.URL)
	}
	c.Server.URL = strings.TrimRight(url, "/")

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// Taxonomy returns the default taxonomy extended with the configured class
// types.
func (c *Config) Taxonomy() *graphapi.Taxonomy {
	tax := graphapi.DefaultTaxonomy()
	tax.PromptEncode.Add(c.Types.PromptEncode...)
	tax.Latent.Add(c.Types.Latent...)
	tax.Sampler.Add(c.Types.Sampler...)
	tax.LoadImage.Add(c.Types.LoadImage...)
	tax.Output.Add(c.Types.Output...)
	tax.AcceleratedLoader.Add(c.Types.AcceleratedLoader...)
	tax.Passthrough.Add(c.Types.Passthrough...)
	tax.MaxTraceDepth = c.Types.MaxTraceDepth
	return tax
}

// NewLogger creates a slog.Logger writing to w. It does not set the global
// logger.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if l.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
