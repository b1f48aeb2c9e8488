package config

import (
	"fmt"
	"time"

	"github.com/babi2707/segmark/artifact"
	"github.com/babi2707/segmark/lock"
)

// Config represents a segmark.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Tools     ToolsConfig     `yaml:"tools"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Storage   StorageConfig   `yaml:"storage"`
	Lock      LockConfig      `yaml:"lock"`
	Adapter   AdapterConfig   `yaml:"adapter"`
}

// ToolsConfig holds the two external tools.
type ToolsConfig struct {
	Segmentation ToolConfig `yaml:"segmentation"`
	Markers      ToolConfig `yaml:"markers"`
}

// ToolConfig describes how to launch one tool.
type ToolConfig struct {
	Interpreter string            `yaml:"interpreter"`
	Script      string            `yaml:"script"`
	Dir         string            `yaml:"dir,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// ArtifactsConfig holds the artifact directory layout.
type ArtifactsConfig struct {
	Root         string `yaml:"root"`
	SegmentedDir string `yaml:"segmented_dir"`
	MarkersDir   string `yaml:"markers_dir"`
	UploadsDir   string `yaml:"uploads_dir"`
	PublicPrefix string `yaml:"public_prefix"`
}

// StorageConfig holds record storage defaults from the config file.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	S3PathStyle  bool   `yaml:"s3_path_style"`
	Codec        string `yaml:"codec"`
	Mirror       bool   `yaml:"mirror"`
	MirrorPrefix string `yaml:"mirror_prefix,omitempty"`
}

// LockConfig selects the same-image run guard.
type LockConfig struct {
	Backend string   `yaml:"backend"`
	URL     string   `yaml:"url,omitempty"`
	TTL     Duration `yaml:"ttl,omitempty"`
	Prefix  string   `yaml:"prefix,omitempty"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in Go notation.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for _, tool := range []*ToolConfig{&c.Tools.Segmentation, &c.Tools.Markers} {
		if tool.Interpreter == "" {
			tool.Interpreter = "python3"
		}
	}
	if c.Tools.Segmentation.Script == "" {
		c.Tools.Segmentation.Script = "segmentation.py"
	}
	if c.Tools.Markers.Script == "" {
		c.Tools.Markers.Script = "gradcam_markers.py"
	}

	layout := artifact.DefaultLayout("public")
	if c.Artifacts.Root == "" {
		c.Artifacts.Root = layout.Root
	}
	if c.Artifacts.SegmentedDir == "" {
		c.Artifacts.SegmentedDir = layout.SegmentedDir
	}
	if c.Artifacts.MarkersDir == "" {
		c.Artifacts.MarkersDir = layout.MarkersDir
	}
	if c.Artifacts.UploadsDir == "" {
		c.Artifacts.UploadsDir = layout.UploadsDir
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "fs"
	}
	if c.Storage.Path == "" && c.Storage.Backend == "fs" {
		c.Storage.Path = ".segmark"
	}
	if c.Storage.Codec == "" {
		c.Storage.Codec = "json"
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = "memory"
	}
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("storage.backend must be fs, s3 or memory, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
	}
	switch c.Storage.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("storage.codec must be json or msgpack, got %q", c.Storage.Codec)
	}
	switch c.Lock.Backend {
	case "memory", "none":
	case "redis":
		if c.Lock.URL == "" {
			return fmt.Errorf("lock.url is required for the redis backend")
		}
		if err := c.checkLockTTL(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("lock.backend must be memory, redis or none, got %q", c.Lock.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	if err := c.Layout().Validate(); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	return nil
}

// checkLockTTL requires every tool run to end before a redis lock expires.
// An unbounded tool could outlive its key and admit a second run.
func (c *Config) checkLockTTL() error {
	ttl := c.Lock.TTL.Duration
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	tools := []struct {
		name string
		tool ToolConfig
	}{
		{"segmentation", c.Tools.Segmentation},
		{"markers", c.Tools.Markers},
	}
	for _, t := range tools {
		timeout := t.tool.Timeout.Duration
		if timeout <= 0 {
			return fmt.Errorf("tools.%s.timeout is required with the redis lock backend (lock.ttl %s)", t.name, ttl)
		}
		if timeout >= ttl {
			return fmt.Errorf("tools.%s.timeout %s must be shorter than lock.ttl %s", t.name, timeout, ttl)
		}
	}
	return nil
}

// Layout returns the artifact layout.
func (c *Config) Layout() artifact.Layout {
	return artifact.Layout{
		Root:         c.Artifacts.Root,
		SegmentedDir: c.Artifacts.SegmentedDir,
		MarkersDir:   c.Artifacts.MarkersDir,
		UploadsDir:   c.Artifacts.UploadsDir,
		PublicPrefix: c.Artifacts.PublicPrefix,
	}
}
