// Package config provides layered configuration for toolctl.
// Configuration is loaded from multiple sources with the following precedence:
// embedded defaults → global file → env vars → local file → CLI flags
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexander-akhmetov/toolctl/internal/dirs"
	"github.com/alexander-akhmetov/toolctl/internal/output"
	"github.com/alexander-akhmetov/toolctl/internal/stream"
	"github.com/alexander-akhmetov/toolctl/internal/tool"
)

//go:embed defaults/config.yaml
var defaultsFS embed.FS

// KeywordConfig tags output lines matching Pattern with Kind.
type KeywordConfig struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
}

// ControllerConfig holds process controller and output parser settings.
type ControllerConfig struct {
	GracePeriodMs  int             `yaml:"grace_period_ms"`
	DrainTimeoutMs int             `yaml:"drain_timeout_ms"`
	PollIntervalMs int             `yaml:"poll_interval_ms"`
	ReadSize       int             `yaml:"read_size"`
	MergeStderr    bool            `yaml:"merge_stderr"`
	Encoding       string          `yaml:"encoding"`
	HandlerOrder   []string        `yaml:"handler_order"`
	MaxPending     int             `yaml:"max_pending"` // bytes; 0 disables the limit
	Keywords       []KeywordConfig `yaml:"keywords"`

	// Set tracking for merge
	GracePeriodMsSet  bool `yaml:"-"`
	DrainTimeoutMsSet bool `yaml:"-"`
	PollIntervalMsSet bool `yaml:"-"`
	ReadSizeSet       bool `yaml:"-"`
	MergeStderrSet    bool `yaml:"-"`
	MaxPendingSet     bool `yaml:"-"`
	KeywordsSet       bool `yaml:"-"`
}

// ToolConfig describes a named tool.
type ToolConfig struct {
	Executable string            `yaml:"executable"`
	Args       []string          `yaml:"args,omitempty"`
	Dir        string            `yaml:"dir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	PTY        bool              `yaml:"pty,omitempty"`
}

// Config holds all configuration settings for toolctl.
// Fields ending in *Set track whether that field was explicitly set in config.
// This allows distinguishing explicit false/0 from "not set", enabling proper
// merge behavior where local config can override global config with zero values.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogsDir  string `yaml:"logs_dir"` // Directory for run logs (default: ~/.local/state/toolctl/logs)

	Controller ControllerConfig      `yaml:"controller"`
	Tools      map[string]ToolConfig `yaml:"tools"`

	// Private: track where config was loaded from
	configDir string
	localDir  string
	sources   []string // ordered list of sources that contributed to this config
}

// Sources returns the ordered list of sources that contributed to this config.
func (c *Config) Sources() []string {
	return c.sources
}

// LocalDir returns the local project config directory if one was detected.
func (c *Config) LocalDir() string {
	return c.localDir
}

// ConfigDir returns the global config directory.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Load loads all configuration from the default locations.
// It auto-detects .toolctl/ in the current working directory for local overrides.
func Load() (*Config, error) {
	var localDir string
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, dirs.LocalDir())
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			localDir = candidate
		}
	}
	return LoadWithDirs(dirs.ConfigDir(), localDir)
}

// LoadWithDirs loads configuration with explicit global and local directories.
// Local config overrides global config per field; tools override per name.
// If localDir is empty, only global config is used.
func LoadWithDirs(globalDir, localDir string) (*Config, error) {
	if err := InstallDefaults(globalDir); err != nil {
		return nil, fmt.Errorf("install defaults: %w", err)
	}

	cfg, err := loadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("load embedded defaults: %w", err)
	}
	cfg.sources = append(cfg.sources, "embedded")

	globalPath := filepath.Join(globalDir, "config.yaml")
	if globalCfg, err := loadFile(globalPath); err == nil {
		cfg.mergeFrom(globalCfg)
		cfg.sources = append(cfg.sources, globalPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load global config: %w", err)
	}

	cfg.applyEnv()

	if localDir != "" {
		localPath := filepath.Join(localDir, "config.yaml")
		if localCfg, err := loadFile(localPath); err == nil {
			cfg.mergeFrom(localCfg)
			cfg.sources = append(cfg.sources, localPath)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load local config: %w", err)
		}
	}

	cfg.configDir = globalDir
	cfg.localDir = localDir
	return cfg, nil
}

// InstallDefaults creates the config directory and installs the default
// config file if none exists.
func InstallDefaults(configDir string) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := defaultsFS.ReadFile("defaults/config.yaml")
		if err != nil {
			return fmt.Errorf("read embedded config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
	}
	return nil
}

// Default returns the embedded defaults only.
func Default() (*Config, error) {
	cfg, err := loadEmbedded()
	if err != nil {
		return nil, err
	}
	cfg.sources = []string{"embedded"}
	return cfg, nil
}

func loadEmbedded() (*Config, error) {
	data, err := defaultsFS.ReadFile("defaults/config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	return parseConfig(data)
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user's config file
	if err != nil {
		return nil, err
	}
	return parseConfigWithTracking(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// parseConfigWithTracking parses YAML config and tracks which fields were set.
func parseConfigWithTracking(data []byte) (*Config, error) {
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if ctl, ok := raw["controller"].(map[string]any); ok {
		c := &cfg.Controller
		for key, set := range map[string]*bool{
			"grace_period_ms":  &c.GracePeriodMsSet,
			"drain_timeout_ms": &c.DrainTimeoutMsSet,
			"poll_interval_ms": &c.PollIntervalMsSet,
			"read_size":        &c.ReadSizeSet,
			"merge_stderr":     &c.MergeStderrSet,
			"max_pending":      &c.MaxPendingSet,
			"keywords":         &c.KeywordsSet,
		} {
			if _, ok := ctl[key]; ok {
				*set = true
			}
		}
	}

	return cfg, nil
}

// applyEnv applies environment variables to the config.
// Env vars sit between global and local config in precedence.
func (c *Config) applyEnv() {
	if v := os.Getenv("TOOLCTL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
		c.sources = append(c.sources, "env:TOOLCTL_LOG_LEVEL")
	}

	if v := os.Getenv("TOOLCTL_LOGS_DIR"); v != "" {
		c.LogsDir = v
		c.sources = append(c.sources, "env:TOOLCTL_LOGS_DIR")
	}

	envInt := func(name string, dst *int, set *bool) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				*set = true
				c.sources = append(c.sources, "env:"+name)
			}
		}
	}
	envInt("TOOLCTL_GRACE_PERIOD_MS", &c.Controller.GracePeriodMs, &c.Controller.GracePeriodMsSet)
	envInt("TOOLCTL_DRAIN_TIMEOUT_MS", &c.Controller.DrainTimeoutMs, &c.Controller.DrainTimeoutMsSet)
	envInt("TOOLCTL_POLL_INTERVAL_MS", &c.Controller.PollIntervalMs, &c.Controller.PollIntervalMsSet)

	if v := os.Getenv("TOOLCTL_MERGE_STDERR"); v != "" {
		c.Controller.MergeStderr = v == "true" || v == "1"
		c.Controller.MergeStderrSet = true
		c.sources = append(c.sources, "env:TOOLCTL_MERGE_STDERR")
	}

	if v := os.Getenv("TOOLCTL_ENCODING"); v != "" {
		c.Controller.Encoding = v
		c.sources = append(c.sources, "env:TOOLCTL_ENCODING")
	}
}

// mergeFrom merges non-empty/set values from src into c.
func (c *Config) mergeFrom(src *Config) {
	if src.LogLevel != "" {
		c.LogLevel = src.LogLevel
	}
	if src.LogsDir != "" {
		c.LogsDir = src.LogsDir
	}

	dst, s := &c.Controller, &src.Controller
	if s.GracePeriodMsSet {
		dst.GracePeriodMs = s.GracePeriodMs
		dst.GracePeriodMsSet = true
	}
	if s.DrainTimeoutMsSet {
		dst.DrainTimeoutMs = s.DrainTimeoutMs
		dst.DrainTimeoutMsSet = true
	}
	if s.PollIntervalMsSet {
		dst.PollIntervalMs = s.PollIntervalMs
		dst.PollIntervalMsSet = true
	}
	if s.ReadSizeSet {
		dst.ReadSize = s.ReadSize
		dst.ReadSizeSet = true
	}
	if s.MergeStderrSet {
		dst.MergeStderr = s.MergeStderr
		dst.MergeStderrSet = true
	}
	if s.MaxPendingSet {
		dst.MaxPending = s.MaxPending
		dst.MaxPendingSet = true
	}
	if s.KeywordsSet {
		dst.Keywords = s.Keywords
		dst.KeywordsSet = true
	}
	if s.Encoding != "" {
		dst.Encoding = s.Encoding
	}
	if len(s.HandlerOrder) > 0 {
		dst.HandlerOrder = s.HandlerOrder
	}

	for name, t := range src.Tools {
		if c.Tools == nil {
			c.Tools = make(map[string]ToolConfig)
		}
		c.Tools[name] = t
	}
}

// CLIFlags are command-line overrides. Zero values leave the config alone.
type CLIFlags struct {
	LogLevel    string
	GracePeriod time.Duration
	Encoding    string
	// SeparateStderr turns merge_stderr off.
	SeparateStderr bool
}

// ApplyCLIFlags applies CLI flag overrides to the config.
// CLI flags have the highest precedence.
func (c *Config) ApplyCLIFlags(f CLIFlags) {
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
		c.sources = append(c.sources, "cli:log-level")
	}
	if f.GracePeriod > 0 {
		c.Controller.GracePeriodMs = int(f.GracePeriod / time.Millisecond)
		c.Controller.GracePeriodMsSet = true
		c.sources = append(c.sources, "cli:grace")
	}
	if f.Encoding != "" {
		c.Controller.Encoding = f.Encoding
		c.sources = append(c.sources, "cli:encoding")
	}
	if f.SeparateStderr {
		c.Controller.MergeStderr = false
		c.Controller.MergeStderrSet = true
		c.sources = append(c.sources, "cli:separate-stderr")
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	ctl := c.Controller
	for name, v := range map[string]int{
		"grace_period_ms":  ctl.GracePeriodMs,
		"drain_timeout_ms": ctl.DrainTimeoutMs,
		"poll_interval_ms": ctl.PollIntervalMs,
		"read_size":        ctl.ReadSize,
		"max_pending":      ctl.MaxPending,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("controller.%s must not be negative, got %d", name, v))
		}
	}
	if !stream.ValidEncoding(ctl.Encoding) {
		errs = append(errs, fmt.Errorf("controller.encoding: unknown encoding %q", ctl.Encoding))
	}
	if _, err := output.ParseOrder(ctl.HandlerOrder); err != nil {
		errs = append(errs, fmt.Errorf("controller.handler_order: %w", err))
	}
	if _, err := c.Keywords(); err != nil {
		errs = append(errs, fmt.Errorf("controller.keywords: %w", err))
	}
	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	for _, name := range c.ToolNames() {
		if c.Tools[name].Executable == "" {
			errs = append(errs, fmt.Errorf("tools.%s: %w", name, tool.ErrNoExecutable))
		}
	}
	return errors.Join(errs...)
}

// GracePeriod returns controller.grace_period_ms as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Controller.GracePeriodMs) * time.Millisecond
}

// DrainTimeout returns controller.drain_timeout_ms as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Controller.DrainTimeoutMs) * time.Millisecond
}

// PollInterval returns controller.poll_interval_ms as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Controller.PollIntervalMs) * time.Millisecond
}

// HandlerOrder returns the parsed token precedence.
func (c *Config) HandlerOrder() ([]output.TokenKind, error) {
	return output.ParseOrder(c.Controller.HandlerOrder)
}

// Keywords compiles the configured line keywords.
func (c *Config) Keywords() ([]output.Keyword, error) {
	pairs := make([][2]string, 0, len(c.Controller.Keywords))
	for _, k := range c.Controller.Keywords {
		pairs = append(pairs, [2]string{k.Kind, k.Pattern})
	}
	return output.CompileKeywords(pairs)
}

// MaxPending converts max_pending to output.Options semantics, where zero
// selects the default and a negative value disables the limit.
func (c *Config) MaxPending() int {
	if c.Controller.MaxPending == 0 {
		return -1
	}
	return c.Controller.MaxPending
}

// ToolNames returns the configured tool names, sorted.
func (c *Config) ToolNames() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptor builds a descriptor for the named tool. Output handlers are
// left for the caller to attach.
func (c *Config) Descriptor(name string) (*tool.Descriptor, bool) {
	t, ok := c.Tools[name]
	if !ok {
		return nil, false
	}
	env := make(map[string]string, len(t.Env))
	for k, v := range t.Env {
		env[k] = v
	}
	return &tool.Descriptor{
		Name:       name,
		Executable: t.Executable,
		Args:       append([]string(nil), t.Args...),
		Dir:        t.Dir,
		Env:        env,
		PTY:        t.PTY,
	}, true
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
