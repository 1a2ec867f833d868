package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/connreg/runtime/connections"
)

// Duration wraps time.Duration to support YAML and JSON unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	return d.parse(raw)
}

// UnmarshalJSON parses duration strings; CUE documents are decoded through JSON.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	return d.parse(raw)
}

func (d *Duration) parse(raw string) error {
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ModuleReference captures metadata about the configuration source that defined an entry.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModuleInclude describes a referenced configuration module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

type rawModuleInclude struct {
	Path        string `yaml:"path" json:"path"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// UnmarshalYAML allows module includes to be declared either as scalar strings or structured objects.
func (m *ModuleInclude) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("module include node is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("decode module path: %w", err)
		}
		m.Path = strings.TrimSpace(path)
		return nil
	case yaml.MappingNode:
		var raw rawModuleInclude
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		return m.fromRaw(raw)
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// UnmarshalJSON accepts the same string or object forms as UnmarshalYAML.
func (m *ModuleInclude) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		m.Path = strings.TrimSpace(path)
		return nil
	}
	var raw rawModuleInclude
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode module include: %w", err)
	}
	return m.fromRaw(raw)
}

func (m *ModuleInclude) fromRaw(raw rawModuleInclude) error {
	if strings.TrimSpace(raw.Path) == "" {
		return errors.New("module include missing path")
	}
	m.Path = strings.TrimSpace(raw.Path)
	m.Name = raw.Name
	m.Description = raw.Description
	return nil
}

// ConnectionConfig declares a named connection to register.
type ConnectionConfig struct {
	ID          string                 `yaml:"id" json:"id"`
	Address     string                 `yaml:"address" json:"address"`
	Username    string                 `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string                 `yaml:"password,omitempty" json:"password,omitempty"`
	PasswordEnv string                 `yaml:"password_env,omitempty" json:"password_env,omitempty"`
	Options     map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`
	Disable     bool                   `yaml:"disable,omitempty" json:"disable,omitempty"`
	Source      ModuleReference        `yaml:"-" json:"-"`
}

// Spec returns the registry spec for the connection. A set password_env
// variable takes precedence over the inline password.
func (c ConnectionConfig) Spec() connections.Spec {
	password := c.Password
	if c.PasswordEnv != "" {
		if value, ok := os.LookupEnv(c.PasswordEnv); ok {
			password = value
		}
	}
	return connections.Spec{Address: c.Address, Username: c.Username, Password: password}
}

// ConnectionOptions returns a copy of the configured options.
func (c ConnectionConfig) ConnectionOptions() connections.Options {
	return connections.Options(c.Options).Clone()
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	URL     string            `yaml:"url" json:"url"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level" json:"level"`
	Format string     `yaml:"format,omitempty" json:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki" json:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Listen   string `yaml:"listen,omitempty" json:"listen,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Name           string             `yaml:"name,omitempty" json:"name,omitempty"`
	Description    string             `yaml:"description,omitempty" json:"description,omitempty"`
	Logging        LoggingConfig      `yaml:"logging" json:"logging"`
	Telemetry      TelemetryConfig    `yaml:"telemetry" json:"telemetry"`
	Modules        []ModuleInclude    `yaml:"modules" json:"modules"`
	HotReload      bool               `yaml:"hot_reload,omitempty" json:"hot_reload,omitempty"`
	ReloadInterval Duration           `yaml:"reload_interval,omitempty" json:"reload_interval,omitempty"`
	Warmup         bool               `yaml:"warmup,omitempty" json:"warmup,omitempty"`
	WarmupWorkers  int                `yaml:"warmup_workers,omitempty" json:"warmup_workers,omitempty"`
	Connections    []ConnectionConfig `yaml:"connections" json:"connections"`
	Source         ModuleReference    `yaml:"-" json:"-"`

	// Files lists every configuration file that was read, including modules
	// that contributed no connections.
	Files []string `yaml:"-" json:"-"`
}

// Load reads and decodes the configuration file or directory from disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	visited := make(map[string]struct{})
	var cfg *Config
	if info.IsDir() {
		cfg, err = loadDir(abs, visited)
	} else {
		cfg, err = loadFile(abs, visited)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &Config{}, nil
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReloadEvery returns the configured polling interval for hot reload.
func (c *Config) ReloadEvery() time.Duration {
	if c == nil || c.ReloadInterval.Duration <= 0 {
		return time.Second
	}
	return c.ReloadInterval.Duration
}

// Workers returns the number of concurrent connects used during warmup.
func (c *Config) Workers() int {
	if c == nil || c.WarmupWorkers <= 0 {
		return 4
	}
	return c.WarmupWorkers
}

// Connection returns the connection declared with id.
func (c *Config) Connection(id string) (ConnectionConfig, bool) {
	if c == nil {
		return ConnectionConfig{}, false
	}
	for _, conn := range c.Connections {
		if conn.ID == id {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

// IsConfigFile reports whether name carries a supported configuration extension.
func IsConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".cue":
		return true
	default:
		return false
	}
}

func loadFile(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		cfg, err = decodeCUE(path, raw)
	} else {
		cfg, err = decodeYAML(path, raw)
	}
	if err != nil {
		return nil, err
	}

	cfg.setSource(ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description})
	cfg.Files = append(cfg.Files, path)

	modules := cfg.Modules
	cfg.Modules = nil

	baseDir := filepath.Dir(path)
	for _, module := range modules {
		if module.Path == "" {
			continue
		}
		modulePath := module.Path
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module.Path)
		}

		info, err := os.Stat(modulePath)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		var child *Config
		if info.IsDir() {
			child, err = loadDir(modulePath, visited)
		} else {
			child, err = loadFile(modulePath, visited)
		}
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}
		if child == nil {
			continue
		}
		child.applyModuleMetadata(ModuleReference{
			Name:        firstNonEmpty(module.Name, child.Source.Name),
			Description: firstNonEmpty(module.Description, child.Source.Description),
		})
		mergeConfig(cfg, child)
	}

	return cfg, nil
}

func decodeYAML(path string, raw []byte) (*Config, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return nil, fmt.Errorf("config %s is empty", path)
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config %s: top-level YAML document must be a mapping", path)
	}
	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

func loadDir(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Config{}
	result.setSource(ModuleReference{File: path})
	for _, entry := range entries {
		if entry.IsDir() || !IsConfigFile(entry.Name()) {
			continue
		}
		child, err := loadFile(filepath.Join(path, entry.Name()), visited)
		if err != nil {
			return nil, err
		}
		mergeConfig(result, child)
	}
	return result, nil
}

// Validate checks connection identifiers and required fields of a merged configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	seen := make(map[string]ModuleReference, len(cfg.Connections))
	for _, conn := range cfg.Connections {
		if err := ensureIdentifier(conn.ID, "connection"); err != nil {
			return withSource(conn.Source, err)
		}
		if prev, ok := seen[conn.ID]; ok {
			return withSource(conn.Source, fmt.Errorf("connection %q already declared in %s", conn.ID, prev.File))
		}
		seen[conn.ID] = conn.Source
		if strings.TrimSpace(conn.Address) == "" {
			return withSource(conn.Source, fmt.Errorf("connection %q: address is required", conn.ID))
		}
	}
	if cfg.WarmupWorkers < 0 {
		return errors.New("warmup_workers must not be negative")
	}
	return nil
}

func withSource(ref ModuleReference, err error) error {
	if ref.File == "" {
		return err
	}
	return fmt.Errorf("%s: %w", ref.File, err)
}

func ensureIdentifier(value, kind string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s identifier must not be empty", kind)
	}
	if trimmed != value {
		return fmt.Errorf("%s %q must not contain surrounding whitespace", kind, value)
	}
	for idx, r := range trimmed {
		if idx == 0 && unicode.IsDigit(r) {
			return fmt.Errorf("%s %q must not start with a digit", kind, trimmed)
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			return fmt.Errorf("%s %q contains invalid character %q", kind, trimmed, r)
		}
	}
	return nil
}

func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" || src.Telemetry.Listen != "" {
		dst.Telemetry = src.Telemetry
	}
	if src.HotReload {
		dst.HotReload = true
	}
	if src.ReloadInterval.Duration != 0 {
		dst.ReloadInterval = src.ReloadInterval
	}
	if src.Warmup {
		dst.Warmup = true
	}
	if src.WarmupWorkers != 0 {
		dst.WarmupWorkers = src.WarmupWorkers
	}

	dst.Connections = append(dst.Connections, src.Connections...)
	dst.Files = append(dst.Files, src.Files...)
}

func (c *Config) setSource(meta ModuleReference) {
	if c == nil {
		return
	}
	if meta.File == "" {
		meta.File = c.Source.File
	}
	if meta.Name == "" {
		meta.Name = c.Name
	}
	if meta.Description == "" {
		meta.Description = c.Description
	}
	c.Source = meta
	for i := range c.Connections {
		c.Connections[i].Source = mergeInitialSource(c.Connections[i].Source, meta)
	}
}

func (c *Config) applyModuleMetadata(meta ModuleReference) {
	if c == nil {
		return
	}
	c.Source = mergeModuleOverride(c.Source, meta)
	for i := range c.Connections {
		c.Connections[i].Source = mergeModuleOverride(c.Connections[i].Source, meta)
	}
}

func mergeInitialSource(child, meta ModuleReference) ModuleReference {
	if child.File == "" && meta.File != "" {
		child.File = meta.File
	}
	if child.Name == "" && meta.Name != "" {
		child.Name = meta.Name
	}
	if child.Description == "" && meta.Description != "" {
		child.Description = meta.Description
	}
	return child
}

func mergeModuleOverride(base, override ModuleReference) ModuleReference {
	if override.File != "" {
		base.File = override.File
	}
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
