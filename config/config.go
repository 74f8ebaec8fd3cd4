// Package config loads layered constant declarations from YAML documents.
//
// A root document declares override layers in composition order plus the
// vendor default table, derivations and the critical symbol list. Module
// includes let a device document pull in further declaration files; included
// layers keep their include order, which is exactly the ordering the
// validator lints.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/firmkit/layerkit/resolve"
)

// ModuleReference captures metadata about the declaration file that defined an entry.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModuleInclude describes a referenced declaration module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

// UnmarshalYAML allows module includes to be declared either as scalar paths or structured objects.
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
		type rawModule struct {
			Path        string `yaml:"path"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		var raw rawModule
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		if raw.Path == "" {
			return errors.New("module include missing path")
		}
		m.Path = raw.Path
		m.Name = raw.Name
		m.Description = raw.Description
		return nil
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// SymbolEntry pairs a declared symbol with its parsed value.
type SymbolEntry struct {
	Symbol string
	Value  resolve.Value
}

// SymbolTable preserves a symbols mapping in authorship order, including
// duplicate keys. Duplicates are not rejected here; a layer that conflicts
// with itself fails later when its ConstantSet is constructed, with the
// layer name attached.
type SymbolTable struct {
	Entries []SymbolEntry
}

// UnmarshalYAML walks the raw mapping node so ordering and duplicates survive decoding.
func (t *SymbolTable) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("symbols node is nil")
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("symbols at line %d must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valueNode := value.Content[i+1]
		if keyNode == nil || keyNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("symbol name at line %d must be a scalar", value.Line)
		}
		name := strings.TrimSpace(keyNode.Value)
		if name == "" {
			return fmt.Errorf("symbol name at line %d must not be empty", keyNode.Line)
		}
		parsed, err := parseSymbolValue(valueNode)
		if err != nil {
			return fmt.Errorf("symbol %s: %w", name, err)
		}
		t.Entries = append(t.Entries, SymbolEntry{Symbol: name, Value: parsed})
	}
	return nil
}

func parseSymbolValue(node *yaml.Node) (resolve.Value, error) {
	if node == nil || node.Kind != yaml.ScalarNode {
		return resolve.Value{}, errors.New("value must be a scalar")
	}
	switch node.Tag {
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return resolve.Value{}, fmt.Errorf("parse integer %q: %w", node.Value, err)
		}
		return resolve.IntegerValue(n), nil
	case "!!float":
		d, err := decimal.NewFromString(node.Value)
		if err != nil {
			return resolve.Value{}, fmt.Errorf("parse decimal %q: %w", node.Value, err)
		}
		return resolve.DecimalValue(d), nil
	case "!!str":
		return resolve.EnumValue(node.Value), nil
	default:
		return resolve.Value{}, fmt.Errorf("unsupported value %q at line %d", node.Value, node.Line)
	}
}

// LayerConfig declares one override layer.
type LayerConfig struct {
	Name    string          `yaml:"name"`
	Symbols SymbolTable     `yaml:"symbols"`
	Source  ModuleReference `yaml:"-"`
}

// DefaultsConfig declares the vendor default table. A configuration carries
// exactly one, regardless of how many files contributed to it.
type DefaultsConfig struct {
	Name    string          `yaml:"name,omitempty"`
	Symbols SymbolTable     `yaml:"symbols"`
	Source  ModuleReference `yaml:"-"`
}

// DerivationConfig declares one derived constant.
type DerivationConfig struct {
	Symbol     string          `yaml:"symbol"`
	Inputs     []string        `yaml:"inputs,omitempty"`
	Expression string          `yaml:"expression"`
	Source     ModuleReference `yaml:"-"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// Config is the root declaration structure.
type Config struct {
	Name        string             `yaml:"name,omitempty"`
	Description string             `yaml:"description,omitempty"`
	Logging     LoggingConfig      `yaml:"logging"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Modules     []ModuleInclude    `yaml:"modules"`
	Layers      []LayerConfig      `yaml:"layers"`
	Defaults    *DefaultsConfig    `yaml:"defaults,omitempty"`
	Derivations []DerivationConfig `yaml:"derivations,omitempty"`
	Critical    []string           `yaml:"critical,omitempty"`
	Source      ModuleReference    `yaml:"-"`
}

// Load reads and decodes the declaration file or directory from disk.
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
	if info.IsDir() {
		return loadDir(abs, visited)
	}
	return loadFile(abs, visited)
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

	if err := validateDocument(path, raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.setSource(ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description})

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
		if err := mergeConfig(&cfg, child); err != nil {
			return nil, fmt.Errorf("merge module %s: %w", module.Path, err)
		}
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
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		child, err := loadFile(filepath.Join(path, entry.Name()), visited)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		if err := mergeConfig(result, child); err != nil {
			return nil, fmt.Errorf("merge %s: %w", entry.Name(), err)
		}
	}

	return result, nil
}

func mergeConfig(dst, src *Config) error {
	if dst == nil || src == nil {
		return nil
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
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" {
		dst.Telemetry = src.Telemetry
	}

	dst.Layers = append(dst.Layers, src.Layers...)
	dst.Derivations = append(dst.Derivations, src.Derivations...)
	dst.Critical = append(dst.Critical, src.Critical...)

	if src.Defaults != nil {
		if dst.Defaults != nil {
			return fmt.Errorf("defaults declared in both %s and %s; a configuration carries exactly one default table",
				dst.Defaults.Source.File, src.Defaults.Source.File)
		}
		dst.Defaults = src.Defaults
	}
	return nil
}

func (c *Config) setSource(meta ModuleReference) {
	if c == nil {
		return
	}
	if meta.Name == "" {
		meta.Name = c.Name
	}
	if meta.Description == "" {
		meta.Description = c.Description
	}
	c.Source = meta
	for i := range c.Layers {
		c.Layers[i].Source = mergeInitialSource(c.Layers[i].Source, meta)
	}
	for i := range c.Derivations {
		c.Derivations[i].Source = mergeInitialSource(c.Derivations[i].Source, meta)
	}
	if c.Defaults != nil {
		c.Defaults.Source = mergeInitialSource(c.Defaults.Source, meta)
	}
}

func (c *Config) applyModuleMetadata(meta ModuleReference) {
	if c == nil {
		return
	}
	c.Source = mergeModuleOverride(c.Source, meta)
	for i := range c.Layers {
		c.Layers[i].Source = mergeModuleOverride(c.Layers[i].Source, meta)
	}
	for i := range c.Derivations {
		c.Derivations[i].Source = mergeModuleOverride(c.Derivations[i].Source, meta)
	}
	if c.Defaults != nil {
		c.Defaults.Source = mergeModuleOverride(c.Defaults.Source, meta)
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

// SourceFiles lists every file that contributed declarations, for reload watching.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	seen := make(map[string]struct{})
	files := make([]string, 0)
	add := func(ref ModuleReference) {
		if ref.File == "" {
			return
		}
		if _, ok := seen[ref.File]; ok {
			return
		}
		seen[ref.File] = struct{}{}
		files = append(files, ref.File)
	}
	add(cfg.Source)
	for _, layer := range cfg.Layers {
		add(layer.Source)
	}
	for _, derivation := range cfg.Derivations {
		add(derivation.Source)
	}
	if cfg.Defaults != nil {
		add(cfg.Defaults.Source)
	}
	return files
}
