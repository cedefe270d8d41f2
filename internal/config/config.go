// Package config loads classidx settings from JSONC files and flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/tailscale/hujson"
)

// Errors returned by [Load].
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrFormatEmpty        = errors.New("format cannot be empty")
	ErrUnknownFormat      = errors.New("unknown format")
	ErrNegativeCapacity   = errors.New("capacity cannot be negative")
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCBOR = "cbor"
)

// Formats lists the accepted values of Config.Format.
var Formats = []string{FormatJSON, FormatYAML, FormatCBOR}

// Config holds all configuration options. Zero capacities mean "library
// default".
type Config struct {
	// From config files (serialized)
	OutlineCapacity  int      `json:"outline_capacity,omitempty"`
	DecisionCapacity int      `json:"decision_capacity,omitempty"`
	FilterCapacity   int      `json:"filter_capacity,omitempty"`
	IndexSize        int      `json:"index_size,omitempty"`
	Annotations      []string `json:"annotations,omitempty"`
	FilterPath       string   `json:"filter_path,omitempty"`
	Format           string   `json:"format"`

	// Resolved (computed, not serialized)
	EffectiveCwd  string `json:"-"`
	FilterPathAbs string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Format: FormatJSON,
	}
}

// FileName is the project config file name.
const FileName = ".classidx.json"

// globalPath returns $XDG_CONFIG_HOME/classidx/config.json, falling back to
// ~/.config/classidx/config.json. Empty if neither variable is set.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "classidx", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "classidx", "config.json")
	}

	return ""
}

// Overrides are values from command-line flags. Zero values do not
// override; annotations are added to the configured ones.
type Overrides struct {
	OutlineCapacity  int
	DecisionCapacity int
	FilterCapacity   int
	IndexSize        int
	Annotations      []string
	FilterPath       string
	Format           string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // flag values
	Env             map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/classidx/config.json)
// 3. Project config file (.classidx.json, if exists)
// 4. Explicit config file via ConfigPath (replaces the project file)
// 5. Flag overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	globalCfg, globalFile, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalFile
	cfg = merge(cfg, globalCfg)

	projectCfg, projectFile, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectFile
	cfg = merge(cfg, projectCfg)

	cfg = apply(cfg, input.Overrides)

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if cfg.FilterPath != "" {
		cfg.FilterPathAbs = cfg.FilterPath
		if !filepath.IsAbs(cfg.FilterPathAbs) {
			cfg.FilterPathAbs = filepath.Join(workDir, cfg.FilterPath)
		}
	}

	return cfg, nil
}

func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadProject loads .classidx.json from workDir, or configPath when set.
func loadProject(workDir, configPath string) (Config, string, error) {
	path := filepath.Join(workDir, FileName)
	mustExist := false

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		if _, statErr := os.Stat(path); statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile loads a config file. If mustExist is false, a missing file
// returns loaded == false and no error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// an explicit "format": "" is an error, an absent one keeps the default
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["format"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, ErrFormatEmpty
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	base.OutlineCapacity = pick(base.OutlineCapacity, overlay.OutlineCapacity)
	base.DecisionCapacity = pick(base.DecisionCapacity, overlay.DecisionCapacity)
	base.FilterCapacity = pick(base.FilterCapacity, overlay.FilterCapacity)
	base.IndexSize = pick(base.IndexSize, overlay.IndexSize)

	if overlay.Annotations != nil {
		base.Annotations = slices.Clone(overlay.Annotations)
	}

	if overlay.FilterPath != "" {
		base.FilterPath = overlay.FilterPath
	}

	if overlay.Format != "" {
		base.Format = overlay.Format
	}

	return base
}

func apply(cfg Config, o Overrides) Config {
	cfg = merge(cfg, Config{
		OutlineCapacity:  o.OutlineCapacity,
		DecisionCapacity: o.DecisionCapacity,
		FilterCapacity:   o.FilterCapacity,
		IndexSize:        o.IndexSize,
		FilterPath:       o.FilterPath,
		Format:           o.Format,
	})

	for _, name := range o.Annotations {
		if !slices.Contains(cfg.Annotations, name) {
			cfg.Annotations = append(cfg.Annotations, name)
		}
	}

	return cfg
}

func pick(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Format == "" {
		return ErrFormatEmpty
	}

	if !slices.Contains(Formats, cfg.Format) {
		return fmt.Errorf("%w: %q (want one of %v)", ErrUnknownFormat, cfg.Format, Formats)
	}

	for _, c := range []int{cfg.OutlineCapacity, cfg.DecisionCapacity, cfg.FilterCapacity, cfg.IndexSize} {
		if c < 0 {
			return fmt.Errorf("%w: %d", ErrNegativeCapacity, c)
		}
	}

	return nil
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
