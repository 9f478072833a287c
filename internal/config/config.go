// Package config loads the recstore CLI configuration from JSONC files and
// command line overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// FileName is the project config file looked up in the working directory.
const FileName = "recstore.json"

var (
	ErrFileNotFound = errors.New("config file not found")
	ErrFileRead     = errors.New("cannot read config file")
	ErrInvalid      = errors.New("invalid config")
	ErrFileExists   = errors.New("config file already exists")
)

// Config holds all configuration options.
type Config struct {
	// Store sizing. These must not change once the store exists.
	Path            string `json:"path"                         validate:"required"`
	RecordCount     int    `json:"record_count"                 validate:"gt=0,lte=536870912"`
	RecordSize      int    `json:"record_size"                  validate:"gte=5,lte=67108864"`
	MaxDataFileSize int64  `json:"max_data_file_size,omitempty" validate:"gte=0,lte=2147483647"`

	StatsInterval Duration `json:"stats_interval,omitempty"`

	// Logging
	LogLevel      string `json:"log_level,omitempty"        validate:"omitempty,oneof=debug info warn error"`
	LogFile       string `json:"log_file,omitempty"`
	LogMaxSizeMB  int    `json:"log_max_size_mb,omitempty"  validate:"gte=0"`
	LogMaxBackups int    `json:"log_max_backups,omitempty"  validate:"gte=0"`
	LogMaxAgeDays int    `json:"log_max_age_days,omitempty" validate:"gte=0"`

	// Resolved (computed, not serialized)
	EffectiveCwd string `json:"-"`
	PathAbs      string `json:"-"`
	LogFileAbs   string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Duration is a time.Duration written as a Go duration string ("1h30m").
type Duration time.Duration

// UnmarshalJSON accepts a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"1h\": %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Path:          "recstore",
		RecordCount:   100_000,
		RecordSize:    256,
		StatsInterval: Duration(time.Hour),
		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

// Overrides are values set on the command line. Zero values do not override.
type Overrides struct {
	Path        string
	RecordCount int
	RecordSize  int
	LogLevel    string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // CLI overrides
	Env             map[string]string // environment variables
}

// globalPath returns the global config file path.
// Uses $XDG_CONFIG_HOME/recstore/config.json if set, otherwise
// ~/.config/recstore/config.json.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "recstore", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "recstore", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config (recstore.json in the working directory), or the
// explicit file given by ConfigPath
// 4. CLI overrides.
//
// Relative paths in the result are resolved against the working directory.
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

	if path := globalPath(input.Env); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, global)
			cfg.Sources.Global = path
		}
	}

	projectPath := filepath.Join(workDir, FileName)
	mustExist := false

	if input.ConfigPath != "" {
		projectPath = input.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	project, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, project)
		cfg.Sources.Project = projectPath
	}

	cfg = merge(cfg, Config{
		Path:        input.Overrides.Path,
		RecordCount: input.Overrides.RecordCount,
		RecordSize:  input.Overrides.RecordSize,
		LogLevel:    input.Overrides.LogLevel,
	})

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.PathAbs = absolute(workDir, cfg.Path)

	if cfg.LogFile != "" {
		cfg.LogFileAbs = absolute(workDir, cfg.LogFile)
	}

	return cfg, nil
}

func absolute(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

// loadFile loads a config file. If mustExist is false, a missing file
// returns loaded == false and no error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err) && !mustExist:
			return Config{}, false, nil
		case os.IsNotExist(err):
			return Config{}, false, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		default:
			return Config{}, false, fmt.Errorf("%w %s: %w", ErrFileRead, path, err)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSONC document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var cfg Config

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Path != "" {
		base.Path = overlay.Path
	}

	if overlay.RecordCount != 0 {
		base.RecordCount = overlay.RecordCount
	}

	if overlay.RecordSize != 0 {
		base.RecordSize = overlay.RecordSize
	}

	if overlay.MaxDataFileSize != 0 {
		base.MaxDataFileSize = overlay.MaxDataFileSize
	}

	if overlay.StatsInterval != 0 {
		base.StatsInterval = overlay.StatsInterval
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogFile != "" {
		base.LogFile = overlay.LogFile
	}

	if overlay.LogMaxSizeMB != 0 {
		base.LogMaxSizeMB = overlay.LogMaxSizeMB
	}

	if overlay.LogMaxBackups != 0 {
		base.LogMaxBackups = overlay.LogMaxBackups
	}

	if overlay.LogMaxAgeDays != 0 {
		base.LogMaxAgeDays = overlay.LogMaxAgeDays
	}

	return base
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// Validate checks every field constraint and reports all violations at once.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(fieldErrs))

	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}

	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Write stores cfg as indented JSON at path, atomically. It refuses to
// replace an existing file unless overwrite is set.
func Write(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		_, err := os.Stat(path)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
	}

	err := Validate(cfg)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	data = append(data, '\n')

	err = atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
