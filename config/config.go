// Package config resolves fixture generation settings from defaults, an
// optional YAML or JSONC file, and command-line overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/fbnconform/artifacts"
	"github.com/tsawler/fbnconform/reference"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrUnsupportedFile    = errors.New("unsupported config file extension")
	ErrOutputDirEmpty     = errors.New("output_dir cannot be empty")
	ErrNoFormats          = errors.New("at least one format is required")
	ErrNoDevices          = errors.New("at least one device is required")
	ErrInvalidDevice      = errors.New("device cannot be used in a file name")
	ErrDuplicateEntry     = errors.New("duplicate entry")
	ErrNoPrecisions       = errors.New("at least one precision is required")
	ErrInvalidWorkers     = errors.New("workers must be positive")
	ErrInvalidIRVersion   = errors.New("unsupported IR version")
)

// DefaultFileName is looked up in the working directory when no explicit
// config path is given. It is optional.
const DefaultFileName = "fbnfixtures.yaml"

// SupportedIRVersions lists the IR versions a run may target.
var SupportedIRVersions = []int{10, 11}

// Config holds all generation settings.
type Config struct {
	OutputDir      string   `yaml:"output_dir" json:"output_dir"`
	Seed           *int64   `yaml:"seed,omitempty" json:"seed,omitempty"`
	Formats        []string `yaml:"formats" json:"formats"`
	Devices        []string `yaml:"devices" json:"devices"`
	Precisions     []string `yaml:"precisions" json:"precisions"`
	IRVersion      int      `yaml:"ir_version" json:"ir_version"`
	Workers        int      `yaml:"workers" json:"workers"`
	IncludeXFail   bool     `yaml:"include_xfail" json:"include_xfail"`
	UseNewFrontend bool     `yaml:"use_new_frontend" json:"use_new_frontend"`
	UseOldAPI      bool     `yaml:"use_old_api" json:"use_old_api"`

	// Source is the config file that was loaded, empty when none was.
	Source string `yaml:"-" json:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir:  "fixtures",
		Formats:    []string{artifacts.FormatJSON.String()},
		Devices:    []string{"CPU"},
		Precisions: []string{"FP32"},
		IRVersion:  11,
		Workers:    runtime.NumCPU(),
	}
}

// Overrides carries command-line values. Nil pointers and nil slices leave
// the file or default value in place.
type Overrides struct {
	OutputDir      *string
	Seed           *int64
	Formats        []string
	Devices        []string
	Precisions     []string
	IRVersion      *int
	Workers        *int
	IncludeXFail   *bool
	UseNewFrontend *bool
	UseOldAPI      *bool
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDir    string // if empty, os.Getwd() is used
	ConfigPath string // --config flag value; must exist when set
	Overrides  Overrides
}

// Load resolves the configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Config file: ConfigPath if set, otherwise DefaultFileName if it exists
// 3. Overrides
func Load(in LoadInput) (Config, error) {
	workDir := in.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	path, mustExist := in.ConfigPath, true
	if path == "" {
		path, mustExist = DefaultFileName, false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	loaded, err := loadFile(&cfg, path, mustExist)
	if err != nil {
		return Config{}, err
	}
	if loaded {
		cfg.Source = path
	}

	cfg.apply(in.Overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if !filepath.IsAbs(cfg.OutputDir) {
		cfg.OutputDir = filepath.Join(workDir, cfg.OutputDir)
	}

	return cfg, nil
}

// loadFile decodes path on top of cfg. A missing file is only an error when
// mustExist is set.
func loadFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}
			return false, nil
		}
		return false, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if err := decode(cfg, path, data); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return true, nil
}

func decode(cfg *Config, path string, data []byte) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".json", ".jsonc":
		std, err := hujson.Standardize(data)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(std))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
	}
}

func (c *Config) apply(o Overrides) {
	if o.OutputDir != nil {
		c.OutputDir = *o.OutputDir
	}
	if o.Seed != nil {
		seed := *o.Seed
		c.Seed = &seed
	}
	if o.Formats != nil {
		c.Formats = o.Formats
	}
	if o.Devices != nil {
		c.Devices = o.Devices
	}
	if o.Precisions != nil {
		c.Precisions = o.Precisions
	}
	if o.IRVersion != nil {
		c.IRVersion = *o.IRVersion
	}
	if o.Workers != nil {
		c.Workers = *o.Workers
	}
	if o.IncludeXFail != nil {
		c.IncludeXFail = *o.IncludeXFail
	}
	if o.UseNewFrontend != nil {
		c.UseNewFrontend = *o.UseNewFrontend
	}
	if o.UseOldAPI != nil {
		c.UseOldAPI = *o.UseOldAPI
	}
}

// Validate checks every field; errors wrap ErrConfigInvalid.
func (c Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, ErrOutputDirEmpty)
	}
	if len(c.Formats) == 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, ErrNoFormats)
	}
	if _, err := c.ArtifactFormats(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if err := unique("formats", c.Formats, strings.ToLower); err != nil {
		return err
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, ErrNoDevices)
	}
	for _, d := range c.Devices {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("%w: %w", ErrConfigInvalid, ErrNoDevices)
		}
		// devices become part of fixture file names
		if d == "." || d == ".." || strings.ContainsAny(d, `/\`) {
			return fmt.Errorf("%w: %w: %q", ErrConfigInvalid, ErrInvalidDevice, d)
		}
	}
	if err := unique("devices", c.Devices, nil); err != nil {
		return err
	}
	if len(c.Precisions) == 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, ErrNoPrecisions)
	}
	for _, p := range c.Precisions {
		if _, err := reference.PrecisionTolerance(p); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
	}
	if err := unique("precisions", c.Precisions, nil); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: %w (got %d)", ErrConfigInvalid, ErrInvalidWorkers, c.Workers)
	}
	supported := false
	for _, v := range SupportedIRVersions {
		if c.IRVersion == v {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("%w: %w %d", ErrConfigInvalid, ErrInvalidIRVersion, c.IRVersion)
	}
	return nil
}

// unique rejects repeated values, compared after fold when it is non-nil.
func unique(field string, values []string, fold func(string) string) error {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		key := v
		if fold != nil {
			key = fold(v)
		}
		if seen[key] {
			return fmt.Errorf("%w: %w in %s: %q", ErrConfigInvalid, ErrDuplicateEntry, field, v)
		}
		seen[key] = true
	}
	return nil
}

// ArtifactFormats parses Formats.
func (c Config) ArtifactFormats() ([]artifacts.Format, error) {
	out := make([]artifacts.Format, 0, len(c.Formats))
	for _, s := range c.Formats {
		f, err := artifacts.ParseFormat(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
