package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"restorebench/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the project directory layout.
type Paths struct {
	DataDir    string `toml:"data_dir" yaml:"data_dir" json:"data_dir"`
	ResultsDir string `toml:"results_dir" yaml:"results_dir" json:"results_dir"`
	LogDir     string `toml:"log_dir" yaml:"log_dir" json:"log_dir"`
}

// Dataset locates the ground-truth index and images.
type Dataset struct {
	ImageDir      string   `toml:"image_dir" yaml:"image_dir" json:"image_dir"`
	PartitionFile string   `toml:"partition_file" yaml:"partition_file" json:"partition_file"`
	Splits        []string `toml:"splits" yaml:"splits" json:"splits"`
	SampleLimit   int      `toml:"sample_limit" yaml:"sample_limit" json:"sample_limit"`
}

// Alignment configures the image geometry check. Zero dimensions skip the
// comparison.
type Alignment struct {
	ExpectedWidth  int `toml:"expected_width" yaml:"expected_width" json:"expected_width"`
	ExpectedHeight int `toml:"expected_height" yaml:"expected_height" json:"expected_height"`
	SampleSize     int `toml:"sample_size" yaml:"sample_size" json:"sample_size"`
}

// Capability selects the implementation behind a degrade, restore, or score
// call: either a builtin by name or an external command line.
type Capability struct {
	Builtin        string   `toml:"builtin" yaml:"builtin" json:"builtin"`
	Command        []string `toml:"command" yaml:"command" json:"command"`
	TimeoutSeconds int      `toml:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
}

// IsCommand reports whether the capability runs an external program.
func (c Capability) IsCommand() bool { return len(c.Command) > 0 }

// Describe renders the capability for logs and provenance.
func (c Capability) Describe() string {
	if c.IsCommand() {
		return "command:" + c.Command[0]
	}
	return "builtin:" + c.Builtin
}

// Degradation is a named, parameterized preset.
type Degradation struct {
	Name   string             `toml:"name" yaml:"name" json:"name"`
	Kind   string             `toml:"kind" yaml:"kind" json:"kind"`
	Params map[string]float64 `toml:"params" yaml:"params" json:"params"`
}

// Degrade configures the degradation capability.
type Degrade struct {
	Capability Capability `toml:"capability" yaml:"capability" json:"capability"`
}

// Method is one of the two compared restoration methods.
type Method struct {
	Name       string     `toml:"name" yaml:"name" json:"name"`
	TuningKnob string     `toml:"tuning_knob" yaml:"tuning_knob" json:"tuning_knob"`
	TuningGrid []float64  `toml:"tuning_grid" yaml:"tuning_grid" json:"tuning_grid"`
	Exclusive  bool       `toml:"exclusive" yaml:"exclusive" json:"exclusive"`
	Capability Capability `toml:"capability" yaml:"capability" json:"capability"`
}

// Tunable reports whether the method declares a tuning knob.
func (m Method) Tunable() bool { return strings.TrimSpace(m.TuningKnob) != "" }

// Score configures metric computation.
type Score struct {
	Metrics    []string   `toml:"metrics" yaml:"metrics" json:"metrics"`
	Exclusive  bool       `toml:"exclusive" yaml:"exclusive" json:"exclusive"`
	Capability Capability `toml:"capability" yaml:"capability" json:"capability"`
}

// Execution controls per-stage concurrency and failure tolerance.
type Execution struct {
	Workers               int     `toml:"workers" yaml:"workers" json:"workers"`
	AcceleratorSlots      int     `toml:"accelerator_slots" yaml:"accelerator_slots" json:"accelerator_slots"`
	FailureThreshold      float64 `toml:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
	StorageRetryAttempts  int     `toml:"storage_retry_attempts" yaml:"storage_retry_attempts" json:"storage_retry_attempts"`
	StorageRetryInitialMS int     `toml:"storage_retry_initial_ms" yaml:"storage_retry_initial_ms" json:"storage_retry_initial_ms"`
}

// Storage selects where published artifacts are checked and mirrored.
type Storage struct {
	Driver          string `toml:"driver" yaml:"driver" json:"driver"`
	Bucket          string `toml:"bucket" yaml:"bucket" json:"bucket"`
	Region          string `toml:"region" yaml:"region" json:"region"`
	Endpoint        string `toml:"endpoint" yaml:"endpoint" json:"endpoint"`
	Prefix          string `toml:"prefix" yaml:"prefix" json:"prefix"`
	PathStyle       bool   `toml:"path_style" yaml:"path_style" json:"path_style"`
	AccessKeyID     string `toml:"access_key_id" yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key" yaml:"secret_access_key" json:"secret_access_key"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format" yaml:"format" json:"format"`
	Level         string `toml:"level" yaml:"level" json:"level"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days" json:"retention_days"`
}

// Config is the immutable experiment configuration for one run.
//
// Configuration sections:
//   - Paths: data, results, and log directories
//   - Dataset: partition index, image directory, split filter
//   - Alignment: expected image geometry
//   - Degradations / Degrade: presets and the degradation capability
//   - Methods: the two compared restoration methods and their tuning grids
//   - Score: metric list and the scoring capability
//   - Execution: worker pool size, accelerator gate, failure threshold
//   - Storage: artifact backend (local filesystem or S3 mirror)
//   - Logging: log format, level, and retention
type Config struct {
	ProjectName  string        `toml:"project_name" yaml:"project_name" json:"project_name"`
	Seed         *int64        `toml:"seed" yaml:"seed" json:"seed"`
	Paths        Paths         `toml:"paths" yaml:"paths" json:"paths"`
	Dataset      Dataset       `toml:"dataset" yaml:"dataset" json:"dataset"`
	Alignment    Alignment     `toml:"alignment" yaml:"alignment" json:"alignment"`
	Degradations []Degradation `toml:"degradations" yaml:"degradations" json:"degradations"`
	Degrade      Degrade       `toml:"degrade" yaml:"degrade" json:"degrade"`
	Methods      []Method      `toml:"methods" yaml:"methods" json:"methods"`
	Score        Score         `toml:"score" yaml:"score" json:"score"`
	Execution    Execution     `toml:"execution" yaml:"execution" json:"execution"`
	Storage      Storage       `toml:"storage" yaml:"storage" json:"storage"`
	Logging      Logging       `toml:"logging" yaml:"logging" json:"logging"`

	// source is the absolute path the config was loaded from.
	source string
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/restorebench/config.toml")
}

// Load locates, parses, and validates a configuration file. Every failure is
// tagged with services.ErrConfiguration.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", configError("resolve", "", err)
	}
	if !exists {
		return nil, resolvedPath, configError("resolve", fmt.Sprintf("config file %s not found (create with 'restorebench config init')", resolvedPath), nil)
	}

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, resolvedPath, configError("read", resolvedPath, err)
	}
	if err := decode(resolvedPath, data, &cfg); err != nil {
		return nil, resolvedPath, configError("parse", resolvedPath, err)
	}
	cfg.source = resolvedPath

	if err := cfg.normalize(); err != nil {
		return nil, resolvedPath, configError("normalize", resolvedPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolvedPath, configError("validate", resolvedPath, err)
	}
	return &cfg, resolvedPath, nil
}

func configError(operation, message string, err error) error {
	return services.Wrap(services.ErrConfiguration, "config", operation, message, err)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %s is a directory", expanded)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs("restorebench.toml")
	if err != nil {
		return "", false, err
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return projectPath, false, nil
}

// Source returns the file the config was loaded from.
func (c *Config) Source() string { return c.source }

// SeedValue returns the configured run seed.
func (c *Config) SeedValue() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// LockPath returns the run-level lock marker inside the results tree.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.ResultsDir, ".run.lock")
}

// LedgerPath returns the sqlite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.LogDir, "ledger.db")
}

// MetricsPath returns the Prometheus textfile written after each run.
func (c *Config) MetricsPath() string {
	return filepath.Join(c.Paths.LogDir, "metrics.prom")
}

// Method returns the method bound to a restoration slot.
func (c *Config) Method(slot int) (Method, bool) {
	if slot < 0 || slot >= len(c.Methods) {
		return Method{}, false
	}
	return c.Methods[slot], true
}

// EnsureDirectories creates the results and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ResultsDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// resolveRelative anchors relative paths at base instead of the working
// directory so a project can be run from anywhere.
func resolveRelative(base, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" || strings.HasPrefix(pathValue, "~") || filepath.IsAbs(pathValue) || base == "" {
		return expandPath(pathValue)
	}
	return expandPath(filepath.Join(base, pathValue))
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
