package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.ProjectName = strings.TrimSpace(c.ProjectName)
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDataset(); err != nil {
		return err
	}
	c.normalizeExperiment()
	c.normalizeExecution()
	c.normalizeStorage()
	c.normalizeLogging()
	return nil
}

func (c *Config) baseDir() string {
	if c.source == "" {
		return ""
	}
	return filepath.Dir(c.source)
}

func (c *Config) normalizePaths() error {
	var err error
	base := c.baseDir()
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = resolveRelative(base, c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ResultsDir) == "" {
		c.Paths.ResultsDir = defaultResultsDir
	}
	if c.Paths.ResultsDir, err = resolveRelative(base, c.Paths.ResultsDir); err != nil {
		return fmt.Errorf("paths.results_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.ResultsDir, "logs")
	}
	if c.Paths.LogDir, err = resolveRelative(base, c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDataset() error {
	var err error
	if strings.TrimSpace(c.Dataset.ImageDir) == "" {
		c.Dataset.ImageDir = defaultImageDir
	}
	if c.Dataset.ImageDir, err = resolveRelative(c.Paths.DataDir, c.Dataset.ImageDir); err != nil {
		return fmt.Errorf("dataset.image_dir: %w", err)
	}
	if strings.TrimSpace(c.Dataset.PartitionFile) == "" {
		c.Dataset.PartitionFile = defaultPartitionFile
	}
	if c.Dataset.PartitionFile, err = resolveRelative(c.Paths.DataDir, c.Dataset.PartitionFile); err != nil {
		return fmt.Errorf("dataset.partition_file: %w", err)
	}
	if len(c.Dataset.Splits) == 0 {
		c.Dataset.Splits = append([]string(nil), knownSplits...)
	}
	splits := make([]string, 0, len(c.Dataset.Splits))
	seen := make(map[string]struct{}, len(c.Dataset.Splits))
	for _, split := range c.Dataset.Splits {
		normalized := strings.ToLower(strings.TrimSpace(split))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		splits = append(splits, normalized)
	}
	c.Dataset.Splits = splits
	return nil
}

func (c *Config) normalizeExperiment() {
	for i := range c.Degradations {
		c.Degradations[i].Name = strings.TrimSpace(c.Degradations[i].Name)
		c.Degradations[i].Kind = strings.ToLower(strings.TrimSpace(c.Degradations[i].Kind))
		if c.Degradations[i].Params == nil {
			c.Degradations[i].Params = map[string]float64{}
		}
	}
	c.Degrade.Capability = normalizeCapability(c.Degrade.Capability, defaultBuiltinTransform)
	for i := range c.Methods {
		c.Methods[i].Name = strings.TrimSpace(c.Methods[i].Name)
		c.Methods[i].TuningKnob = strings.TrimSpace(c.Methods[i].TuningKnob)
		c.Methods[i].Capability = normalizeCapability(c.Methods[i].Capability, defaultBuiltinTransform)
	}
	metrics := make([]string, 0, len(c.Score.Metrics))
	for _, metric := range c.Score.Metrics {
		if trimmed := strings.TrimSpace(metric); trimmed != "" {
			metrics = append(metrics, trimmed)
		}
	}
	c.Score.Metrics = metrics
	c.Score.Capability = normalizeCapability(c.Score.Capability, defaultBuiltinScorer)
}

func normalizeCapability(capability Capability, fallback string) Capability {
	capability.Builtin = strings.ToLower(strings.TrimSpace(capability.Builtin))
	if len(capability.Command) == 0 && capability.Builtin == "" {
		capability.Builtin = fallback
	}
	return capability
}

func (c *Config) normalizeExecution() {
	if c.Execution.Workers <= 0 {
		c.Execution.Workers = defaultWorkers
	}
	if c.Execution.AcceleratorSlots <= 0 {
		c.Execution.AcceleratorSlots = defaultAcceleratorSlots
	}
	if c.Execution.StorageRetryInitialMS <= 0 {
		c.Execution.StorageRetryInitialMS = defaultStorageRetryInitialMS
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaultStorageDriver
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Region = strings.TrimSpace(c.Storage.Region)
	if c.Storage.Region == "" {
		c.Storage.Region = defaultStorageRegion
	}
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	if c.Storage.AccessKeyID == "" {
		if value, ok := os.LookupEnv("RESTOREBENCH_S3_ACCESS_KEY_ID"); ok {
			c.Storage.AccessKeyID = strings.TrimSpace(value)
		}
	}
	if c.Storage.SecretAccessKey == "" {
		if value, ok := os.LookupEnv("RESTOREBENCH_S3_SECRET_ACCESS_KEY"); ok {
			c.Storage.SecretAccessKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "auto":
		c.Logging.Format = defaultLogFormat
	case "console", "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
