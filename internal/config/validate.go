package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

var (
	transformPlaceholders = []string{"input", "output", "seed", "preset", "kind", "params", "tuning", "id", "method"}
	scorePlaceholders     = []string{"gt", "restored", "metric", "id"}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateDegradations(); err != nil {
		return err
	}
	if err := c.validateMethods(); err != nil {
		return err
	}
	if err := c.validateScore(); err != nil {
		return err
	}
	if err := c.validateDataset(); err != nil {
		return err
	}
	if err := c.validateExecution(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateIdentity() error {
	if c.ProjectName == "" {
		return errors.New("project_name is required")
	}
	if c.Seed == nil {
		return errors.New("seed is required")
	}
	return nil
}

func (c *Config) validateDegradations() error {
	if len(c.Degradations) == 0 {
		return errors.New("degradations must declare at least one preset")
	}
	seen := make(map[string]struct{}, len(c.Degradations))
	for i, preset := range c.Degradations {
		if !namePattern.MatchString(preset.Name) {
			return fmt.Errorf("degradations[%d].name %q must be a non-empty file-safe name", i, preset.Name)
		}
		if _, ok := seen[preset.Name]; ok {
			return fmt.Errorf("degradations[%d].name %q is duplicated", i, preset.Name)
		}
		seen[preset.Name] = struct{}{}
		if preset.Kind == "" {
			return fmt.Errorf("degradations[%d].kind is required", i)
		}
	}
	return validateCapability("degrade.capability", c.Degrade.Capability, []string{"copy"}, transformPlaceholders)
}

func (c *Config) validateMethods() error {
	if len(c.Methods) != 2 {
		return fmt.Errorf("methods must declare exactly two restoration methods, got %d", len(c.Methods))
	}
	if c.Methods[0].Name == c.Methods[1].Name {
		return fmt.Errorf("methods must have distinct names (both are %q)", c.Methods[0].Name)
	}
	for i, method := range c.Methods {
		field := fmt.Sprintf("methods[%d]", i)
		if !namePattern.MatchString(method.Name) {
			return fmt.Errorf("%s.name %q must be a non-empty file-safe name", field, method.Name)
		}
		if method.Tunable() {
			if len(method.TuningGrid) == 0 {
				return fmt.Errorf("%s.tuning_grid must list at least one value when tuning_knob is set", field)
			}
			for j, value := range method.TuningGrid {
				if slices.Contains(method.TuningGrid[:j], value) {
					return fmt.Errorf("%s.tuning_grid repeats value %v", field, value)
				}
			}
		} else if len(method.TuningGrid) > 0 {
			return fmt.Errorf("%s.tuning_grid requires tuning_knob to be set", field)
		}
		if err := validateCapability(field+".capability", method.Capability, []string{"copy"}, transformPlaceholders); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateScore() error {
	if len(c.Score.Metrics) == 0 {
		return errors.New("score.metrics must list at least one metric")
	}
	for i, metric := range c.Score.Metrics {
		if !namePattern.MatchString(metric) {
			return fmt.Errorf("score.metrics[%d] %q must be a file-safe name", i, metric)
		}
		if slices.Contains(c.Score.Metrics[:i], metric) {
			return fmt.Errorf("score.metrics repeats %q", metric)
		}
	}
	return validateCapability("score.capability", c.Score.Capability, []string{"byte_match"}, scorePlaceholders)
}

func validateCapability(field string, capability Capability, builtins, placeholders []string) error {
	if capability.IsCommand() {
		if capability.Builtin != "" {
			return fmt.Errorf("%s: set either builtin or command, not both", field)
		}
		if strings.TrimSpace(capability.Command[0]) == "" {
			return fmt.Errorf("%s.command must start with a program name", field)
		}
		for _, arg := range capability.Command {
			for _, match := range placeholderPattern.FindAllStringSubmatch(arg, -1) {
				if !slices.Contains(placeholders, match[1]) {
					return fmt.Errorf("%s.command uses unknown placeholder {%s}", field, match[1])
				}
			}
		}
	} else if !slices.Contains(builtins, capability.Builtin) {
		return fmt.Errorf("%s.builtin %q is not supported (expected one of %s)", field, capability.Builtin, strings.Join(builtins, ", "))
	}
	if capability.TimeoutSeconds < 0 {
		return fmt.Errorf("%s.timeout_seconds must be >= 0", field)
	}
	return nil
}

func (c *Config) validateDataset() error {
	if len(c.Dataset.Splits) == 0 {
		return errors.New("dataset.splits must include at least one split")
	}
	for _, split := range c.Dataset.Splits {
		if !slices.Contains(knownSplits, split) {
			return fmt.Errorf("dataset.splits: unknown split %q (expected train, val, or test)", split)
		}
	}
	if c.Dataset.SampleLimit < 0 {
		return errors.New("dataset.sample_limit must be >= 0")
	}
	if c.Alignment.ExpectedWidth < 0 || c.Alignment.ExpectedHeight < 0 {
		return errors.New("alignment.expected_width and expected_height must be >= 0")
	}
	if c.Alignment.SampleSize < 0 {
		return errors.New("alignment.sample_size must be >= 0")
	}
	return nil
}

func (c *Config) validateExecution() error {
	if c.Execution.FailureThreshold < 0 || c.Execution.FailureThreshold > 1 {
		return errors.New("execution.failure_threshold must be between 0 and 1")
	}
	if c.Execution.StorageRetryAttempts < 0 {
		return errors.New("execution.storage_retry_attempts must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"execution.workers":                  c.Execution.Workers,
		"execution.accelerator_slots":        c.Execution.AcceleratorSlots,
		"execution.storage_retry_initial_ms": c.Execution.StorageRetryInitialMS,
	})
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case "fs":
		return nil
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when storage.driver is s3")
		}
		if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
			return errors.New("storage.access_key_id and storage.secret_access_key must be set together")
		}
		return nil
	default:
		return fmt.Errorf("storage.driver %q is not supported (expected fs or s3)", c.Storage.Driver)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
