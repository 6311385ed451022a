package config

const (
	defaultDataDir               = "data"
	defaultResultsDir            = "results"
	defaultImageDir              = "images"
	defaultPartitionFile         = "partition.txt"
	defaultAlignmentSampleSize   = 250
	defaultWorkers               = 4
	defaultAcceleratorSlots      = 1
	defaultStorageRetryAttempts  = 3
	defaultStorageRetryInitialMS = 200
	defaultStorageDriver         = "fs"
	defaultStorageRegion         = "us-east-1"
	defaultLogFormat             = "auto"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultBuiltinTransform      = "copy"
	defaultBuiltinScorer         = "byte_match"
)

var knownSplits = []string{"train", "val", "test"}

// Default returns a Config populated with repository defaults. Experiment
// identity (project name, seed, presets, methods, metrics) has no default and
// must come from the config file.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			ResultsDir: defaultResultsDir,
		},
		Dataset: Dataset{
			ImageDir:      defaultImageDir,
			PartitionFile: defaultPartitionFile,
			Splits:        append([]string(nil), knownSplits...),
		},
		Alignment: Alignment{
			SampleSize: defaultAlignmentSampleSize,
		},
		Execution: Execution{
			Workers:               defaultWorkers,
			AcceleratorSlots:      defaultAcceleratorSlots,
			StorageRetryAttempts:  defaultStorageRetryAttempts,
			StorageRetryInitialMS: defaultStorageRetryInitialMS,
		},
		Storage: Storage{
			Driver: defaultStorageDriver,
			Region: defaultStorageRegion,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
