package config

const (
	defaultConfigPath               = "~/.config/billingest/config.toml"
	defaultInputDir                 = "~/billing/input"
	defaultOutputDir                = "~/billing/output"
	defaultArchiveDir               = "~/billing/archive"
	defaultIntermediateDir          = "~/.local/share/billingest/intermediate"
	defaultStateDir                 = "~/.local/share/billingest"
	defaultLogDir                   = "~/.local/share/billingest/logs"
	defaultAPIBind                  = "127.0.0.1:7491"
	defaultWorkers                  = 4
	defaultQueueSize                = 64
	defaultNormalizeTimeout         = 300
	defaultSettleSeconds            = 2
	defaultDispatchBackoffInitialMS = 50
	defaultDispatchBackoffMaxMS     = 2000
	defaultRescanSchedule           = "@every 10m"
	defaultIntermediateMaxAgeHours  = 24
	defaultCompression              = "zstd"
	defaultNtfyRequestTimeout       = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30

	// DatabaseFileName is the ledger and store database inside StateDir.
	DatabaseFileName = "processed_files.db"
)

var (
	defaultIncludePatterns = []string{"*.csv", "*.csv.gz", "*.csv.zst"}
	defaultDateColumns     = []string{
		"ChargePeriodStart",
		"BillingPeriodStart",
		"UsageDate",
		"Date",
		"lineItem/UsageStartDate",
		"UsageStartTime",
	}
	defaultCostColumns = []string{
		"BilledCost",
		"EffectiveCost",
		"ListCost",
		"ContractedCost",
		"Cost",
		"CostInBillingCurrency",
		"PreTaxCost",
		"lineItem/UnblendedCost",
		"lineItem/BlendedCost",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:        defaultInputDir,
			OutputDir:       defaultOutputDir,
			ArchiveDir:      defaultArchiveDir,
			IntermediateDir: defaultIntermediateDir,
			StateDir:        defaultStateDir,
			LogDir:          defaultLogDir,
			APIBind:         defaultAPIBind,
		},
		Ingest: Ingest{
			Workers:                  defaultWorkers,
			QueueSize:                defaultQueueSize,
			NormalizeTimeout:         defaultNormalizeTimeout,
			SettleSeconds:            defaultSettleSeconds,
			DispatchBackoffInitialMS: defaultDispatchBackoffInitialMS,
			DispatchBackoffMaxMS:     defaultDispatchBackoffMaxMS,
			RescanSchedule:           defaultRescanSchedule,
			IncludePatterns:          append([]string(nil), defaultIncludePatterns...),
			IntermediateMaxAgeHours:  defaultIntermediateMaxAgeHours,
		},
		Normalize: Normalize{
			DateColumns: append([]string(nil), defaultDateColumns...),
			CostColumns: append([]string(nil), defaultCostColumns...),
			Compression: defaultCompression,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
