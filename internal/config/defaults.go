package config

const (
	defaultWorkspaceRoot          = "~/.local/share/celigo/workspaces"
	defaultStateDir               = "~/.local/share/celigo"
	defaultLogDir                 = "~/.local/share/celigo/logs"
	defaultLogRetentionDays       = 30
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultExistingPolicy         = PolicyReject
	defaultConcurrentPolicy       = PolicyReject
	defaultLockRetryIntervalMS    = 500
	defaultMinFreeGiB             = 5
	defaultStaleAfterHours        = 72
	defaultSubmitCommand          = "sbatch"
	defaultQueryCommand           = "squeue"
	defaultSubmitPattern          = `Submitted batch job (\d+)`
	defaultPollIntervalSeconds    = 30
	defaultMinPollIntervalSeconds = 1
	defaultMaxTicks               = 240
	defaultFailureGraceThreshold  = 3
	defaultQueryRetries           = 3
	defaultQueryBackoffMS         = 500
	defaultQueryBackoffMaxMS      = 10000
	defaultCommandTimeoutSeconds  = 60
	defaultProfile                = "96-well"
	defaultMaxConcurrentRuns      = 4
	defaultNotifyRequestTimeout   = 10
	defaultStorageBucket          = "celigo"
	defaultDatabaseTable          = "celigo_results"
	defaultDatabaseMaxConns       = 4
)

// Workspace and lock policies.
const (
	PolicyReject    = "reject"
	PolicyReuse     = "reuse"
	PolicyClean     = "clean"
	PolicySerialize = "serialize"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceRoot: defaultWorkspaceRoot,
			StateDir:      defaultStateDir,
			LogDir:        defaultLogDir,
		},
		Workspace: Workspace{
			ExistingPolicy:      defaultExistingPolicy,
			ConcurrentPolicy:    defaultConcurrentPolicy,
			LockRetryIntervalMS: defaultLockRetryIntervalMS,
			MinFreeGiB:          defaultMinFreeGiB,
			StaleAfterHours:     defaultStaleAfterHours,
		},
		Scheduler: Scheduler{
			SubmitCommand:          defaultSubmitCommand,
			QueryCommand:           defaultQueryCommand,
			QueryArgs:              []string{"-j"},
			SubmitPattern:          defaultSubmitPattern,
			PollIntervalSeconds:    defaultPollIntervalSeconds,
			MinPollIntervalSeconds: defaultMinPollIntervalSeconds,
			MaxTicks:               defaultMaxTicks,
			FailureGraceThreshold:  defaultFailureGraceThreshold,
			QueryRetries:           defaultQueryRetries,
			QueryBackoffMS:         defaultQueryBackoffMS,
			QueryBackoffMaxMS:      defaultQueryBackoffMaxMS,
			CommandTimeoutSeconds:  defaultCommandTimeoutSeconds,
		},
		Pipeline: Pipeline{
			Profile:           defaultProfile,
			MaxConcurrentRuns: defaultMaxConcurrentRuns,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Storage: Storage{
			Bucket: defaultStorageBucket,
			UseSSL: true,
		},
		Database: Database{
			Table:    defaultDatabaseTable,
			MaxConns: defaultDatabaseMaxConns,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
