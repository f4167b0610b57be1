package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvDataPath       = "DATA_PATH"
	EnvLabelColumn    = "LABEL_COLUMN"
	EnvDropColumns    = "DROP_COLUMNS"
	EnvTestFraction   = "TEST_FRACTION"
	EnvSplitSeed      = "SPLIT_SEED"
	EnvNEstimators    = "N_ESTIMATORS"
	EnvMaxDepth       = "MAX_DEPTH"
	EnvMinSamplesLeaf = "MIN_SAMPLES_LEAF"
	EnvScaling        = "SCALING"
	EnvLogColumns     = "LOG_COLUMNS"
	EnvArtifactsDir   = "ARTIFACTS_DIR"
	EnvKeepRuns       = "KEEP_RUNS"
	EnvTrackingDir    = "TRACKING_DIR"
	EnvExperiment     = "EXPERIMENT"
	EnvServerPort     = "SERVER_PORT"
	EnvReadTimeout    = "READ_TIMEOUT"
	EnvWriteTimeout   = "WRITE_TIMEOUT"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFile        = "LOG_FILE"
	EnvAPIURL         = "API_URL"
	EnvClientTimeout  = "CLIENT_TIMEOUT"
)

// Configuration defaults
const (
	DefaultDataPath       = "data/churn.csv"
	DefaultLabelColumn    = "churn"
	DefaultTestFraction   = 0.2
	DefaultSplitSeed      = 42
	DefaultNEstimators    = 100
	DefaultMaxDepth       = 0 // unlimited
	DefaultMinSamplesLeaf = 1
	DefaultScaling        = "standard"
	DefaultLogColumns     = "numbervmailmessages"
	DefaultArtifactsDir   = "model"
	DefaultKeepRuns       = 5
	DefaultTrackingDir    = "mlruns"
	DefaultExperiment     = "churn"
	DefaultServerPort     = 8000
	DefaultLogLevel       = "info"
	DefaultLogFile        = "logs/app.log"
	DefaultAPIURL         = "http://localhost:8000"
)

// Validation constants
const (
	MinServerPort     = 1024
	MaxServerPort     = 65535
	MaxNEstimators    = 1000
	MaxTreeDepth      = 100
	MinMinSamplesLeaf = 1
)

// Response strings of the inference API
const (
	InterpretationChurn   = "Churn"
	InterpretationNoChurn = "No Churn"
	UptimeStatusRunning   = "running"
	RootMessage           = "Churn prediction API is running"
)

// Common error messages
const (
	ErrMsgDataPathRequired     = "data path is required"
	ErrMsgArtifactsDirRequired = "artifacts directory is required"
	ErrMsgTrackingDirRequired  = "tracking directory is required"
)
