package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"churn-service/internal/common"
)

type Settings struct {
	DataPath       string
	LabelColumn    string
	DropColumns    []string
	TestFraction   float64
	SplitSeed      int64
	NEstimators    int
	MaxDepth       int
	MinSamplesLeaf int
	Scaling        string
	LogColumns     []string
	ArtifactsDir   string
	KeepRuns       int
	TrackingDir    string
	Experiment     string
	ServerPort     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	LogLevel       string
	LogFile        string
}

type ConfigFile struct {
	Data struct {
		Path        string   `yaml:"path"`
		LabelColumn string   `yaml:"labelColumn"`
		DropColumns []string `yaml:"dropColumns"`
	} `yaml:"data"`

	Training struct {
		TestFraction   float64  `yaml:"testFraction"`
		SplitSeed      int64    `yaml:"splitSeed"`
		NEstimators    int      `yaml:"nEstimators"`
		MaxDepth       int      `yaml:"maxDepth"`
		MinSamplesLeaf int      `yaml:"minSamplesLeaf"`
		Scaling        string   `yaml:"scaling"`
		LogColumns     []string `yaml:"logColumns"`
	} `yaml:"training"`

	Artifacts struct {
		Dir      string `yaml:"dir"`
		KeepRuns int    `yaml:"keepRuns"`
	} `yaml:"artifacts"`

	Tracking struct {
		Dir        string `yaml:"dir"`
		Experiment string `yaml:"experiment"`
	} `yaml:"tracking"`

	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeout    string `yaml:"readTimeout"`
		WriteTimeout   string `yaml:"writeTimeout"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// Load reads .env if present, then the YAML file named by CONFIG_FILE, or else
// environment variables alone. Environment variables override YAML values.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := parseDurationOrDefault(config.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return Settings{}, fmt.Errorf("server.readTimeout: %w", err)
	}
	writeTimeout, err := parseDurationOrDefault(config.Server.WriteTimeout, 10*time.Second)
	if err != nil {
		return Settings{}, fmt.Errorf("server.writeTimeout: %w", err)
	}
	requestTimeout, err := parseDurationOrDefault(config.Server.RequestTimeout, 5*time.Second)
	if err != nil {
		return Settings{}, fmt.Errorf("server.requestTimeout: %w", err)
	}

	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, orString(config.Data.Path, common.DefaultDataPath)),
		LabelColumn:    getEnvOrDefault(common.EnvLabelColumn, orString(config.Data.LabelColumn, common.DefaultLabelColumn)),
		DropColumns:    getListFromEnvOrConfig(common.EnvDropColumns, config.Data.DropColumns, nil),
		TestFraction:   getFloatFromEnvOrConfig(common.EnvTestFraction, config.Training.TestFraction, common.DefaultTestFraction),
		SplitSeed:      getInt64FromEnvOrConfig(common.EnvSplitSeed, config.Training.SplitSeed, common.DefaultSplitSeed),
		NEstimators:    getIntFromEnvOrConfig(common.EnvNEstimators, config.Training.NEstimators, common.DefaultNEstimators),
		MaxDepth:       getIntFromEnvOrConfig(common.EnvMaxDepth, config.Training.MaxDepth, common.DefaultMaxDepth),
		MinSamplesLeaf: getIntFromEnvOrConfig(common.EnvMinSamplesLeaf, config.Training.MinSamplesLeaf, common.DefaultMinSamplesLeaf),
		Scaling:        getEnvOrDefault(common.EnvScaling, orString(config.Training.Scaling, common.DefaultScaling)),
		LogColumns:     getListFromEnvOrConfig(common.EnvLogColumns, config.Training.LogColumns, splitList(common.DefaultLogColumns)),
		ArtifactsDir:   getEnvOrDefault(common.EnvArtifactsDir, orString(config.Artifacts.Dir, common.DefaultArtifactsDir)),
		KeepRuns:       getIntFromEnvOrConfig(common.EnvKeepRuns, config.Artifacts.KeepRuns, common.DefaultKeepRuns),
		TrackingDir:    getEnvOrDefault(common.EnvTrackingDir, orString(config.Tracking.Dir, common.DefaultTrackingDir)),
		Experiment:     getEnvOrDefault(common.EnvExperiment, orString(config.Tracking.Experiment, common.DefaultExperiment)),
		ServerPort:     getIntFromEnvOrConfig(common.EnvServerPort, config.Server.Port, common.DefaultServerPort),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orString(config.Log.Level, common.DefaultLogLevel)),
		LogFile:        getEnvOrDefault(common.EnvLogFile, orString(config.Log.File, common.DefaultLogFile)),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		LabelColumn:    getEnvOrDefault(common.EnvLabelColumn, common.DefaultLabelColumn),
		DropColumns:    splitList(os.Getenv(common.EnvDropColumns)),
		TestFraction:   getFloatOrDefault(common.EnvTestFraction, common.DefaultTestFraction),
		SplitSeed:      getInt64OrDefault(common.EnvSplitSeed, common.DefaultSplitSeed),
		NEstimators:    getIntOrDefault(common.EnvNEstimators, common.DefaultNEstimators),
		MaxDepth:       getIntOrDefault(common.EnvMaxDepth, common.DefaultMaxDepth),
		MinSamplesLeaf: getIntOrDefault(common.EnvMinSamplesLeaf, common.DefaultMinSamplesLeaf),
		Scaling:        getEnvOrDefault(common.EnvScaling, common.DefaultScaling),
		LogColumns:     splitList(getEnvOrDefault(common.EnvLogColumns, common.DefaultLogColumns)),
		ArtifactsDir:   getEnvOrDefault(common.EnvArtifactsDir, common.DefaultArtifactsDir),
		KeepRuns:       getIntOrDefault(common.EnvKeepRuns, common.DefaultKeepRuns),
		TrackingDir:    getEnvOrDefault(common.EnvTrackingDir, common.DefaultTrackingDir),
		Experiment:     getEnvOrDefault(common.EnvExperiment, common.DefaultExperiment),
		ServerPort:     getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, 10*time.Second),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, 10*time.Second),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, 5*time.Second),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFile:        getEnvOrDefault(common.EnvLogFile, common.DefaultLogFile),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func parseDurationOrDefault(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getListFromEnvOrConfig(key string, configValue, def []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitList(env)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return def
}

func getIntFromEnvOrConfig(key string, configValue, def int) int {
	if configValue != 0 {
		def = configValue
	}
	return getIntOrDefault(key, def)
}

func getInt64FromEnvOrConfig(key string, configValue, def int64) int64 {
	if configValue != 0 {
		def = configValue
	}
	return getInt64OrDefault(key, def)
}

func getFloatFromEnvOrConfig(key string, configValue, def float64) float64 {
	if configValue != 0 {
		def = configValue
	}
	return getFloatOrDefault(key, def)
}

// validateSettings range-checks every configuration value
func validateSettings(settings *Settings) error {
	// Validate paths
	if settings.DataPath == "" {
		return errors.New(common.ErrMsgDataPathRequired)
	}
	if settings.ArtifactsDir == "" {
		return errors.New(common.ErrMsgArtifactsDirRequired)
	}
	if settings.TrackingDir == "" {
		return errors.New(common.ErrMsgTrackingDirRequired)
	}
	if settings.LabelColumn == "" {
		return fmt.Errorf("label column cannot be empty")
	}
	if settings.Experiment == "" || strings.ContainsAny(settings.Experiment, "/\\") {
		return fmt.Errorf("experiment name must be non-empty and contain no path separators, got %q", settings.Experiment)
	}

	// Validate training parameters
	if settings.TestFraction <= 0 || settings.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be between 0 and 1 exclusive, got %f", settings.TestFraction)
	}
	if settings.NEstimators < 1 || settings.NEstimators > common.MaxNEstimators {
		return fmt.Errorf("n_estimators must be between 1 and %d, got %d", common.MaxNEstimators, settings.NEstimators)
	}
	if settings.MaxDepth < 0 || settings.MaxDepth > common.MaxTreeDepth {
		return fmt.Errorf("max depth must be between 0 (unlimited) and %d, got %d", common.MaxTreeDepth, settings.MaxDepth)
	}
	if settings.MinSamplesLeaf < common.MinMinSamplesLeaf {
		return fmt.Errorf("min samples leaf must be at least %d, got %d", common.MinMinSamplesLeaf, settings.MinSamplesLeaf)
	}
	if settings.Scaling != "standard" && settings.Scaling != "minmax" {
		return fmt.Errorf("scaling must be standard or minmax, got %q", settings.Scaling)
	}
	if settings.KeepRuns < 0 {
		return fmt.Errorf("keep runs must be non-negative, got %d", settings.KeepRuns)
	}

	// Validate server
	if settings.ServerPort < common.MinServerPort || settings.ServerPort > common.MaxServerPort {
		return fmt.Errorf("server port must be between %d and %d, got %d", common.MinServerPort, common.MaxServerPort, settings.ServerPort)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 1m, got %v", settings.RequestTimeout)
	}

	// Validate logging
	switch strings.ToLower(settings.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	return nil
}
