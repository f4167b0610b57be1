package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.DataPath != "data/churn.csv" {
					t.Errorf("expected default DataPath, got %s", settings.DataPath)
				}
				if settings.TestFraction != 0.2 {
					t.Errorf("expected default TestFraction 0.2, got %f", settings.TestFraction)
				}
				if settings.NEstimators != 100 {
					t.Errorf("expected default NEstimators 100, got %d", settings.NEstimators)
				}
				if settings.SplitSeed != 42 {
					t.Errorf("expected default split seed 42, got %d", settings.SplitSeed)
				}
				if len(settings.LogColumns) != 1 || settings.LogColumns[0] != "numbervmailmessages" {
					t.Errorf("expected default log columns, got %v", settings.LogColumns)
				}
				if settings.ServerPort != 8000 {
					t.Errorf("expected default ServerPort 8000, got %d", settings.ServerPort)
				}
				if settings.RequestTimeout != 5*time.Second {
					t.Errorf("expected default RequestTimeout 5s, got %v", settings.RequestTimeout)
				}
			},
		},
		{
			name: "custom settings",
			envVars: map[string]string{
				"DATA_PATH":       "/tmp/accounts.csv",
				"DROP_COLUMNS":    "state, phone",
				"TEST_FRACTION":   "0.3",
				"N_ESTIMATORS":    "25",
				"MAX_DEPTH":       "8",
				"SCALING":         "minmax",
				"SERVER_PORT":     "9090",
				"REQUEST_TIMEOUT": "2s",
				"LOG_LEVEL":       "debug",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.DataPath != "/tmp/accounts.csv" {
					t.Errorf("expected DataPath override, got %s", settings.DataPath)
				}
				if len(settings.DropColumns) != 2 || settings.DropColumns[1] != "phone" {
					t.Errorf("expected trimmed drop columns, got %v", settings.DropColumns)
				}
				if settings.TestFraction != 0.3 {
					t.Errorf("expected TestFraction 0.3, got %f", settings.TestFraction)
				}
				if settings.NEstimators != 25 || settings.MaxDepth != 8 {
					t.Errorf("expected forest overrides, got %d/%d", settings.NEstimators, settings.MaxDepth)
				}
				if settings.Scaling != "minmax" {
					t.Errorf("expected minmax scaling, got %s", settings.Scaling)
				}
				if settings.ServerPort != 9090 {
					t.Errorf("expected ServerPort 9090, got %d", settings.ServerPort)
				}
				if settings.RequestTimeout != 2*time.Second {
					t.Errorf("expected RequestTimeout 2s, got %v", settings.RequestTimeout)
				}
			},
		},
		{
			name:    "invalid test fraction",
			envVars: map[string]string{"TEST_FRACTION": "1.5"},
			wantErr: true,
		},
		{
			name:    "invalid scaling",
			envVars: map[string]string{"SCALING": "robust"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear all environment variables first
			clearTestEnv(t)

			// Set test environment variables
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "valid YAML config",
			yamlContent: `
data:
  path: "/data/churn.csv"
  labelColumn: "Churn"
  dropColumns: ["state", "phone"]

training:
  testFraction: 0.25
  splitSeed: 7
  nEstimators: 50
  maxDepth: 12
  minSamplesLeaf: 2
  scaling: minmax
  logColumns: ["numbervmailmessages", "totalintlcalls"]

artifacts:
  dir: "/models"
  keepRuns: 3

tracking:
  dir: "/mlruns"
  experiment: "churn_q3"

server:
  port: 9000
  readTimeout: "15s"
  writeTimeout: "20s"
  requestTimeout: "3s"

log:
  level: warn
  file: ""
`,
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.DataPath != "/data/churn.csv" {
					t.Errorf("expected DataPath from YAML, got %s", settings.DataPath)
				}
				if settings.LabelColumn != "Churn" {
					t.Errorf("expected LabelColumn Churn, got %s", settings.LabelColumn)
				}
				if len(settings.DropColumns) != 2 {
					t.Errorf("expected 2 drop columns, got %v", settings.DropColumns)
				}
				if settings.TestFraction != 0.25 || settings.SplitSeed != 7 {
					t.Errorf("expected split settings from YAML, got %f/%d", settings.TestFraction, settings.SplitSeed)
				}
				if settings.NEstimators != 50 || settings.MaxDepth != 12 || settings.MinSamplesLeaf != 2 {
					t.Errorf("expected forest settings from YAML, got %+v", settings)
				}
				if settings.Scaling != "minmax" || len(settings.LogColumns) != 2 {
					t.Errorf("expected transform settings from YAML, got %s/%v", settings.Scaling, settings.LogColumns)
				}
				if settings.KeepRuns != 3 || settings.Experiment != "churn_q3" {
					t.Errorf("expected artifact/tracking settings from YAML, got %d/%s", settings.KeepRuns, settings.Experiment)
				}
				if settings.ServerPort != 9000 || settings.ReadTimeout != 15*time.Second || settings.RequestTimeout != 3*time.Second {
					t.Errorf("expected server settings from YAML, got %+v", settings)
				}
				if settings.LogLevel != "warn" {
					t.Errorf("expected LogLevel warn, got %s", settings.LogLevel)
				}
			},
		},
		{
			name: "environment overrides YAML",
			yamlContent: `
training:
  nEstimators: 50
server:
  port: 9000
`,
			envOverrides: map[string]string{
				"N_ESTIMATORS": "10",
				"SERVER_PORT":  "9100",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.NEstimators != 10 {
					t.Errorf("expected env NEstimators 10, got %d", settings.NEstimators)
				}
				if settings.ServerPort != 9100 {
					t.Errorf("expected env ServerPort 9100, got %d", settings.ServerPort)
				}
				if settings.DataPath != "data/churn.csv" {
					t.Errorf("expected default DataPath, got %s", settings.DataPath)
				}
			},
		},
		{
			name:        "invalid YAML",
			yamlContent: "training: [unclosed",
			wantErr:     true,
		},
		{
			name: "invalid duration",
			yamlContent: `
server:
  readTimeout: "soon"
`,
			wantErr: true,
		},
		{
			name: "invalid value",
			yamlContent: `
training:
  testFraction: 2
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yamlContent), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			settings, err := loadFromYAML(path)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML_MissingFile(t *testing.T) {
	_, err := loadFromYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_UsesConfigFileAndDotEnv(t *testing.T) {
	clearTestEnv(t)

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if err := os.WriteFile("config.yaml", []byte("server:\n  port: 9200\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(".env", []byte("CONFIG_FILE=config.yaml\nEXPERIMENT=from_dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overwrites variables that are already set; register them so the
	// test environment is restored afterwards.
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("EXPERIMENT", "")
	os.Unsetenv("CONFIG_FILE")
	os.Unsetenv("EXPERIMENT")

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.ServerPort != 9200 {
		t.Errorf("expected port from YAML named in .env, got %d", settings.ServerPort)
	}
	if settings.Experiment != "from_dotenv" {
		t.Errorf("expected experiment from .env, got %s", settings.Experiment)
	}
}

func TestLoad_WithoutDotEnv(t *testing.T) {
	clearTestEnv(t)

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if _, err := Load(); err != nil {
		t.Errorf("missing .env must be ignored, got %v", err)
	}
}

func clearTestEnv(t *testing.T) {
	envVars := []string{
		"CONFIG_FILE", "DATA_PATH", "LABEL_COLUMN", "DROP_COLUMNS", "TEST_FRACTION",
		"SPLIT_SEED", "N_ESTIMATORS", "MAX_DEPTH", "MIN_SAMPLES_LEAF",
		"SCALING", "LOG_COLUMNS", "ARTIFACTS_DIR", "KEEP_RUNS", "TRACKING_DIR",
		"EXPERIMENT", "SERVER_PORT", "READ_TIMEOUT", "WRITE_TIMEOUT", "REQUEST_TIMEOUT",
		"LOG_LEVEL", "LOG_FILE",
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}
