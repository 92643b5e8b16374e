package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Vault   VaultConfig   `toml:"vault"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

type VaultConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	// Workers bounds the extraction/restore worker pool.
	Workers int `toml:"workers"`
	// RetryBudget is the maximum number of attempts per issue.
	RetryBudget int `toml:"retry_budget"`
	// BackoffInitialMS is the first retry delay in milliseconds.
	BackoffInitialMS int `toml:"backoff_initial_ms"`
	// BackoffMaxMS caps a single retry delay in milliseconds.
	BackoffMaxMS int `toml:"backoff_max_ms"`
	// RequestTimeout is the per-call timeout in seconds.
	RequestTimeout int `toml:"request_timeout_seconds"`
	// PageSize is the issue listing page size.
	PageSize int `toml:"page_size"`
}

type StorageConfig struct {
	// IdentityDir holds one identity-map database per target instance.
	IdentityDir string `toml:"identity_dir"`
	// SnapshotDir receives identity-map snapshots, empty disables them.
	SnapshotDir string `toml:"snapshot_dir"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
}

func DefaultConfig() *Config {
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	execName := filepath.Base(execPath)
	execName = execName[:len(execName)-len(filepath.Ext(execName))]

	return &Config{
		Vault: VaultConfig{
			Name:             execName,
			Environment:      "development",
			Workers:          4,
			RetryBudget:      4,
			BackoffInitialMS: 500,
			BackoffMaxMS:     15000,
			RequestTimeout:   30,
			PageSize:         50,
		},
		Storage: StorageConfig{
			IdentityDir: filepath.Join(execDir, "data"),
			SnapshotDir: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			MaxSize:    100,
			MaxBackups: 3,
		},
	}
}

func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile == "" {
		// Auto-detect config file
		execPath, _ := os.Executable()
		execDir := filepath.Dir(execPath)
		execName := filepath.Base(execPath)
		execName = execName[:len(execName)-len(filepath.Ext(execName))]

		possiblePaths := []string{
			filepath.Join(execDir, execName+".toml"),
			filepath.Join(execDir, "config.toml"),
			"config.toml",
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}

		if configFile == "" {
			applyEnvOverrides(config)
			return config, nil
		}
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if identityDir := os.Getenv("YTVAULT_IDENTITY_DIR"); identityDir != "" {
		config.Storage.IdentityDir = identityDir
	}
	if snapshotDir := os.Getenv("YTVAULT_SNAPSHOT_DIR"); snapshotDir != "" {
		config.Storage.SnapshotDir = snapshotDir
	}

	if workers := os.Getenv("YTVAULT_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			config.Vault.Workers = n
		}
	}
	if budget := os.Getenv("YTVAULT_RETRY_BUDGET"); budget != "" {
		if n, err := strconv.Atoi(budget); err == nil {
			config.Vault.RetryBudget = n
		}
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}
	if logOutput := os.Getenv("LOG_OUTPUT"); logOutput != "" {
		config.Logging.Output = logOutput
	}
}

func (c *Config) Validate() error {
	if c.Vault.Workers <= 0 {
		c.Vault.Workers = 4
	}
	if c.Vault.RetryBudget <= 0 {
		c.Vault.RetryBudget = 4
	}
	if c.Vault.PageSize <= 0 {
		c.Vault.PageSize = 50
	}
	if c.Vault.RequestTimeout <= 0 {
		c.Vault.RequestTimeout = 30
	}

	if c.Storage.IdentityDir == "" {
		return fmt.Errorf("storage identity_dir is required")
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	validLevel := false
	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validOutputs := []string{"console", "file", "both"}
	validOutput := false
	for _, output := range validOutputs {
		if c.Logging.Output == output {
			validOutput = true
			break
		}
	}
	if !validOutput {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Vault.Environment == "production"
}
