package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/security-mcp/forkstress/internal/stress"
)

// Config holds the application configuration
type Config struct {
	NumChunks     int    `mapstructure:"num_chunks"`
	ChunkSize     int    `mapstructure:"chunk_size"` // uint32 slots per chunk
	Iterations    int    `mapstructure:"iterations"`
	LogLevel      string `mapstructure:"log_level"`
	ReportEnabled bool   `mapstructure:"report_enabled"`
	ReportFile    string `mapstructure:"report_file"`
	CoreDumps     bool   `mapstructure:"core_dumps"` // allow aborted workers to dump core
}

// LoadConfig loads configuration from ~/.forkstress and environment variables
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(filepath.Join(getHomeDir(), ".forkstress"))
}

// LoadConfigFrom loads configuration, looking for config.yaml in configDir
func LoadConfigFrom(configDir string) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := stress.DefaultConfig()
	v.SetDefault("num_chunks", defaults.NumChunks)
	v.SetDefault("chunk_size", defaults.ChunkSize)
	v.SetDefault("iterations", defaults.Iterations)
	v.SetDefault("log_level", "warn")
	v.SetDefault("report_enabled", false)
	v.SetDefault("report_file", filepath.Join(getHomeDir(), ".forkstress", "runs.log"))
	v.SetDefault("core_dumps", false)

	// Set config file location
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	// A missing config file is fine, a broken one is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("FORKSTRESS")
	v.AutomaticEnv()

	_ = v.BindEnv("log_level", "FORKSTRESS_LOG_LEVEL")     // nolint:errcheck // errors are unlikely here
	_ = v.BindEnv("report_file", "FORKSTRESS_REPORT_FILE") // nolint:errcheck // errors are unlikely here

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ReportFile = expandPath(cfg.ReportFile)

	return &cfg, nil
}

// getHomeDir returns the user's home directory
func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home := getHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
