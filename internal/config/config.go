package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `json:"database"  envPrefix:"SQLSCOUT_"`
	Generator GeneratorConfig `json:"generator" envPrefix:"SQLSCOUT_"`
	Embedding EmbeddingConfig `json:"embedding" envPrefix:"SQLSCOUT_"`
	Retrieval RetrievalConfig `json:"retrieval" envPrefix:"SQLSCOUT_"`
	Engine    EngineConfig    `json:"engine"    envPrefix:"SQLSCOUT_"`
	Logging   LoggingConfig   `json:"logging"   envPrefix:"SQLSCOUT_"`
}

// DatabaseConfig covers both the target database the engine queries and
// the local DuckDB file holding the exemplar store.
type DatabaseConfig struct {
	Driver          string `json:"driver"            env:"DB_DRIVER"            envDefault:"duckdb"`
	DSN             string `json:"dsn"               env:"DB_DSN"               envDefault:"~/.config/sqlscout/warehouse.db"`
	StorePath       string `json:"store_path"        env:"STORE_PATH"           envDefault:"~/.config/sqlscout/store.db"`
	SchemaPath      string `json:"schema_path"       env:"SCHEMA_PATH"          envDefault:"~/.config/sqlscout/schema.json"`
	MaxConnections  int    `json:"max_connections"   env:"DB_MAX_CONNECTIONS"   envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"    env:"DB_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	QueryTimeout    string `json:"query_timeout"     env:"DB_QUERY_TIMEOUT"     envDefault:"30s"`
}

// GeneratorConfig configures the generation backend.
type GeneratorConfig struct {
	Provider    string  `json:"provider"     env:"GEN_PROVIDER"     envDefault:"ollama"` // openai, anthropic, ollama
	Model       string  `json:"model"        env:"GEN_MODEL"        envDefault:"llama3"`
	APIKey      string  `json:"-"            env:"GEN_API_KEY"`
	BaseURL     string  `json:"base_url"     env:"GEN_BASE_URL"`
	Timeout     string  `json:"timeout"      env:"GEN_TIMEOUT"      envDefault:"8s"`
	MaxAttempts int     `json:"max_attempts" env:"GEN_MAX_ATTEMPTS" envDefault:"3"`
	Temperature float64 `json:"temperature"  env:"GEN_TEMPERATURE"  envDefault:"0.1"`
	MaxTokens   int     `json:"max_tokens"   env:"GEN_MAX_TOKENS"   envDefault:"1000"`
	MinScore    float64 `json:"min_score"    env:"GEN_MIN_SCORE"    envDefault:"0.3"` // decline below this confidence
}

// EmbeddingConfig configures the embedding provider used by the schema
// index and the exemplar store.
type EmbeddingConfig struct {
	Provider   string `json:"provider"   env:"EMBED_PROVIDER"   envDefault:"hash"` // ollama, hash
	Model      string `json:"model"      env:"EMBED_MODEL"      envDefault:"nomic-embed-text"`
	BaseURL    string `json:"base_url"   env:"EMBED_BASE_URL"   envDefault:"http://localhost:11434"`
	Dimensions int    `json:"dimensions" env:"EMBED_DIMENSIONS" envDefault:"256"`
	Timeout    string `json:"timeout"    env:"EMBED_TIMEOUT"    envDefault:"5s"`
}

// RetrievalConfig configures context assembly.
type RetrievalConfig struct {
	SchemaTopK    int `json:"schema_top_k"    env:"RETRIEVAL_SCHEMA_TOP_K"    envDefault:"40"`
	ExemplarTopK  int `json:"exemplar_top_k"  env:"RETRIEVAL_EXEMPLAR_TOP_K"  envDefault:"5"`
	ContextBudget int `json:"context_budget"  env:"RETRIEVAL_CONTEXT_BUDGET"  envDefault:"8000"` // characters
}

// EngineConfig configures request lifecycle limits.
type EngineConfig struct {
	MaxConcurrent    int    `json:"max_concurrent"     env:"ENGINE_MAX_CONCURRENT"     envDefault:"8"`
	DefaultRowLimit  int    `json:"default_row_limit"  env:"ENGINE_DEFAULT_ROW_LIMIT"  envDefault:"100"`
	MaxRowLimit      int    `json:"max_row_limit"      env:"ENGINE_MAX_ROW_LIMIT"      envDefault:"10000"`
	MaxQuestionChars int    `json:"max_question_chars" env:"ENGINE_MAX_QUESTION_CHARS" envDefault:"2000"`
	LargeTableRows   int64  `json:"large_table_rows"   env:"ENGINE_LARGE_TABLE_ROWS"   envDefault:"1000"`
	ExecuteRetries   int    `json:"execute_retries"    env:"ENGINE_EXECUTE_RETRIES"    envDefault:"2"`
	ExecuteBackoff   string `json:"execute_backoff"    env:"ENGINE_EXECUTE_BACKOFF"    envDefault:"200ms"`
	MetricsAddr      string `json:"metrics_addr"       env:"ENGINE_METRICS_ADDR"       envDefault:""`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`   // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`   // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"` // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/sqlscout/logs/sqlscout.log"`
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line
// flag overrides applied last.
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := &Config{}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Environment variables override the file and fill in defaults.
	if err := env.ParseWithOptions(config, env.Options{
		Prefix: "SQLSCOUT_",
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		applyFlagOverrides(config, flagOverrides)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) {
	for key, value := range overrides {
		switch key {
		case "db-dsn":
			if str, ok := value.(string); ok && str != "" {
				config.Database.DSN = str
			}
		case "store-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.StorePath = str
			}
		case "schema-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.SchemaPath = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "provider":
			if str, ok := value.(string); ok && str != "" {
				config.Generator.Provider = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.Generator.Model = str
			}
		}
	}
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	for name, value := range map[string]string{
		"database query timeout": config.Database.QueryTimeout,
		"generator timeout":      config.Generator.Timeout,
		"embedding timeout":      config.Embedding.Timeout,
		"execute backoff":        config.Engine.ExecuteBackoff,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.Generator.MaxAttempts <= 0 {
		return fmt.Errorf("generator max attempts must be positive: %d", config.Generator.MaxAttempts)
	}

	if config.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine max concurrent must be positive: %d", config.Engine.MaxConcurrent)
	}

	if config.Engine.DefaultRowLimit <= 0 || config.Engine.DefaultRowLimit > config.Engine.MaxRowLimit {
		return fmt.Errorf(
			"default row limit must be in (0, %d]: %d",
			config.Engine.MaxRowLimit, config.Engine.DefaultRowLimit,
		)
	}

	return nil
}

// QueryTimeoutDuration returns the parsed database query timeout.
func (c *Config) QueryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Database.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// GeneratorTimeoutDuration returns the parsed generation call timeout.
func (c *Config) GeneratorTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Generator.Timeout)
	if err != nil {
		return 8 * time.Second
	}

	return d
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv("SQLSCOUT_CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}

	return filepath.Join(homeDir, ".config", "sqlscout", "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.DSN = expandPath(c.Database.DSN)
	c.Database.StorePath = expandPath(c.Database.StorePath)
	c.Database.SchemaPath = expandPath(c.Database.SchemaPath)
	c.Logging.File = expandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.StorePath),
		filepath.Dir(c.Database.SchemaPath),
		filepath.Dir(c.Logging.File),
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
