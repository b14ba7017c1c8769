// Package config provides configuration for the chat service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt steers the model towards the SQL tool.
const DefaultSystemPrompt = `You are an assistant that answers questions about a relational business database.
Use the sql_query tool to fetch the data you need. Only SELECT statements are accepted.
When you do not know a table's columns, query information_schema.columns with a SELECT first.
Answer in the user's language, concisely, and never invent data that a query did not return.`

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`
	RPCPort  int `yaml:"rpc_port"`

	// Transcript database
	DatabaseURL string `yaml:"database_url"`

	QueryDB QueryDBConfig `yaml:"query_db"`
	LLM     LLMConfig     `yaml:"llm"`
	Chat    ChatConfig    `yaml:"chat"`

	// Session gate
	RedisURL         string `yaml:"redis_url"`
	SessionLockTTLMs int    `yaml:"session_lock_ttl_ms"`

	PolicyFile string `yaml:"policy_file"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// QueryDBConfig points the SQL tool at the business database.
type QueryDBConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	MaxRows int    `yaml:"max_rows"`
}

// LLMConfig configures the OpenAI-compatible provider.
type LLMConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	MaxRetries   int    `yaml:"max_retries"`
	SystemPrompt string `yaml:"system_prompt"`
}

// ChatConfig bounds a single chat turn.
type ChatConfig struct {
	MaxToolIterations int `yaml:"max_tool_iterations"`
	HistoryTurns      int `yaml:"history_turns"`
	HistoryWindow     int `yaml:"history_window"`
	ToolConcurrency   int `yaml:"tool_concurrency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:    8080,
		DatabaseURL: "file:dbchat.db?mode=rwc",
		QueryDB: QueryDBConfig{
			Driver:  "mysql",
			MaxRows: 200,
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			TimeoutMs:    15000,
			MaxRetries:   2,
			SystemPrompt: DefaultSystemPrompt,
		},
		Chat: ChatConfig{
			MaxToolIterations: 5,
			HistoryTurns:      20,
			HistoryWindow:     200,
			ToolConcurrency:   4,
		},
		SessionLockTTLMs: 120000,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment variables, in that order. ${VAR} references in the
// file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.RPCPort = getEnvInt("RPC_PORT", c.RPCPort)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.QueryDB.Driver = getEnv("QUERY_DB_DRIVER", c.QueryDB.Driver)
	c.QueryDB.DSN = getEnv("QUERY_DB_DSN", c.QueryDB.DSN)
	c.QueryDB.MaxRows = getEnvInt("QUERY_DB_MAX_ROWS", c.QueryDB.MaxRows)

	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.TimeoutMs = getEnvInt("LLM_TIMEOUT_MS", c.LLM.TimeoutMs)
	c.LLM.MaxRetries = getEnvInt("LLM_MAX_RETRIES", c.LLM.MaxRetries)
	c.LLM.SystemPrompt = getEnv("SYSTEM_PROMPT", c.LLM.SystemPrompt)

	c.Chat.MaxToolIterations = getEnvInt("MAX_TOOL_ITERATIONS", c.Chat.MaxToolIterations)
	c.Chat.HistoryTurns = getEnvInt("HISTORY_TURNS", c.Chat.HistoryTurns)
	c.Chat.HistoryWindow = getEnvInt("HISTORY_WINDOW", c.Chat.HistoryWindow)
	c.Chat.ToolConcurrency = getEnvInt("TOOL_CONCURRENCY", c.Chat.ToolConcurrency)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.SessionLockTTLMs = getEnvInt("SESSION_LOCK_TTL_MS", c.SessionLockTTLMs)
	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port %d out of range", c.HTTPPort))
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		errs = append(errs, fmt.Errorf("rpc_port %d out of range", c.RPCPort))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	switch c.QueryDB.Driver {
	case "mysql", "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("query_db.driver %q not supported (mysql, sqlite3, sqlite)", c.QueryDB.Driver))
	}
	if c.QueryDB.MaxRows <= 0 {
		errs = append(errs, errors.New("query_db.max_rows must be positive"))
	}
	if c.LLM.TimeoutMs <= 0 {
		errs = append(errs, errors.New("llm.timeout_ms must be positive"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.Chat.MaxToolIterations <= 0 {
		errs = append(errs, errors.New("chat.max_tool_iterations must be positive"))
	}
	if c.Chat.HistoryTurns <= 0 {
		errs = append(errs, errors.New("chat.history_turns must be positive"))
	}
	if c.Chat.HistoryWindow <= 0 {
		errs = append(errs, errors.New("chat.history_window must be positive"))
	}
	if c.Chat.ToolConcurrency <= 0 {
		errs = append(errs, errors.New("chat.tool_concurrency must be positive"))
	}
	if c.SessionLockTTLMs <= 0 {
		errs = append(errs, errors.New("session_lock_ttl_ms must be positive"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q not supported (text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

// LLMTimeout returns the per-call model deadline.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutMs) * time.Millisecond
}

// SessionLockTTL returns the expiry of distributed session locks.
func (c *Config) SessionLockTTL() time.Duration {
	return time.Duration(c.SessionLockTTLMs) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
