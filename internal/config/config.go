// Package config provides configuration for the dataquery service.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DATAQUERY_SERVER_PORT.
const EnvPrefix = "DATAQUERY"

// Config holds the service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Uploads UploadsConfig `mapstructure:"uploads"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Session SessionConfig `mapstructure:"session"`
	Exec    ExecConfig    `mapstructure:"exec"`
	Log     LogConfig     `mapstructure:"log"`

	// Workers bounds concurrent parsing, rendering and code execution.
	Workers int `mapstructure:"workers"`
	// DatabaseURL is the SQLite DSN of the conversation log.
	DatabaseURL string `mapstructure:"database_url"`
	// Mode "MOCK" replaces every LLM backend with the mock client.
	Mode string `mapstructure:"mode"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
	BodyLimit       string        `mapstructure:"body_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type UploadsConfig struct {
	Dir            string `mapstructure:"dir"`
	CleanupOnEvict bool   `mapstructure:"cleanup_on_evict"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	OllamaHost  string        `mapstructure:"ollama_host"`
}

type AgentConfig struct {
	MemorySize  int `mapstructure:"memory_size"`
	PreviewRows int `mapstructure:"preview_rows"`
	PromptRows  int `mapstructure:"prompt_rows"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type ExecConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	PythonPath string        `mapstructure:"python_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PolicyFile string        `mapstructure:"policy_file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origin", "http://localhost:4200")
	v.SetDefault("server.body_limit", "64M")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.cleanup_on_evict", false)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.ollama_host", "http://127.0.0.1:11434")

	v.SetDefault("agent.memory_size", 10)
	v.SetDefault("agent.preview_rows", 5)
	v.SetDefault("agent.prompt_rows", 5)

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.sweep_interval", time.Minute)

	v.SetDefault("exec.enabled", false)
	v.SetDefault("exec.python_path", "python3")
	v.SetDefault("exec.timeout", 60*time.Second)
	v.SetDefault("exec.policy_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("database_url", ":memory:")
	v.SetDefault("mode", "")
}

// Load loads configuration from defaults, an optional file and the environment.
// Precedence: env > config file > defaults. An explicit cfgFile must exist;
// otherwise ./dataquery.{yaml,toml,json} is read when present.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("dataquery")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Agent.PreviewRows < 0 {
		return fmt.Errorf("invalid agent.preview_rows %d", c.Agent.PreviewRows)
	}
	if c.Agent.MemorySize < 0 {
		return fmt.Errorf("invalid agent.memory_size %d", c.Agent.MemorySize)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q (use json or console)", c.Log.Format)
	}
	return nil
}
