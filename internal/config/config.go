// Package config loads runtime configuration from file, environment, and
// defaults, in that precedence order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Agent  AgentConfig  `mapstructure:"agent" yaml:"agent"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// AgentConfig configures the default agent.
type AgentConfig struct {
	ID               string         `mapstructure:"id" yaml:"id"`
	SystemPrompt     string         `mapstructure:"system_prompt" yaml:"system_prompt"`
	ParserMode       string         `mapstructure:"parser_mode" yaml:"parser_mode"`
	ExtraTags        []string       `mapstructure:"extra_tags" yaml:"extra_tags"`
	AutoExecuteTools bool           `mapstructure:"auto_execute_tools" yaml:"auto_execute_tools"`
	MaxTurns         int            `mapstructure:"max_turns" yaml:"max_turns"`
	Workspace        string         `mapstructure:"workspace" yaml:"workspace"`
	PollInterval     time.Duration  `mapstructure:"poll_interval" yaml:"poll_interval"`
	QueueCapacities  map[string]int `mapstructure:"queue_capacities" yaml:"queue_capacities"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr         string   `mapstructure:"addr" yaml:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// setDefaults registers every key so environment overrides bind even when
// the config file omits them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.id", "iris")
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.parser_mode", "xml")
	v.SetDefault("agent.extra_tags", []string{})
	v.SetDefault("agent.auto_execute_tools", false)
	v.SetDefault("agent.max_turns", 24)
	v.SetDefault("agent.workspace", ".")
	v.SetDefault("agent.poll_interval", time.Duration(0))
	v.SetDefault("agent.queue_capacities", map[string]int{})
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from path (optional) and IRIS_* environment
// variables over the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("iris")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/iris")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Agent.ParserMode {
	case "xml", "json", "sentinel", "api_tool_call":
	default:
		return fmt.Errorf("unknown parser mode %q", c.Agent.ParserMode)
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must be non-negative")
	}
	return nil
}
