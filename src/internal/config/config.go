package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig    `mapstructure:"server" json:"server"`
	StorageDir string          `mapstructure:"storage_dir" json:"storage_dir"`
	Models     ModelsConfig    `mapstructure:"models" json:"models"`
	Agents     AgentsConfig    `mapstructure:"agents" json:"agents"`
	Tenants    []string        `mapstructure:"tenants" json:"tenants"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	Channels   ChannelsConfig  `mapstructure:"channels" json:"channels"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
	Key  string `mapstructure:"key" json:"key,omitempty"`
}

type ModelsConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers" json:"providers"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"baseUrl" json:"baseUrl"`
	APIKey  string `mapstructure:"apiKey" json:"apiKey,omitempty"`
}

type AgentsConfig struct {
	Default  string                 `mapstructure:"default" json:"default"`
	Profiles map[string]AgentConfig `mapstructure:"profiles" json:"profiles"`
}

// AgentConfig selects a provider/model pair and an optional system prompt for
// one agent id. Model uses the provider/model form, e.g. "openai/gpt-4o-mini".
type AgentConfig struct {
	Model        string `mapstructure:"model" json:"model"`
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt,omitempty"`
}

type SchedulerConfig struct {
	Workers      int           `mapstructure:"workers" json:"workers"`
	AgentTimeout time.Duration `mapstructure:"agent_timeout" json:"agent_timeout"`
	SendTimeout  time.Duration `mapstructure:"send_timeout" json:"send_timeout"`
	TickEnabled  bool          `mapstructure:"tick_enabled" json:"tick_enabled"`
	TickSpec     string        `mapstructure:"tick_spec" json:"tick_spec"`
}

type WhatsappConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

type ChannelsConfig struct {
	Whatsapp WhatsappConfig `mapstructure:"whatsapp" json:"whatsapp"`
}

func Load(override string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	appDir := filepath.Join(home, ".prometeo")
	if _, err := os.Stat(appDir); os.IsNotExist(err) {
		_ = os.MkdirAll(appDir, 0755)
	}

	// Environment overrides
	if envDir := os.Getenv("PROMETEO_STORAGE_DIR"); envDir != "" {
		appDir = envDir
		_ = os.MkdirAll(appDir, 0755)
	}

	if override != "" {
		viper.AddConfigPath(".")
		viper.SetConfigFile(override)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appDir)
	}

	viper.SetDefault("server.addr", "127.0.0.1:8743")
	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.agent_timeout", 2*time.Minute)
	viper.SetDefault("scheduler.send_timeout", 30*time.Second)
	viper.SetDefault("scheduler.tick_enabled", true)
	viper.SetDefault("scheduler.tick_spec", "* * * * *")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.StorageDir == "" {
		cfg.StorageDir = appDir
	}
	if strings.HasPrefix(cfg.StorageDir, "~/") {
		cfg.StorageDir = filepath.Join(home, cfg.StorageDir[2:])
	}

	// Override API keys from inline placeholders ($VAR) or default environment variables
	for p, prov := range cfg.Models.Providers {
		apiKey := prov.APIKey
		if strings.HasPrefix(apiKey, "$") {
			varName := strings.TrimPrefix(apiKey, "$")
			if envVal := os.Getenv(varName); envVal != "" {
				apiKey = envVal
			} else {
				apiKey = ""
			}
		} else if apiKey == "" {
			varName := strings.ToUpper(p) + "_API_KEY"
			if envVal := os.Getenv(varName); envVal != "" {
				apiKey = envVal
			}
		}
		prov.APIKey = apiKey
		cfg.Models.Providers[p] = prov
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Tenants) == 0 {
		return fmt.Errorf("config: at least one tenant must be configured")
	}
	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t == "" {
			return fmt.Errorf("config: empty tenant id")
		}
		if seen[t] {
			return fmt.Errorf("config: duplicate tenant id %q", t)
		}
		seen[t] = true
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 4
	}
	return nil
}
