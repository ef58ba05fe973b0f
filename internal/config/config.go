// Package config loads vaultweaver's layered configuration: defaults, then
// config file(s), then user config, then environment variables, then CLI
// flags take highest precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// Config is the fully resolved, validated configuration for one vaultweaver
// process.
type Config struct {
	Vault struct {
		Path    string   `mapstructure:"path"`
		Watcher struct {
			DebounceMs int      `mapstructure:"debounceMs"`
			Ignore     []string `mapstructure:"ignore"`
		} `mapstructure:"watcher"`
	} `mapstructure:"vault"`

	ShadowCache struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"shadowCache"`

	Memory struct {
		Path              string `mapstructure:"path"`
		SweepIntervalSecs int    `mapstructure:"sweepIntervalSecs"`
	} `mapstructure:"memory"`

	LLM struct {
		Provider            string `mapstructure:"provider"`
		APIKey              string `mapstructure:"apiKey"`
		DefaultModel        string `mapstructure:"defaultModel"`
		RateLimitPerMinute  int    `mapstructure:"rateLimitPerMinute"`
		MaxRetries          int    `mapstructure:"maxRetries"`
		CircuitThreshold    int    `mapstructure:"circuitThreshold"`
		CircuitCooldownSecs int    `mapstructure:"circuitCooldownSecs"`
	} `mapstructure:"llm"`

	Rules struct {
		Parallelism int                    `mapstructure:"parallelism"`
		TimeoutSecs int                    `mapstructure:"timeoutSecs"`
		Rules       map[string]RuleOptions `mapstructure:",remain"`
	} `mapstructure:"rules"`

	Workflows struct {
		Enabled        bool   `mapstructure:"enabled"`
		Root           string `mapstructure:"root"`
		DBPath         string `mapstructure:"dbPath"`
		MaxConcurrency int    `mapstructure:"maxConcurrency"`
		TimeoutMs      int    `mapstructure:"timeoutMs"`
		HTTPAddr       string `mapstructure:"httpAddr"`
	} `mapstructure:"workflows"`

	Logging struct {
		Level      string `mapstructure:"level"`
		Dir        string `mapstructure:"dir"`
		RetainDays int    `mapstructure:"retainDays"`
		JSON       bool   `mapstructure:"json"`
	} `mapstructure:"logging"`
}

// RuleOptions is the per-rule config block addressed as rules.<id>.*.
type RuleOptions struct {
	Enabled             bool    `mapstructure:"enabled"`
	MinContentLength    int     `mapstructure:"minContentLength"`
	ConfidenceThreshold float64 `mapstructure:"confidenceThreshold"`
	MaxTags             int     `mapstructure:"maxTags"`
	MaxLinks            int     `mapstructure:"maxLinks"`
	MatchThreshold      float64 `mapstructure:"matchThreshold"`
}

// Load resolves configuration with precedence defaults -> config file(s) ->
// user config -> environment -> CLI flags. cfgFile may be empty, in which
// case viper searches ~/.vaultweaver and the current directory.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("vaultweaver")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".vaultweaver"))
	}
	v.AddConfigPath(".")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
			return nil, vwerr.New("config.Load", vwerr.ConfigInvalid, err)
		}
	}

	// A second, optional user-level override file layered on top of the
	// project config, read manually since viper only merges one primary file.
	if home, err := os.UserHomeDir(); err == nil {
		userCfg := filepath.Join(home, ".vaultweaver", "user.yaml")
		if _, statErr := os.Stat(userCfg); statErr == nil {
			v.SetConfigFile(userCfg)
			if mergeErr := v.MergeInConfig(); mergeErr != nil {
				_ = mergeErr // best-effort merge; primary config already loaded
			}
		}
	}

	v.SetEnvPrefix("VAULTWEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, vwerr.New("config.Load", vwerr.ConfigInvalid, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, vwerr.New("config.Load", vwerr.ConfigInvalid, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, vwerr.New("config.Load", vwerr.ConfigInvalid, err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vault.watcher.debounceMs", 1000)
	v.SetDefault("vault.watcher.ignore", []string{".git/", ".obsidian/", ".weaver/", "node_modules/"})
	v.SetDefault("shadowCache.path", ".weaver/cache.sqlite")
	v.SetDefault("memory.path", ".weaver/memory.bolt")
	v.SetDefault("memory.sweepIntervalSecs", 60)
	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.rateLimitPerMinute", 50)
	v.SetDefault("llm.maxRetries", 5)
	v.SetDefault("llm.circuitThreshold", 5)
	v.SetDefault("llm.circuitCooldownSecs", 30)
	v.SetDefault("rules.parallelism", 5)
	v.SetDefault("rules.timeoutSecs", 30)
	v.SetDefault("workflows.enabled", true)
	v.SetDefault("workflows.root", "workflows")
	v.SetDefault("workflows.dbPath", ".weaver/workflows.bolt")
	v.SetDefault("workflows.maxConcurrency", 10)
	v.SetDefault("workflows.timeoutMs", 300000)
	v.SetDefault("workflows.httpAddr", "127.0.0.1:8787")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", ".weaver/logs")
	v.SetDefault("logging.retainDays", 14)
	v.SetDefault("logging.json", false)
}

func validate(cfg *Config) error {
	if cfg.Vault.Path == "" {
		return fmt.Errorf("vault.path is required")
	}
	if !filepath.IsAbs(cfg.Vault.Path) {
		return fmt.Errorf("vault.path must be absolute, got %q", cfg.Vault.Path)
	}
	if cfg.Vault.Watcher.DebounceMs <= 0 {
		return fmt.Errorf("vault.watcher.debounceMs must be positive")
	}
	if cfg.Rules.Parallelism <= 0 {
		return fmt.Errorf("rules.parallelism must be positive")
	}
	return nil
}

// RuleTimeout returns the configured per-rule action timeout as a duration.
func (c *Config) RuleTimeout() time.Duration {
	return time.Duration(c.Rules.TimeoutSecs) * time.Second
}

// DebounceWindow returns the watcher's coalescing window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Vault.Watcher.DebounceMs) * time.Millisecond
}

// MemorySweepInterval returns the TTL sweep interval as a duration.
func (c *Config) MemorySweepInterval() time.Duration {
	return time.Duration(c.Memory.SweepIntervalSecs) * time.Second
}

// Masked returns a copy of the config with sensitive fields redacted, for
// display via `vaultweaver config show`.
func (c *Config) Masked() Config {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "********"
	}
	return masked
}
