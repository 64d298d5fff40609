package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/mononoSaya/auto-novel/internal/apperr"
	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/internal/llm"
	"github.com/mononoSaya/auto-novel/internal/model"
	"github.com/mononoSaya/auto-novel/internal/provider"
	"github.com/mononoSaya/auto-novel/internal/translator"
)

// Config is the complete process configuration.
type Config struct {
	Log       LogConfig              `mapstructure:"log"`
	HTTP      HTTPConfig             `mapstructure:"http"`
	Cache     CacheConfig            `mapstructure:"cache"`
	Jobs      JobsConfig             `mapstructure:"jobs"`
	Translate TranslateConfig        `mapstructure:"translate"`
	LLM       llm.Config             `mapstructure:"llm"`
	Baidu     translator.BaiduConfig `mapstructure:"baidu"`
	Providers []provider.Config      `mapstructure:"providers"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type HTTPConfig struct {
	Addr    string `mapstructure:"addr"`
	Metrics bool   `mapstructure:"metrics"`
}

type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	BooksDir string `mapstructure:"books_dir"`
	// MetadataMaxAge bounds how old cached provider metadata may be before
	// it is refetched. Zero disables the limit.
	MetadataMaxAge time.Duration `mapstructure:"metadata_max_age"`
	ListMaxAge     time.Duration `mapstructure:"list_max_age"`
	ListPageSize   int           `mapstructure:"list_page_size"`
	ListSnapshot   time.Duration `mapstructure:"list_snapshot_ttl"`
}

type JobsConfig struct {
	jobs.Config `mapstructure:",squash"`

	// DBPath selects the SQLite ledger. Empty keeps the ledger in memory.
	DBPath    string `mapstructure:"db_path"`
	SweepCron string `mapstructure:"sweep_cron"`
}

type TranslateConfig struct {
	Engine          string        `mapstructure:"engine"`
	TargetLanguages []string      `mapstructure:"target_languages"`
	BatchChars      int           `mapstructure:"batch_chars"`
	Concurrency     int           `mapstructure:"concurrency"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.compress", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics", true)

	v.SetDefault("cache.dir", "./data/cache")
	v.SetDefault("cache.books_dir", "./data/books")
	v.SetDefault("cache.metadata_max_age", time.Hour)
	v.SetDefault("cache.list_max_age", 65536*time.Second)
	v.SetDefault("cache.list_page_size", 10)
	v.SetDefault("cache.list_snapshot_ttl", 30*time.Second)

	v.SetDefault("jobs.db_path", "./data/ledger.db")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.max_in_flight", jobs.DefaultMaxInFlight)
	v.SetDefault("jobs.job_timeout", jobs.DefaultJobTimeout)
	v.SetDefault("jobs.lease_grace", jobs.DefaultLeaseGrace)
	v.SetDefault("jobs.failure_retention", 24*time.Hour)
	v.SetDefault("jobs.poll_interval", jobs.DefaultPollInterval)
	v.SetDefault("jobs.sweep_cron", "*/15 * * * *")

	v.SetDefault("translate.engine", "gpt")
	v.SetDefault("translate.target_languages", []string{"zh"})
	v.SetDefault("translate.batch_chars", translator.DefaultBatchChars)
	v.SetDefault("translate.concurrency", 4)
	v.SetDefault("translate.fetch_timeout", 30*time.Second)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "openai/gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 8000)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.site_url", "")
	v.SetDefault("llm.app_name", "auto-novel")

	v.SetDefault("baidu.app_id", "")
	v.SetDefault("baidu.app_key", "")
	v.SetDefault("baidu.endpoint", translator.DefaultBaiduEndpoint)
	v.SetDefault("baidu.timeout", 30*time.Second)
}

// Load reads defaults, then the optional config file at path, then the
// environment. Key "a.b" is read from env "A_B".
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrConfig, "read config file").WithContext("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfig, "decode config")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func (c *Config) normalize() {
	c.Translate.Engine = strings.ToLower(strings.TrimSpace(c.Translate.Engine))
	langs := c.Translate.TargetLanguages[:0]
	for _, l := range c.Translate.TargetLanguages {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	c.Translate.TargetLanguages = langs
}

// Validate checks the values the process cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return configError("cache.dir is required")
	}
	if strings.TrimSpace(c.Cache.BooksDir) == "" {
		return configError("cache.books_dir is required")
	}
	if c.Cache.MetadataMaxAge < 0 || c.Cache.ListMaxAge < 0 {
		return configError("cache max ages must not be negative")
	}
	if c.Cache.ListPageSize < 1 {
		return configError("cache.list_page_size must be greater than 0")
	}

	if c.Jobs.Workers < 1 {
		return configError("jobs.workers must be greater than 0")
	}
	if c.Jobs.MaxInFlight < 1 {
		return configError("jobs.max_in_flight must be greater than 0")
	}
	if c.Jobs.JobTimeout <= 0 {
		return configError("jobs.job_timeout must be greater than 0")
	}
	if c.Jobs.LeaseGrace < 0 {
		return configError("jobs.lease_grace must not be negative")
	}
	if c.Jobs.SweepCron != "" {
		if _, err := cron.ParseStandard(c.Jobs.SweepCron); err != nil {
			return apperr.Wrap(err, apperr.ErrConfig, "invalid jobs.sweep_cron").WithContext("expr", c.Jobs.SweepCron)
		}
	}

	if c.Translate.BatchChars < 1 {
		return configError("translate.batch_chars must be greater than 0")
	}
	if c.Translate.Concurrency < 1 {
		return configError("translate.concurrency must be greater than 0")
	}
	if len(c.Translate.TargetLanguages) == 0 {
		return configError("translate.target_languages must not be empty")
	}
	for _, l := range c.Translate.TargetLanguages {
		if _, err := model.ParseLang(l); err != nil {
			return apperr.Wrap(err, apperr.ErrConfig, "invalid translate.target_languages")
		}
	}
	switch c.Translate.Engine {
	case "gpt":
		if err := c.LLM.Validate(); err != nil {
			return apperr.Wrap(err, apperr.ErrConfig, "invalid llm config")
		}
	case "baidu":
		if c.Baidu.AppID == "" || c.Baidu.AppKey == "" {
			return configError("baidu.app_id and baidu.app_key are required")
		}
	case "identity":
	default:
		return apperr.Newf(apperr.ErrConfig, "unknown translate.engine %q", c.Translate.Engine)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" || strings.ContainsAny(p.ID, `./\`) {
			return apperr.Newf(apperr.ErrConfig, "providers[%d]: invalid id %q", i, p.ID)
		}
		if seen[p.ID] {
			return apperr.Newf(apperr.ErrConfig, "providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if _, err := model.ParseLang(p.Lang); err != nil {
			return apperr.Wrap(err, apperr.ErrConfig, fmt.Sprintf("providers[%d]: invalid lang", i))
		}
		if p.BaseURL == "" {
			return apperr.Newf(apperr.ErrConfig, "providers[%d]: base_url is required", i)
		}
	}
	return nil
}

func configError(msg string) error {
	return apperr.New(apperr.ErrConfig, msg)
}
