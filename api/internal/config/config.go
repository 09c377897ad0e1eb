package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mistakepatch/api/internal/logger"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Grading  GradingConfig  `mapstructure:"grading"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Yandex   YandexConfig   `mapstructure:"yandex"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      logger.Config  `mapstructure:"log"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"` // empty = in-memory store
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	QueueKey string `mapstructure:"queue_key"`
}

type GradingConfig struct {
	ConsensusRuns         int     `mapstructure:"consensus_runs"`
	ConsensusMinAgreement float64 `mapstructure:"consensus_min_agreement"`
	UncertaintyThreshold  float64 `mapstructure:"uncertainty_threshold"`
	FallbackPath          string  `mapstructure:"fallback_path"`
	EnableOCRHints        bool    `mapstructure:"enable_ocr_hints"`
	Provider              string  `mapstructure:"provider"` // openai | gemini | none
	Workers               int     `mapstructure:"workers"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
}

type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type YandexConfig struct {
	OAuthToken string `mapstructure:"oauth_token"`
	FolderID   string `mapstructure:"folder_id"`
}

type TelegramConfig struct {
	Token      string `mapstructure:"token"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type StorageConfig struct {
	UploadDir   string `mapstructure:"upload_dir"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

func (s StorageConfig) MaxUploadBytes() int64 { return int64(s.MaxUploadMB) << 20 }

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8000")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.queue_key", "mistakepatch:jobs")
	v.SetDefault("grading.consensus_runs", 3)
	v.SetDefault("grading.consensus_min_agreement", 0.5)
	v.SetDefault("grading.uncertainty_threshold", 0.5)
	v.SetDefault("grading.fallback_path", "data/fallback_sample_result.json")
	v.SetDefault("grading.enable_ocr_hints", true)
	v.SetDefault("grading.provider", "openai")
	v.SetDefault("grading.workers", 2)
	v.SetDefault("grading.requests_per_second", 2.0)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 25*time.Second)
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("yandex.oauth_token", "")
	v.SetDefault("yandex.folder_id", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("storage.upload_dir", "data/uploads")
	v.SetDefault("storage.max_upload_mb", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load reads the optional file at path, then MISTAKEPATCH_* env vars
// (MISTAKEPATCH_GRADING_CONSENSUS_RUNS and so on), then the bare process
// variables PORT, DATABASE_URL, REDIS_URL, OPENAI_API_KEY, GEMINI_API_KEY and TELEGRAM_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MISTAKEPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.HTTP.Port = getEnv("PORT", cfg.HTTP.Port)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.Gemini.APIKey = getEnv("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Telegram.Token = getEnv("TELEGRAM_TOKEN", cfg.Telegram.Token)

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func (c *Config) clamp() {
	g := &c.Grading
	g.ConsensusRuns = max(g.ConsensusRuns, 1)
	g.ConsensusMinAgreement = clamp01(g.ConsensusMinAgreement)
	g.UncertaintyThreshold = clamp01(g.UncertaintyThreshold)
	g.Workers = max(g.Workers, 1)
	g.Provider = strings.ToLower(strings.TrimSpace(g.Provider))
	if c.Storage.MaxUploadMB <= 0 {
		c.Storage.MaxUploadMB = 10
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.enabled requires redis.url"))
	}
	switch c.Grading.Provider {
	case "openai", "gemini", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown grading.provider %q", c.Grading.Provider))
	}
	if c.Grading.FallbackPath == "" {
		errs = append(errs, errors.New("grading.fallback_path is empty"))
	}
	if c.Yandex.OAuthToken != "" && c.Yandex.FolderID == "" {
		errs = append(errs, errors.New("yandex.oauth_token requires yandex.folder_id"))
	}
	return errors.Join(errs...)
}
