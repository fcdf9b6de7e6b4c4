package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Paths           PathsConfig
	StableDiffusion StableDiffusionConfig
	Sweep           SweepConfig
	Index           IndexConfig
	Redis           RedisConfig
	S3              S3Config
	Discord         DiscordConfig
	MetricsTextfile string `env:"METRICS_TEXTFILE"`
}

type PathsConfig struct {
	OutputsDir string `env:"OUTPUTS_DIR" envDefault:"./outputs"`
	ConfigsDir string `env:"CONFIGS_DIR" envDefault:"./configs"`
	// ConfigFile is relative to ConfigsDir. Empty picks the first settings
	// document that exists.
	ConfigFile string `env:"CONFIG_FILE"`
	PromptFile string `env:"PROMPT_FILE" envDefault:"prompt.txt"`
}

type StableDiffusionConfig struct {
	Host             string        `env:"SD_HOST" envDefault:"http://127.0.0.1:7860"`
	Timeout          time.Duration `env:"SD_TIMEOUT" envDefault:"30m"`
	ProgressInterval time.Duration `env:"SD_PROGRESS_INTERVAL" envDefault:"5s"`
}

type SweepConfig struct {
	FailurePolicy string `env:"FAILURE_POLICY" envDefault:"continue"`
	SkipExisting  bool   `env:"SKIP_EXISTING"`
	// ContactSheet writes contact_sheet.png next to the run directory's
	// parameter folders.
	ContactSheet bool `env:"CONTACT_SHEET"`
	ScanWorkers  int  `env:"SCAN_WORKERS" envDefault:"8"`
	// LoRA is applied to configs with lora enabled.
	LoRAName     string  `env:"LORA_NAME" envDefault:"Flux-Super-Realism-LoRA"`
	LoRAStrength float64 `env:"LORA_STRENGTH" envDefault:"1"`
}

type IndexConfig struct {
	Enable bool `env:"INDEX_ENABLE" envDefault:"true"`
	// Path empty means a database file inside the outputs directory.
	Path string `env:"INDEX_PATH"`
}

type RedisConfig struct {
	// Addr empty means the run directory lock is a file in the outputs
	// directory.
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL" envDefault:"1m"`
}

type S3Config struct {
	Bucket          string `env:"S3_BUCKET"`
	Endpoint        string `env:"S3_ENDPOINT"`
	Region          string `env:"S3_REGION" envDefault:"auto"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	Prefix          string `env:"S3_PREFIX"`
}

type DiscordConfig struct {
	BotToken  string `env:"DISCORD_BOT_TOKEN"`
	ChannelID string `env:"DISCORD_CHANNEL_ID"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
