// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	DBPath      string   `env:"DB_PATH" envDefault:"./data/club-activity.db"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`

	RecalcConcurrency int           `env:"RECALC_CONCURRENCY" envDefault:"4"`
	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"false"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`

	// ScoringConfigPath points to a JSON file with weights, targets and
	// tiers. Empty means the built-in defaults.
	ScoringConfigPath string `env:"SCORING_CONFIG_PATH"`

	// WalletURL switches distribution to a remote wallet service. Empty
	// means rewards are credited to the local ledger.
	WalletURL     string        `env:"WALLET_URL"`
	WalletTimeout time.Duration `env:"WALLET_TIMEOUT" envDefault:"10s"`

	// KafkaBrokers enables approval events. Empty disables publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"club-activity.reward-approved"`
}

// Load reads an optional .env file, then parses the environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.RecalcConcurrency < 1 {
		return fmt.Errorf("RECALC_CONCURRENCY must be at least 1, got %d", c.RecalcConcurrency)
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.SchedulerInterval)
	}
	return nil
}
