/*
Package config loads server configuration from an optional YAML file with
environment-variable overrides.

Resolution order, later wins:
 1. struct defaults (env-default tags)
 2. YAML file, when -config points at one
 3. environment variables
*/
package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full server configuration.
type Config struct {
	Port     int    `yaml:"port" env:"ESCROW_PORT" env-default:"8080"`
	DBPath   string `yaml:"db_path" env:"ESCROW_DB_PATH" env-default:"escrow.db"`
	LogLevel string `yaml:"log_level" env:"ESCROW_LOG_LEVEL" env-default:"info"`

	// ApprovalWindowHours bounds how long a client-approval gate waits
	// before flagging the milestone for manual follow-up.
	ApprovalWindowHours int `yaml:"approval_window_hours" env:"ESCROW_APPROVAL_WINDOW_HOURS" env-default:"168"`

	// MaxRejections is the rejection cap before a milestone auto-disputes.
	MaxRejections int `yaml:"max_rejections" env:"ESCROW_MAX_REJECTIONS" env-default:"3"`
}

// ApprovalWindow returns the approval window as a duration.
func (c Config) ApprovalWindow() time.Duration {
	return time.Duration(c.ApprovalWindowHours) * time.Hour
}

// Load reads configuration from the given YAML file (if path is non-empty)
// and the environment.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
