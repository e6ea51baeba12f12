package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"GoalSentinel/internal/simulation"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// CronParser accepts the six-field (with seconds) expressions used throughout
// the schedule section.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken  string            `yaml:"bot_token"`
		ChatID    string            `yaml:"chat_id"`
		UserChats map[string]string `yaml:"user_chats"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Schedule struct {
		WeeklyCron string `yaml:"weekly_cron"`
		Timezone   string `yaml:"timezone"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Simulation struct {
		ScheduledIterations int    `yaml:"scheduled_iterations"`
		DefaultIterations   int    `yaml:"default_iterations"`
		MaxIterations       int    `yaml:"max_iterations"`
		Workers             int    `yaml:"workers"`
		Seed                uint64 `yaml:"seed"`
	} `yaml:"simulation"`
	Controller struct {
		Workers     int           `yaml:"workers"`
		GoalTimeout time.Duration `yaml:"goal_timeout"`
	} `yaml:"controller"`
	Guard struct {
		Cooldown time.Duration `yaml:"cooldown"`
		FailOpen *bool         `yaml:"fail_open"`
	} `yaml:"guard"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("CRON_WEEKLY"); v != "" {
		cfg.Schedule.WeeklyCron = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SIMULATION_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("SIMULATION_SEED: %w", err)
		}
		cfg.Simulation.Seed = seed
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Schedule.WeeklyCron == "" {
		c.Schedule.WeeklyCron = "0 0 0 * * 0"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/goal_sentinel.db"
	}
	if c.Simulation.ScheduledIterations == 0 {
		c.Simulation.ScheduledIterations = simulation.MaxIterations
	}
	if c.Simulation.DefaultIterations == 0 {
		c.Simulation.DefaultIterations = 1000
	}
	if c.Simulation.MaxIterations == 0 {
		c.Simulation.MaxIterations = simulation.MaxIterations
	}
	if c.Simulation.Workers == 0 {
		c.Simulation.Workers = 4
	}
	if c.Controller.Workers == 0 {
		c.Controller.Workers = 4
	}
	if c.Controller.GoalTimeout == 0 {
		c.Controller.GoalTimeout = 30 * time.Second
	}
	if c.Guard.Cooldown == 0 {
		c.Guard.Cooldown = 60 * time.Second
	}
	if c.Guard.FailOpen == nil {
		open := true
		c.Guard.FailOpen = &open
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Location resolves the schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// GuardFailOpen reports whether the cooldown check fails open.
func (c *Config) GuardFailOpen() bool {
	return c.Guard.FailOpen == nil || *c.Guard.FailOpen
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	if _, err := CronParser.Parse(c.Schedule.WeeklyCron); err != nil {
		return fmt.Errorf("schedule.weekly_cron: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Simulation.MaxIterations < 1 || c.Simulation.MaxIterations > simulation.MaxIterations {
		return fmt.Errorf("simulation.max_iterations must be between 1 and %d", simulation.MaxIterations)
	}
	if c.Simulation.ScheduledIterations < 1 || c.Simulation.ScheduledIterations > c.Simulation.MaxIterations {
		return fmt.Errorf("simulation.scheduled_iterations must be between 1 and %d", c.Simulation.MaxIterations)
	}
	if c.Simulation.DefaultIterations < 1 || c.Simulation.DefaultIterations > c.Simulation.MaxIterations {
		return fmt.Errorf("simulation.default_iterations must be between 1 and %d", c.Simulation.MaxIterations)
	}
	if c.Simulation.Workers < 1 {
		return fmt.Errorf("simulation.workers must be positive")
	}
	if c.Controller.Workers < 1 {
		return fmt.Errorf("controller.workers must be positive")
	}
	if c.Controller.GoalTimeout < 0 {
		return fmt.Errorf("controller.goal_timeout must not be negative")
	}
	if c.Guard.Cooldown < 0 {
		return fmt.Errorf("guard.cooldown must not be negative")
	}
	return nil
}
