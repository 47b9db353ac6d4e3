package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trivia-session-service/internal/domain"
)

type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		Color *bool  `yaml:"color"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL        string `yaml:"ttl"`
		Count      int    `yaml:"count"`
		BankFile   string `yaml:"bank_file"`
		Difficulty string `yaml:"difficulty"`
		Category   string `yaml:"category"`
	} `yaml:"questions"`
	Session struct {
		MaxPlayers        int     `yaml:"max_players"`
		MinPlayers        int     `yaml:"min_players"`
		QuestionTimeLimit string  `yaml:"question_time_limit"`
		BasePoints        int     `yaml:"base_points"`
		BonusFactor       float64 `yaml:"bonus_factor"`
		FinishedTTL       string  `yaml:"finished_ttl"`
		ReapInterval      string  `yaml:"reap_interval"`
	} `yaml:"session"`
}

// Load reads YAML config from path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values no session could run with. Zero values mean "use the default".
func (c Config) Validate() error {
	s := c.Settings()
	if s.MinPlayers < 1 {
		return fmt.Errorf("session.min_players must be at least 1")
	}
	if s.MaxPlayers < s.MinPlayers {
		return fmt.Errorf("session.max_players (%d) is below session.min_players (%d)", s.MaxPlayers, s.MinPlayers)
	}
	if s.BasePoints < 0 || s.BonusFactor < 0 {
		return fmt.Errorf("session.base_points and session.bonus_factor must not be negative")
	}
	if c.Questions.Count < 0 {
		return fmt.Errorf("questions.count must not be negative")
	}
	for name, raw := range map[string]string{
		"redis.ttl":                   c.Redis.TTL,
		"questions.ttl":               c.Questions.TTL,
		"session.question_time_limit": c.Session.QuestionTimeLimit,
		"session.finished_ttl":        c.Session.FinishedTTL,
		"session.reap_interval":       c.Session.ReapInterval,
	} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, raw)
		}
	}
	return nil
}

// Settings returns the session rules with defaults filled in.
func (c Config) Settings() domain.Settings {
	s := domain.DefaultSettings()
	if c.Session.MaxPlayers != 0 {
		s.MaxPlayers = c.Session.MaxPlayers
	}
	if c.Session.MinPlayers != 0 {
		s.MinPlayers = c.Session.MinPlayers
	}
	s.QuestionTimeLimit = TTLDuration(c.Session.QuestionTimeLimit, s.QuestionTimeLimit)
	if c.Session.BasePoints != 0 {
		s.BasePoints = c.Session.BasePoints
	}
	if c.Session.BonusFactor != 0 {
		s.BonusFactor = c.Session.BonusFactor
	}
	return s
}

// QuestionCount is the default sequence length of a new session.
func (c Config) QuestionCount() int {
	if c.Questions.Count > 0 {
		return c.Questions.Count
	}
	return 10
}

// Colorize reports whether log output should be colored; on unless disabled.
func (c Config) Colorize() bool {
	return c.Log.Color == nil || *c.Log.Color
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
