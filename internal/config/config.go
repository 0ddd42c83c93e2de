package config

import (
	"encoding/base64"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Settings are the raw values read from the environment. Command line flags
// take precedence over them.
type Settings struct {
	ServerAddr     string   `env:"CHAT_ADDR" envDefault:"localhost:8000"`
	DatabaseDSN    string   `env:"CHAT_DATABASE_DSN"`
	SigningKey     string   `env:"CHAT_SIGNING_KEY"`
	AllowedOrigins []string `env:"CHAT_ALLOWED_ORIGINS" envSeparator:","`
	RedisURL       string   `env:"CHAT_REDIS_URL"`
	LogLevel       string   `env:"CHAT_LOG_LEVEL" envDefault:"info"`
}

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	// RedisURL enables cross-process fan-out when set.
	RedisURL string
	LogLevel logrus.Level
}

// ParseEnv loads Settings from the process environment.
func ParseEnv() (Settings, error) {
	return parseEnv(env.Options{})
}

func parseEnv(opts env.Options) (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(s Settings) (*Config, error) {
	if s.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if s.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if s.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(s.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	level := logrus.InfoLevel
	if s.LogLevel != "" {
		if level, err = logrus.ParseLevel(s.LogLevel); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	return &Config{
		DatabaseDSN:    s.DatabaseDSN,
		ServerAddr:     s.ServerAddr,
		SigningKey:     signingKey,
		AllowedOrigins: s.AllowedOrigins,
		RedisURL:       s.RedisURL,
		LogLevel:       level,
	}, nil
}
