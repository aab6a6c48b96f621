package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values like "24h" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	WS      WSConfig      `yaml:"ws"`
	Chat    ChatConfig    `yaml:"chat"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SessionConfig struct {
	HistoryLimit int      `yaml:"history_limit"`
	ReapInterval Duration `yaml:"reap_interval"`
	SessionTTL   Duration `yaml:"session_ttl"`
}

type WSConfig struct {
	SendBuffer int `yaml:"send_buffer"`
}

type ChatConfig struct {
	LogLimit int `yaml:"log_limit"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Session: SessionConfig{
			HistoryLimit: 100,
			ReapInterval: Duration(time.Hour),
			SessionTTL:   Duration(24 * time.Hour),
		},
		WS: WSConfig{
			SendBuffer: 256,
		},
		Chat: ChatConfig{
			LogLimit: 1000,
		},
	}
}

// Load reads a yaml config file over the defaults. A missing file is an
// error; use LoadOrDefault when the file is optional.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the built-in defaults when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}
