package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/gatt"
	"github.com/srg/scorectl/internal/reconnect"
	"github.com/srg/scorectl/internal/scoreboard"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel           logrus.Level    `yaml:"log_level" default:"4"`
	Adapter            string          `yaml:"adapter" default:"hci0"`
	ConnectTimeout     time.Duration   `yaml:"connect_timeout" default:"10s"`
	OperationTimeout   time.Duration   `yaml:"operation_timeout" default:"30s"`
	MaxConnectAttempts int             `yaml:"max_connect_attempts" default:"4"`
	PreferredMTU       int             `yaml:"preferred_mtu" default:"517"`
	StateFile          string          `yaml:"state_file"`
	Reconnect          ReconnectConfig `yaml:"reconnect"`
	Display            DisplayConfig   `yaml:"display"`
}

// ReconnectConfig is the cadence of the reconnection loop.
type ReconnectConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay" default:"100ms"`
	AttemptDelay  time.Duration `yaml:"attempt_delay" default:"2s"`
	Cooldown      time.Duration `yaml:"cooldown" default:"24s"`
	CooldownEvery int           `yaml:"cooldown_every" default:"3"`
}

type DisplayConfig struct {
	Service        string `yaml:"service" default:"ffe0"`
	Characteristic string `yaml:"characteristic" default:"ffe1"`
	AskToBond      bool   `yaml:"ask_to_bond" default:"true"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load overlays the YAML file at path on the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxConnectAttempts < 1:
		return fmt.Errorf("max_connect_attempts must be at least 1, got %d", c.MaxConnectAttempts)
	case c.PreferredMTU < gatt.MinMTU || c.PreferredMTU > gatt.MaxMTU:
		return fmt.Errorf("preferred_mtu must be within [%d, %d], got %d", gatt.MinMTU, gatt.MaxMTU, c.PreferredMTU)
	case c.OperationTimeout < 0 || c.ConnectTimeout < 0:
		return fmt.Errorf("timeouts must not be negative")
	case c.Reconnect.CooldownEvery < 1:
		return fmt.Errorf("reconnect.cooldown_every must be at least 1, got %d", c.Reconnect.CooldownEvery)
	}
	return nil
}

// ManagerOptions maps the config onto the connection manager.
func (c *Config) ManagerOptions() gatt.Options {
	return gatt.Options{
		MaxConnectAttempts: c.MaxConnectAttempts,
		PreferredMTU:       c.PreferredMTU,
		OperationTimeout:   c.OperationTimeout,
	}
}

func (c *Config) ReconnectOptions() reconnect.Options {
	return reconnect.Options{
		InitialDelay:  c.Reconnect.InitialDelay,
		AttemptDelay:  c.Reconnect.AttemptDelay,
		Cooldown:      c.Reconnect.Cooldown,
		CooldownEvery: c.Reconnect.CooldownEvery,
	}
}

func (c *Config) RemoteOptions() scoreboard.Options {
	return scoreboard.Options{
		ServiceUUID:        c.Display.Service,
		CharacteristicUUID: c.Display.Characteristic,
		Configuration:      scoreboard.DefaultConfiguration().WithAskToBond(c.Display.AskToBond),
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
