package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DatabaseURL string `yaml:"databaseURL" validate:"required"`
	ListenAddr  string `yaml:"listenAddr" validate:"required"`

	// BaseURL is the public prefix invitation links are built from
	BaseURL string `yaml:"baseURL" validate:"required,url"`

	InvitationTTLHours int `yaml:"invitationTTLHours" validate:"min=1"`
	HeartbeatSeconds   int `yaml:"heartbeatSeconds" validate:"min=1"`

	// RegularSchedules maps a shift type to the rrule its regular
	// volunteers are booked on
	RegularSchedules map[string]string `yaml:"regularSchedules,omitempty"`

	GmailUserID string `yaml:"gmailUserID" validate:"required"`
	GmailSender string `yaml:"gmailSender,omitempty"`
}

// InvitationTTL returns the default invitation lifetime
func (c *Config) InvitationTTL() time.Duration {
	return time.Duration(c.InvitationTTLHours) * time.Hour
}

// HeartbeatInterval returns the broadcaster heartbeat interval
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration from shiftbook_config.yaml.
// It looks for the config file in the current directory first, then in the
// user's home directory.
func Load() (*Config, error) {
	configPath, err := findConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{
		InvitationTTLHours: 72,
		HeartbeatSeconds:   30,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration struct and checks rrule syntax
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for shiftType, schedule := range cfg.RegularSchedules {
		if _, err := rrule.StrToRRule(schedule); err != nil {
			return fmt.Errorf("invalid rrule for shift type %q: %w", shiftType, err)
		}
	}

	return nil
}

// findConfigFile searches for shiftbook_config.yaml in the current directory
// and the home directory
func findConfigFile() (string, error) {
	configFileName := "shiftbook_config.yaml"

	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}
