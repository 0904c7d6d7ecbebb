// Package config loads the client configuration from a JSON file with
// environment variable overrides, and can watch the file for changes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Duration accepts JSON strings in time.ParseDuration syntax.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is everything the client needs to join an edit session.
type Config struct {
	BrokerURL  string `json:"brokerUrl"`
	APIBaseURL string `json:"apiBaseUrl,omitempty"`
	Token      string `json:"token,omitempty"`

	GroupID  string `json:"groupId"`
	PlanID   string `json:"planId"`
	UserID   string `json:"userId"`
	ClientID string `json:"clientId,omitempty"`

	ReconnectDelay Duration `json:"reconnectDelay,omitempty"`
	AckTimeout     Duration `json:"ackTimeout,omitempty"`

	JournalFile        string `json:"journalFile,omitempty"`
	JournalPostgresDSN string `json:"journalPostgresDsn,omitempty"`

	MetricsAddr string `json:"metricsAddr,omitempty"`
}

// Load reads the JSON file at path (optional), overlays PLANSYNC_*
// environment variables, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	stringEnv(&c.BrokerURL, "PLANSYNC_BROKER_URL")
	stringEnv(&c.APIBaseURL, "PLANSYNC_API_BASE_URL")
	stringEnv(&c.Token, "PLANSYNC_TOKEN")
	stringEnv(&c.GroupID, "PLANSYNC_GROUP_ID")
	stringEnv(&c.PlanID, "PLANSYNC_PLAN_ID")
	stringEnv(&c.UserID, "PLANSYNC_USER_ID")
	stringEnv(&c.ClientID, "PLANSYNC_CLIENT_ID")
	stringEnv(&c.JournalFile, "PLANSYNC_JOURNAL_FILE")
	stringEnv(&c.JournalPostgresDSN, "PLANSYNC_JOURNAL_POSTGRES_DSN")
	stringEnv(&c.MetricsAddr, "PLANSYNC_METRICS_ADDR")
	durationEnv(&c.ReconnectDelay, "PLANSYNC_RECONNECT_DELAY")
	durationEnv(&c.AckTimeout, "PLANSYNC_ACK_TIMEOUT")
}

func stringEnv(target *string, name string) {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		*target = raw
	}
}

func durationEnv(target *Duration, name string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return
	}
	*target = Duration(parsed)
}

// Validate checks the fields without which a session cannot start.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.BrokerURL) == "" {
		missing = append(missing, "brokerUrl")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		missing = append(missing, "groupId")
	}
	if strings.TrimSpace(c.PlanID) == "" {
		missing = append(missing, "planId")
	}
	if strings.TrimSpace(c.UserID) == "" {
		missing = append(missing, "userId")
	}
	if len(missing) > 0 {
		return errors.New("config missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}
