package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "plansync.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `{
	"brokerUrl": "wss://broker.example/ws",
	"groupId": "g1",
	"planId": "p1",
	"userId": "user-1",
	"reconnectDelay": "250ms",
	"ackTimeout": "2s"
}`

func TestLoadParsesFileAndDurations(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerURL != "wss://broker.example/ws" || cfg.GroupID != "g1" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ReconnectDelay.Std() != 250*time.Millisecond {
		t.Fatalf("reconnectDelay = %s", cfg.ReconnectDelay.Std())
	}
	if cfg.AckTimeout.Std() != 2*time.Second {
		t.Fatalf("ackTimeout = %s", cfg.AckTimeout.Std())
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validConfig)
	t.Setenv("PLANSYNC_USER_ID", "env-user")
	t.Setenv("PLANSYNC_ACK_TIMEOUT", "7s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserID != "env-user" {
		t.Fatalf("userId = %q, want env override", cfg.UserID)
	}
	if cfg.AckTimeout.Std() != 7*time.Second {
		t.Fatalf("ackTimeout = %s, want env override", cfg.AckTimeout.Std())
	}
}

func TestLoadFromEnvOnly(t *testing.T) {
	t.Setenv("PLANSYNC_BROKER_URL", "wss://env.example/ws")
	t.Setenv("PLANSYNC_GROUP_ID", "g9")
	t.Setenv("PLANSYNC_PLAN_ID", "p9")
	t.Setenv("PLANSYNC_USER_ID", "u9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerURL != "wss://env.example/ws" || cfg.PlanID != "p9" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadReportsMissingFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"brokerUrl": "wss://x/ws"}`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("Load with missing fields succeeded")
	}
	for _, field := range []string{"groupId", "planId", "userId"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %q does not name %s", err, field)
		}
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"brokerUrl":"wss://x","groupId":"g","planId":"p","userId":"u","ackTimeout":"soon"}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("Load with bad duration succeeded")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validConfig)

	reloads := make(chan Config, 4)
	watcher, err := NewWatcher(path, nil, func(cfg Config) { reloads <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(watcher.Close)

	updated := strings.Replace(validConfig, `"planId": "p1"`, `"planId": "p2"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloads:
		if cfg.PlanID != "p2" {
			t.Fatalf("reload saw planId %q, want p2", cfg.PlanID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload observed")
	}
}

func TestWatcherSkipsInvalidIntermediateState(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validConfig)

	reloads := make(chan Config, 4)
	watcher, err := NewWatcher(path, nil, func(cfg Config) { reloads <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(watcher.Close)

	if err := os.WriteFile(path, []byte(`{"broker`), 0o644); err != nil {
		t.Fatalf("write partial config: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case cfg := <-reloads:
		t.Fatalf("invalid state reached callback: %+v", cfg)
	default:
	}

	if err := os.WriteFile(path, []byte(validConfig), 0o644); err != nil {
		t.Fatalf("restore config: %v", err)
	}
	select {
	case <-reloads:
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload after restore")
	}
}
