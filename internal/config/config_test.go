package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for explicitly named missing file")
	}

	// No explicit path: missing file is fine, defaults apply.
	cwd, _ := os.Getwd()
	tmp := t.TempDir()
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Broker.URL != "ws://localhost:8080/ws" {
		t.Errorf("unexpected broker url: %s", cfg.Broker.URL)
	}
	if cfg.Broker.HeartbeatMS != 4000 {
		t.Errorf("unexpected heartbeat: %d", cfg.Broker.HeartbeatMS)
	}
	if cfg.Broker.MaxReconnectAttempts != 5 {
		t.Errorf("unexpected max attempts: %d", cfg.Broker.MaxReconnectAttempts)
	}
	if !cfg.Poll.Enabled || cfg.Poll.IntervalSec != 30 {
		t.Errorf("unexpected poll config: %+v", cfg.Poll)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
broker:
  url: wss://queueless.example.com/ws
  heartbeat_ms: 10000
api:
  base_url: https://queueless.example.com
poll:
  enabled: false
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Broker.URL != "wss://queueless.example.com/ws" {
		t.Errorf("unexpected broker url: %s", cfg.Broker.URL)
	}
	if cfg.Broker.HeartbeatMS != 10000 {
		t.Errorf("unexpected heartbeat: %d", cfg.Broker.HeartbeatMS)
	}
	if cfg.Poll.Enabled {
		t.Error("expected polling disabled")
	}
	// Defaults still fill the rest.
	if cfg.API.RetryCount != 3 {
		t.Errorf("unexpected retry count: %d", cfg.API.RetryCount)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Broker: BrokerConfig{URL: "ws://localhost:8080/ws", HeartbeatMS: 4000, ReconnectDelaySec: 5, MaxReconnectAttempts: 5},
			API:    APIConfig{BaseURL: "http://localhost:8080"},
			Poll:   PollConfig{Enabled: true, IntervalSec: 30},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing broker url", func(c *Config) { c.Broker.URL = "" }},
		{"non-ws broker url", func(c *Config) { c.Broker.URL = "http://localhost:8080/ws" }},
		{"missing api base url", func(c *Config) { c.API.BaseURL = "" }},
		{"negative heartbeat", func(c *Config) { c.Broker.HeartbeatMS = -1 }},
		{"zero max attempts", func(c *Config) { c.Broker.MaxReconnectAttempts = 0 }},
		{"bad poll interval", func(c *Config) { c.Poll.IntervalSec = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("QUEUELESS_BROKER_URL", "wss://env.example.com/ws")

	cwd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Broker.URL != "wss://env.example.com/ws" {
		t.Errorf("env override not applied: %s", cfg.Broker.URL)
	}
}
