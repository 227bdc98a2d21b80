package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir(), "missing")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Call.RingTimeout != 3*time.Minute {
		t.Errorf("ring timeout = %v, want 3m", cfg.Call.RingTimeout)
	}
	if cfg.Auth.RefreshInterval != 14*time.Minute {
		t.Errorf("refresh interval = %v, want 14m", cfg.Auth.RefreshInterval)
	}
	if cfg.WebSocket.PongWait != time.Minute || cfg.WebSocket.MaxMessageSize != 65536 {
		t.Errorf("websocket = %+v", cfg.WebSocket)
	}
	if cfg.Redis.Address != "localhost:6379" || cfg.Redis.PresenceTTL != 90*time.Second {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.History.Mode != HistoryModeDirect {
		t.Errorf("history mode = %q", cfg.History.Mode)
	}
	if cfg.Database.ConnMaxLifetime != time.Hour {
		t.Errorf("conn max lifetime = %v", cfg.Database.ConnMaxLifetime)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9100
call:
  ring_timeout: 45s
ice:
  servers:
    - urls: ["turn:turn.example.com:3478"]
      username: alice
      credential: secret
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("REDIS_ADDRESS", "redis.internal:6379")

	cfg, err := LoadFrom(dir, "config")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Call.RingTimeout != 45*time.Second {
		t.Errorf("ring timeout = %v", cfg.Call.RingTimeout)
	}
	if cfg.Redis.Address != "redis.internal:6379" {
		t.Errorf("redis address = %q", cfg.Redis.Address)
	}
	if len(cfg.ICE.Servers) != 1 || cfg.ICE.Servers[0].Username != "alice" {
		t.Errorf("ice servers = %+v", cfg.ICE.Servers)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFrom(t.TempDir(), "missing")
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"kafka history without kafka", func(c *Config) { c.History.Mode = HistoryModeKafka }},
		{"unknown history mode", func(c *Config) { c.History.Mode = "carrier-pigeon" }},
		{"zero ring timeout", func(c *Config) { c.Call.RingTimeout = 0 }},
		{"retention below ring timeout", func(c *Config) { c.Call.TerminalRetention = time.Second }},
		{"ping slower than pong", func(c *Config) { c.WebSocket.PingInterval = 2 * c.WebSocket.PongWait }},
		{"push without project", func(c *Config) { c.Push.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}
