package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("FRIEND_MONITOR_HTTP_AUTH_SECRET", "secret")

	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broadcast.TickPeriod != 600*time.Millisecond {
		t.Fatalf("tick period %v", cfg.Broadcast.TickPeriod)
	}
	if cfg.Broadcast.SlowInterval != 50 || cfg.Broadcast.FastInterval != 3 || cfg.Broadcast.DecayAfter != 100 {
		t.Fatalf("unexpected throttle defaults %+v", cfg.Broadcast)
	}
	if cfg.Cache.LocationTTL != 2*time.Second {
		t.Fatalf("location ttl %v", cfg.Cache.LocationTTL)
	}
	if cfg.HTTP.AuthSecret != "secret" {
		t.Fatalf("env secret not applied")
	}
}

func TestLoadConfigFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
http:
  addr: ":7000"
  auth_secret: from-file
broadcast:
  tick_period: 250ms
pubsub:
  driver: memory
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("FRIEND_MONITOR_GRPC_ADDR", ":7001")

	cfg, err := LoadConfig(path, []string{"--http.addr=:7002"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":7002" {
		t.Fatalf("flag override lost, addr=%s", cfg.HTTP.Addr)
	}
	if cfg.GRPC.Addr != ":7001" {
		t.Fatalf("env override lost, addr=%s", cfg.GRPC.Addr)
	}
	if cfg.Broadcast.TickPeriod != 250*time.Millisecond {
		t.Fatalf("file value lost, tick=%v", cfg.Broadcast.TickPeriod)
	}
	if cfg.PubSub.Driver != "memory" {
		t.Fatalf("driver %s", cfg.PubSub.Driver)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("config file %q", cfg.ConfigFile)
	}
}

func TestLoadConfigReportsAllProblems(t *testing.T) {
	t.Setenv("FRIEND_MONITOR_LOG_LEVEL", "loud")
	t.Setenv("FRIEND_MONITOR_PUBSUB_DRIVER", "kafka")

	_, err := LoadConfig("", nil)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"log.level", "auth_secret", "pubsub.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}
