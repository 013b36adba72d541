package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "log: debug\nzones:\n  - number: 5\n    name: Garage\n    device_class: garage_door\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 3072 {
		t.Errorf("port %d", cfg.Server.Port)
	}
	if cfg.Server.HeartbeatInterval != 100 {
		t.Errorf("heartbeat %d", cfg.Server.HeartbeatInterval)
	}
	if cfg.WebSocket.Addr != ":8080" {
		t.Errorf("ws addr %q", cfg.WebSocket.Addr)
	}
	if cfg.PersistDir != "persist" {
		t.Errorf("persist dir %q", cfg.PersistDir)
	}
	if cfg.Log != "debug" {
		t.Errorf("log %q", cfg.Log)
	}

	if got := cfg.DeviceClass(5); got != "garage_door" {
		t.Errorf("configured device class %q", got)
	}
	if got := cfg.DeviceClass(6); got != "door" {
		t.Errorf("default device class %q", got)
	}
	if got := cfg.ZoneName(5); got != "Garage" {
		t.Errorf("zone name %q", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
