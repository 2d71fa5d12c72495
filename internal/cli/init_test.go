package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/subdigest/internal/config"
)

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf")

	out, err := execute(t, "--config", dir, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Initialized "+dir+" with 2 config files.") {
		t.Errorf("output = %q", out)
	}

	info, err := os.Stat(filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatalf("stat .env: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf(".env mode = %v, want 0600", info.Mode().Perm())
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Notify.Mode != "log" {
		t.Errorf("notify mode = %q, want log", cfg.Notify.Mode)
	}
	if cfg.Schedule.SendTime != "10:00" {
		t.Errorf("send time = %q", cfg.Schedule.SendTime)
	}
}

func TestInitCommand_Idempotent(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("schedule:\n  send_time: \"07:30\"\n")
	if err := os.WriteFile(filepath.Join(dir, config.DefaultConfigFile), custom, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", dir, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "exists: "+filepath.Join(dir, config.DefaultConfigFile)) {
		t.Errorf("existing config not reported:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, config.DefaultConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(custom) {
		t.Error("init overwrote an existing config.yaml")
	}

	out, err = execute(t, "--config", dir, "init")
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "already initialized") {
		t.Errorf("output = %q", out)
	}
}
