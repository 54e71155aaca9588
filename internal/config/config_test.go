package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndAccessors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edna.conf")
	contents := `
[emulation]
reader = "ACS ACR122U"
atq = 4
sak = 40
cmd_delay = 50
delay_success_only = true

[daemon]
pidfile = "/tmp/edna-test.pid"
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.GetString("emulation", "reader", ""); got != "ACS ACR122U" {
		t.Fatalf("reader = %q, want %q", got, "ACS ACR122U")
	}
	if got := cfg.GetInt("emulation", "atq", -1); got != 4 {
		t.Fatalf("atq = %d, want 4", got)
	}
	if got := cfg.GetBool("emulation", "delay_success_only", false); !got {
		t.Fatalf("delay_success_only = false, want true")
	}
	if got := cfg.GetString("daemon", "pidfile", ""); got != "/tmp/edna-test.pid" {
		t.Fatalf("pidfile = %q", got)
	}
}

func TestDefaultFallsThroughToCallerDefaults(t *testing.T) {
	cfg := Default()
	if got := cfg.GetString("emulation", "reader", "none"); got != "none" {
		t.Fatalf("got %q, want %q", got, "none")
	}
	if got := cfg.GetInt("emulation", "atq", 4); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
	if got := cfg.GetBool("daemon", "fork", true); !got {
		t.Fatalf("got false, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}
