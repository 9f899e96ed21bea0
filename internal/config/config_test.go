package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBackendSpecValid(t *testing.T) {
	b, err := ParseBackendSpec("127.0.0.1:11434=LocalOllama")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Addr != "127.0.0.1:11434" || b.Name != "LocalOllama" {
		t.Fatalf("unexpected backend: %+v", b)
	}
}

func TestParseBackendSpecMissingEquals(t *testing.T) {
	_, err := ParseBackendSpec("127.0.0.1:11434")
	if err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestParseBackendSpecBadAddress(t *testing.T) {
	_, err := ParseBackendSpec("not-an-addr=Name")
	if err == nil {
		t.Fatal("expected error for unparseable address")
	}
}

func TestBuildDefaultsMatchOriginal(t *testing.T) {
	cfg, err := Build(Options{BackendSpecs: []string{"127.0.0.1:11434=A"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != "0.0.0.0:11434" {
		t.Errorf("expected default listen 0.0.0.0:11434, got %q", cfg.Listen)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.TimeoutFT != 5*time.Second {
		t.Errorf("expected default timeout_ft 5s, got %v", cfg.TimeoutFT)
	}
	if cfg.TimeMeasure != 10*time.Second {
		t.Errorf("expected default time_measure 10s, got %v", cfg.TimeMeasure)
	}
}

func TestBuildRequiresAtLeastOneBackend(t *testing.T) {
	_, err := Build(Options{})
	if err == nil {
		t.Fatal("expected error when no backends are configured")
	}
}

func TestBuildRejectsDuplicateAddress(t *testing.T) {
	_, err := Build(Options{BackendSpecs: []string{"127.0.0.1:1=A", "127.0.0.1:1=B"}})
	if err == nil {
		t.Fatal("expected error for duplicate backend address")
	}
}

func TestBuildFlagsOverrideSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := "listen: \"127.0.0.1:9000\"\ntimeout: 99\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}

	cfg, err := Build(Options{
		BackendSpecs: []string{"127.0.0.1:11434=A"},
		SettingsFile: path,
		Listen:       "0.0.0.0:8080",
		TimeoutSec:   15,
		TimeoutSet:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != "0.0.0.0:8080" {
		t.Errorf("expected explicit --listen to win, got %q", cfg.Listen)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("expected explicit --timeout to win, got %v", cfg.Timeout)
	}
}

func TestBuildReadsBackendFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.txt")
	content := "# comment\n127.0.0.1:1=A\n\n127.0.0.1:2=B\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write backend file: %v", err)
	}

	cfg, err := Build(Options{BackendFile: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("expected 2 backends from file, got %d", len(cfg.Backends))
	}
}
