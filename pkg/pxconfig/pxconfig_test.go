package pxconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/pxconfig"
)

func TestNewDefaultAppliesEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PX_STORE_PATH", "/custom/store")
	t.Setenv("PX_ONLINE", "false")
	t.Setenv("CI", "1")

	cfg, err := pxconfig.NewDefault()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StorePath != "/custom/store" {
		t.Fatalf("expected env override, got %q", cfg.StorePath)
	}
	if cfg.Online {
		t.Fatal("expected PX_ONLINE=false to disable Online")
	}
	if !cfg.CI {
		t.Fatal("expected CI=1 to set CI")
	}
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := pxconfig.New()
	cfg.SandboxBackend = "docker"
	if err := cfg.Write(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := pxconfig.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SandboxBackend != "docker" {
		t.Fatalf("unexpected round trip: %+v", loaded)
	}
}

func TestConfigPathHonorsXDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	want := filepath.Join(xdg, "px", "config.yaml")
	if got := pxconfig.ConfigPath(); got != want {
		t.Fatalf("ConfigPath() = %q, want %q", got, want)
	}
	_ = os.Getenv("HOME")
}
