package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvBusDir, EnvDaemonInterval, EnvAgentPattern, EnvDaemonPattern, EnvPublisher} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BusPath() != filepath.Join(root, ".ufoo", "bus") {
		t.Errorf("BusPath = %s", cfg.BusPath())
	}
	if cfg.DaemonInterval() != 2*time.Second || cfg.ListenInterval() != time.Second {
		t.Errorf("intervals = %s, %s", cfg.DaemonInterval(), cfg.ListenInterval())
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q", cfg.Source)
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "bus_dir: state/bus\ndaemon_interval_ms: 500\nagent_pattern: '(?i)gemini'\npublisher: ci\n")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BusPath() != filepath.Join(root, "state", "bus") {
		t.Errorf("BusPath = %s", cfg.BusPath())
	}
	if cfg.DaemonIntervalMs != 500 || cfg.AgentPattern != "(?i)gemini" || cfg.Publisher != "ci" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !strings.HasSuffix(cfg.Source, "config.yaml") {
		t.Errorf("Source = %s", cfg.Source)
	}
}

func TestLoad_TOMLWhenNoYAML(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "config.toml", "daemon_interval_ms = 750\nbus_id = \"team\"\n")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DaemonIntervalMs != 750 || cfg.BusID != "team" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_YAMLTakesPrecedenceOverTOML(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "daemon_interval_ms: 100\n")
	writeConfig(t, root, "config.toml", "daemon_interval_ms = 900\n")

	cfg, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DaemonIntervalMs != 100 {
		t.Errorf("DaemonIntervalMs = %d", cfg.DaemonIntervalMs)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "daemon_interval_ms: 100\npublisher: file\n")
	abs := filepath.Join(t.TempDir(), "elsewhere")
	t.Setenv(EnvBusDir, abs)
	t.Setenv(EnvDaemonInterval, "3000")
	t.Setenv(EnvPublisher, "env")

	cfg, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BusPath() != abs || cfg.DaemonIntervalMs != 3000 || cfg.Publisher != "env" {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv(EnvDaemonInterval, "fast")
	cfg, _ = Load(root)
	if cfg.DaemonIntervalMs != 100 {
		t.Errorf("invalid env interval applied: %d", cfg.DaemonIntervalMs)
	}
}

func TestLoad_MalformedFileStillReturnsDefaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "daemon_interval_ms: [unterminated\n")

	cfg, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("err = %v", err)
	}
	if cfg.DaemonIntervalMs != DefaultDaemonIntervalMs {
		t.Errorf("DaemonIntervalMs = %d", cfg.DaemonIntervalMs)
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, Dir), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "src", "pkg")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	want, _ := filepath.Abs(root)
	if got := FindProjectRoot(nested); got != want {
		t.Errorf("FindProjectRoot(nested) = %s, want %s", got, want)
	}

	lonely := t.TempDir()
	want, _ = filepath.Abs(lonely)
	if got := FindProjectRoot(lonely); got != want {
		t.Errorf("FindProjectRoot(lonely) = %s, want %s", got, want)
	}
}
