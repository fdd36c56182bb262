// Package config resolves where a project's bus lives and the tunables the
// CLI and daemon read: .ufoo/config.yaml (or config.toml) under the project
// root, overridden by UFOO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Dir is the per-project state directory name.
const Dir = ".ufoo"

// Environment variables that override file settings.
const (
	EnvBusDir         = "UFOO_BUS_DIR"
	EnvDaemonInterval = "UFOO_DAEMON_INTERVAL_MS"
	EnvAgentPattern   = "UFOO_AGENT_PATTERN"
	EnvDaemonPattern  = "UFOO_DAEMON_PATTERN"
	EnvPublisher      = "UFOO_PUBLISHER"
)

// Defaults.
const (
	DefaultDaemonIntervalMs = 2000
	DefaultListenIntervalMs = 1000
)

// Config holds project settings. Zero fields mean "use the default".
type Config struct {
	BusDir           string `yaml:"bus_dir" toml:"bus_dir"`
	BusID            string `yaml:"bus_id" toml:"bus_id"`
	DaemonIntervalMs int    `yaml:"daemon_interval_ms" toml:"daemon_interval_ms"`
	ListenIntervalMs int    `yaml:"listen_interval_ms" toml:"listen_interval_ms"`
	AgentPattern     string `yaml:"agent_pattern" toml:"agent_pattern"`
	DaemonPattern    string `yaml:"daemon_pattern" toml:"daemon_pattern"`
	Publisher        string `yaml:"publisher" toml:"publisher"`

	// ProjectRoot is the directory the config was resolved for.
	ProjectRoot string `yaml:"-" toml:"-"`
	// Source is the config file that was read, if any.
	Source string `yaml:"-" toml:"-"`
}

// Load reads the project config under root, then applies environment
// overrides and defaults. A malformed file is reported as an error
// together with a usable config built from the environment and defaults.
func Load(root string) (Config, error) {
	cfg := Config{}
	var loadErr error

	for _, candidate := range []struct {
		name      string
		unmarshal func([]byte, any) error
	}{
		{"config.yaml", yaml.Unmarshal},
		{"config.yml", yaml.Unmarshal},
		{"config.toml", toml.Unmarshal},
	} {
		path := filepath.Join(root, Dir, candidate.name)
		data, err := os.ReadFile(path) //nolint:gosec // path is constructed from the project root
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				loadErr = fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		var fileCfg Config
		if err := candidate.unmarshal(data, &fileCfg); err != nil {
			loadErr = fmt.Errorf("parse config %s: %w", path, err)
			break
		}
		cfg = fileCfg
		cfg.Source = path
		loadErr = nil
		break
	}

	cfg.ProjectRoot = root
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, loadErr
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvBusDir)); v != "" {
		cfg.BusDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDaemonInterval)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DaemonIntervalMs = n
		}
	}
	if v := os.Getenv(EnvAgentPattern); v != "" {
		cfg.AgentPattern = v
	}
	if v := os.Getenv(EnvDaemonPattern); v != "" {
		cfg.DaemonPattern = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPublisher)); v != "" {
		cfg.Publisher = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DaemonIntervalMs <= 0 {
		cfg.DaemonIntervalMs = DefaultDaemonIntervalMs
	}
	if cfg.ListenIntervalMs <= 0 {
		cfg.ListenIntervalMs = DefaultListenIntervalMs
	}
}

// BusPath returns the bus directory. A relative BusDir is resolved against
// the project root; the default is <root>/.ufoo/bus.
func (c Config) BusPath() string {
	switch {
	case c.BusDir == "":
		return filepath.Join(c.ProjectRoot, Dir, "bus")
	case filepath.IsAbs(c.BusDir):
		return c.BusDir
	default:
		return filepath.Join(c.ProjectRoot, c.BusDir)
	}
}

// DaemonInterval returns the daemon tick period.
func (c Config) DaemonInterval() time.Duration {
	return time.Duration(c.DaemonIntervalMs) * time.Millisecond
}

// ListenInterval returns the watcher poll period.
func (c Config) ListenInterval() time.Duration {
	return time.Duration(c.ListenIntervalMs) * time.Millisecond
}

// FindProjectRoot walks up from start looking for a directory that holds
// .ufoo and returns it. When none is found start itself is returned, so
// "ufoo init" creates the bus where it was run.
func FindProjectRoot(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for dir := abs; ; {
		if info, err := os.Stat(filepath.Join(dir, Dir)); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		dir = parent
	}
}
