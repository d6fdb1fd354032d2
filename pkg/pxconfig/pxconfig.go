// Package pxconfig loads px's global settings: a YAML file under the
// user's config directory, overlaid with the environment variables that
// are part of the stable contract (spec.md §6).
//
// Grounded on config/config.go's New/NewDefault/Load/Write lifecycle and
// its homedir+XDG path resolution, using the teacher's gopkg.in/yaml.v2
// and github.com/mitchellh/go-homedir dependencies unchanged.
package pxconfig

import (
	"os"
	"path/filepath"
	"strconv"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Filename is the config file's name under Path().
const Filename = "config.yaml"

// SystemDepsMode is the two-state enum for PX_SYSTEM_DEPS_MODE.
type SystemDepsMode string

const (
	SystemDepsOnline  SystemDepsMode = "online"
	SystemDepsOffline SystemDepsMode = "offline"
)

// Config is the global, persisted settings file plus its environment
// overrides (spec.md §6 "Environment variables honored").
type Config struct {
	CachePath        string         `yaml:"cache_path,omitempty"`
	StorePath        string         `yaml:"store_path,omitempty"`
	EnvsPath         string         `yaml:"envs_path,omitempty"`
	ToolsDir         string         `yaml:"tools_dir,omitempty"`
	RuntimePython    string         `yaml:"runtime_python,omitempty"`
	RuntimeRegistry  string         `yaml:"runtime_registry,omitempty"`
	RuntimeHostOnly  bool           `yaml:"runtime_host_only,omitempty"`
	NoEnsurePip      bool           `yaml:"no_ensure_pip,omitempty"`
	SystemDepsMode   SystemDepsMode `yaml:"system_deps_mode,omitempty"`
	Online           bool           `yaml:"online,omitempty"`
	SandboxBackend   string         `yaml:"sandbox_backend,omitempty"`
	SandboxStore     string         `yaml:"sandbox_store,omitempty"`
	DebugPip         bool           `yaml:"debug_pip,omitempty"`
	TestFallbackStd  bool           `yaml:"test_fallback_std,omitempty"`
	BuildFromSdist   bool           `yaml:"build_from_sdist,omitempty"`
	CI               bool           `yaml:"-"` // always environment-derived, never persisted
}

// New returns a Config populated with static, host-derived defaults.
func New() Config {
	home := Path()
	return Config{
		CachePath:      filepath.Join(home, "cache"),
		StorePath:      filepath.Join(home, "store"),
		EnvsPath:       filepath.Join(home, "envs"),
		ToolsDir:       filepath.Join(home, "tools"),
		SystemDepsMode: SystemDepsOnline,
		Online:         true,
	}
}

// NewDefault returns New() overlaid with the on-disk config file (if any)
// and then the environment variables from spec.md §6, which always win.
func NewDefault() (Config, error) {
	cfg := New()
	cp := ConfigPath()
	if bb, err := os.ReadFile(cp); err == nil {
		if err := yaml.Unmarshal(bb, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Load reads the config exactly as it exists at path (no defaults, no env
// overlay) — used when `--config` names an alternate config file.
func Load(path string) (Config, error) {
	bb, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	err = yaml.Unmarshal(bb, &c)
	return c, err
}

// Write persists c (without the CI field, which is environment-only) to path.
func (c Config) Write(path string) error {
	bb, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bb, 0o644)
}

// Path is the directory containing the global config file: honors
// XDG_CONFIG_HOME, then ~/.config/px, falling back to a relative path if
// the user has no resolvable home directory.
func Path() string {
	path := filepath.Join(".config", "px")
	if home, err := homedir.Expand("~"); err == nil {
		path = filepath.Join(home, ".config", "px")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		path = filepath.Join(xdg, "px")
	}
	return path
}

// ConfigPath is the full path to the global config file.
func ConfigPath() string {
	return filepath.Join(Path(), Filename)
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = truthy(v)
		}
	}

	str("PX_CACHE_PATH", &cfg.CachePath)
	str("PX_STORE_PATH", &cfg.StorePath)
	str("PX_ENVS_PATH", &cfg.EnvsPath)
	str("PX_TOOLS_DIR", &cfg.ToolsDir)
	str("PX_RUNTIME_PYTHON", &cfg.RuntimePython)
	str("PX_RUNTIME_REGISTRY", &cfg.RuntimeRegistry)
	boolean("PX_RUNTIME_HOST_ONLY", &cfg.RuntimeHostOnly)
	boolean("PX_NO_ENSUREPIP", &cfg.NoEnsurePip)
	if v := os.Getenv("PX_SYSTEM_DEPS_MODE"); v == string(SystemDepsOnline) || v == string(SystemDepsOffline) {
		cfg.SystemDepsMode = SystemDepsMode(v)
	}
	if v := os.Getenv("PX_ONLINE"); v != "" {
		cfg.Online = truthy(v)
	}
	str("PX_SANDBOX_BACKEND", &cfg.SandboxBackend)
	str("PX_SANDBOX_STORE", &cfg.SandboxStore)
	boolean("PX_DEBUG_PIP", &cfg.DebugPip)
	boolean("PX_TEST_FALLBACK_STD", &cfg.TestFallbackStd)
	boolean("PX_BUILD_FROM_SDIST", &cfg.BuildFromSdist)

	cfg.CI = truthy(os.Getenv("CI"))
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v != "" && v != "0" && v != "false"
	}
	return b
}
