package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

const (
	DefaultHookTimeout  = 60 * time.Second
	DefaultSendTimeout  = 30 * time.Second
	DefaultLoginTimeout = 30 * time.Second
	DefaultDebounce     = 5 * time.Second
	DefaultRatePerSec   = 3
)

type Timeouts struct {
	Hook  time.Duration
	Send  time.Duration
	Login time.Duration
}

func (c *Config) ResolvedTimeouts() (Timeouts, error) {
	var (
		t   Timeouts
		err error
	)
	if t.Hook, err = ParseDurationOrDefault("timeouts.hook", c.Timeouts.Hook, DefaultHookTimeout); err != nil {
		return Timeouts{}, err
	}
	if t.Send, err = ParseDurationOrDefault("timeouts.send", c.Timeouts.Send, DefaultSendTimeout); err != nil {
		return Timeouts{}, err
	}
	if t.Login, err = ParseDurationOrDefault("timeouts.login", c.Timeouts.Login, DefaultLoginTimeout); err != nil {
		return Timeouts{}, err
	}
	return t, nil
}

// Styles returns the delivery class order, defaulting to notice before text.
func (c *Config) Styles() []string {
	if len(c.StyleOrder) == 0 {
		return []string{StyleNotice, StyleText}
	}
	return append([]string(nil), c.StyleOrder...)
}

// SkipMissingVersionName reports whether packages without a resolvable version
// name are skipped instead of announced with their numeric code.
func (c *Config) SkipMissingVersionName() bool {
	return strings.EqualFold(strings.TrimSpace(c.OnMissingVersionName), MissingNameSkip)
}

// StorageSettings returns the store driver and path with defaults applied.
// The file driver keeps one file per package under <data_dir>/pkg_versions.
func (c *Config) StorageSettings(baseDir string) (driver, path string, busy time.Duration, err error) {
	dataDir := c.DataDir
	if strings.TrimSpace(dataDir) == "" {
		dataDir = ".data"
	}
	dataDir = ResolvePath(baseDir, dataDir)

	driver = "file"
	if c.Storage != nil && strings.TrimSpace(c.Storage.Driver) != "" {
		driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	}
	if c.Storage != nil && strings.TrimSpace(c.Storage.Path) != "" {
		path = ResolvePath(baseDir, c.Storage.Path)
	} else {
		switch driver {
		case "bolt", "bbolt":
			path = filepath.Join(dataDir, "pkg_versions.db")
		case "sqlite", "sqlite3":
			path = filepath.Join(dataDir, "pkg_versions.sqlite")
		default:
			path = filepath.Join(dataDir, "pkg_versions")
		}
	}
	if c.Storage != nil {
		busy, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	}
	return driver, path, busy, err
}

// ResolvePath expands a leading "~" and anchors relative paths at baseDir.
func ResolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Secret returns the value of envName when set, otherwise the inline value.
func Secret(inline, envName string) string {
	if envName = strings.TrimSpace(envName); envName != "" {
		if v := os.Getenv(envName); v != "" {
			return v
		}
	}
	return inline
}
