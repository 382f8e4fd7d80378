package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate checks the configuration once at load time so the rest of the
// program can treat absent keys as plain "not configured".
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if len(cfg.FDroid) == 0 {
		add("fdroid: at least one repository is required")
	}
	for _, id := range cfg.RepoIDs() {
		rc := cfg.FDroid[id]
		if strings.TrimSpace(id) == "" {
			add("fdroid: empty repository id")
		}
		if strings.ContainsAny(id, `/\`) {
			add("fdroid.%s: repository id must not contain path separators", id)
		}
		if strings.TrimSpace(rc.Repo) == "" {
			add("fdroid.%s.repo is required", id)
		}
		if strings.TrimSpace(rc.RepoName) == "" {
			add("fdroid.%s.repo_name is required", id)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.OnMissingVersionName)) {
	case "", MissingNameFallback, MissingNameSkip:
	default:
		add("on_missing_version_name: must be %q or %q, got %q", MissingNameFallback, MissingNameSkip, cfg.OnMissingVersionName)
	}

	seen := map[string]bool{}
	for _, s := range cfg.StyleOrder {
		if s != StyleNotice && s != StyleText {
			add("style_order: unknown style %q", s)
		}
		if seen[s] {
			add("style_order: duplicate style %q", s)
		}
		seen[s] = true
	}

	for repoID, styles := range cfg.Rooms {
		if _, ok := cfg.FDroid[repoID]; !ok {
			add("rooms.%s: unknown repository", repoID)
		}
		for style, pkgs := range styles {
			if style != StyleNotice && style != StyleText {
				add("rooms.%s: unknown style %q", repoID, style)
			} else if len(cfg.StyleOrder) > 0 && !seen[style] {
				add("rooms.%s.%s: style is not listed in style_order, its channels would never be notified", repoID, style)
			}
			for pkg, chans := range pkgs {
				for i, ch := range chans {
					if strings.TrimSpace(ch) == "" {
						add("rooms.%s.%s.%s[%d]: empty channel", repoID, style, pkg, i)
					}
				}
			}
		}
	}

	for repoID, hooks := range cfg.UpdateMessage {
		if _, ok := cfg.FDroid[repoID]; !ok {
			add("update_message.%s: unknown repository", repoID)
		}
		for pkg, h := range hooks {
			if strings.TrimSpace(h.Handler) == "" {
				add("update_message.%s.%s.handler is required", repoID, pkg)
			}
		}
	}

	if _, err := cfg.ResolvedTimeouts(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("daemon.debounce", cfg.Daemon.Debounce); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "file", "bolt", "bbolt", "sqlite", "sqlite3":
		default:
			add("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Chat.RatePerSec < 0 {
		add("chat.rate_per_sec must be >= 0")
	}
	if err := validateChat(cfg.Chat); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateChat(c ChatConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "matrix":
		if c.Matrix == nil {
			return errors.New("chat.matrix is required for backend matrix")
		}
		if strings.TrimSpace(c.Matrix.Homeserver) == "" || strings.TrimSpace(c.Matrix.MxID) == "" {
			return errors.New("chat.matrix: homeserver and mx_id are required")
		}
		if c.Matrix.Password == "" && c.Matrix.PasswordEnv == "" && c.Matrix.AccessToken == "" && c.Matrix.AccessTokenEnv == "" {
			return errors.New("chat.matrix: one of password, password_env, access_token, access_token_env is required")
		}
	case "telegram":
		if c.Telegram == nil || (c.Telegram.Token == "" && c.Telegram.TokenEnv == "") {
			return errors.New("chat.telegram: token or token_env is required")
		}
	case "nats":
		if c.NATS == nil || strings.TrimSpace(c.NATS.URL) == "" {
			return errors.New("chat.nats.url is required")
		}
	case "":
		return errors.New("chat.backend is required")
	default:
		return fmt.Errorf("chat.backend: unknown backend %q", c.Backend)
	}
	return nil
}

// RepoIDs returns configured repository ids in a stable order.
func (c *Config) RepoIDs() []string {
	ids := make([]string, 0, len(c.FDroid))
	for id := range c.FDroid {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
