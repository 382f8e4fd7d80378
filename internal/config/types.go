package config

// Config is the whole bot configuration, decoded strictly (unknown keys are rejected).
type Config struct {
	DataDir string         `json:"data_dir,omitempty"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`

	Timeouts TimeoutsConfig `json:"timeouts,omitempty"`

	// OnMissingVersionName is "fallback" (use the numeric version code) or "skip".
	OnMissingVersionName string `json:"on_missing_version_name,omitempty"`

	// StyleOrder lists the delivery classes in the order they are notified.
	// Defaults to ["notice", "text"].
	StyleOrder []string `json:"style_order,omitempty"`

	FDroid map[string]RepoConfig `json:"fdroid"`
	Chat   ChatConfig            `json:"chat"`

	// Rooms maps repo id -> style ("notice"/"text") -> package id or "all" -> channel ids.
	Rooms map[string]map[string]map[string][]string `json:"rooms,omitempty"`

	// UpdateMessage maps repo id -> package id or "all" -> hook settings.
	UpdateMessage map[string]map[string]UpdateMessageConfig `json:"update_message,omitempty"`

	Daemon DaemonConfig `json:"daemon,omitempty"`
}

// RepoConfig describes one F-Droid repository.
//
// Repo is the directory holding index-v1.json. The other directories default to
// the layout fdroidserver creates next to it:
//
//	<repo>/<pkg>_<code>.apk
//	<repo>/../build/<pkg>/fastlane/...
//	<repo>/../metadata/<pkg>.yml
type RepoConfig struct {
	Repo        string `json:"repo"`
	RepoName    string `json:"repo_name"`
	RepoURL     string `json:"repo_url,omitempty"`
	ArtifactDir string `json:"artifact_dir,omitempty"`
	BuildDir    string `json:"build_dir,omitempty"`
	MetadataDir string `json:"metadata_dir,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

type UpdateMessageConfig struct {
	Handler string `json:"handler,omitempty"`
}

// TimeoutsConfig holds Go duration strings (e.g. "30s", "1m").
// Defaults: hook 60s, send 30s, login 30s.
type TimeoutsConfig struct {
	Hook  string `json:"hook,omitempty"`
	Send  string `json:"send,omitempty"`
	Login string `json:"login,omitempty"`
}

// StorageConfig controls the version store.
//
// Example:
//
//	"storage": { "driver": "bolt", "path": "./.data/versions.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ChatConfig struct {
	// Backend is one of "matrix", "telegram", "nats".
	Backend    string          `json:"backend"`
	RatePerSec int             `json:"rate_per_sec,omitempty"`
	Matrix     *MatrixConfig   `json:"matrix,omitempty"`
	Telegram   *TelegramConfig `json:"telegram,omitempty"`
	NATS       *NATSConfig     `json:"nats,omitempty"`
}

// Secrets may be given inline or by naming an environment variable (*_env).
// The environment variant wins when both are set and the variable is non-empty.

type MatrixConfig struct {
	Homeserver     string `json:"homeserver"`
	MxID           string `json:"mx_id"`
	DeviceID       string `json:"device_id,omitempty"`
	Password       string `json:"password,omitempty"`
	PasswordEnv    string `json:"password_env,omitempty"`
	AccessToken    string `json:"access_token,omitempty"`
	AccessTokenEnv string `json:"access_token_env,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string `json:"api_url,omitempty"`
}

type NATSConfig struct {
	URL         string `json:"url"`
	User        string `json:"user,omitempty"`
	Password    string `json:"password,omitempty"`
	PasswordEnv string `json:"password_env,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenEnv    string `json:"token_env,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// DaemonConfig controls the long-running mode.
type DaemonConfig struct {
	// Schedule is a cron spec (5 fields, optional seconds, or descriptors like "@hourly").
	Schedule string `json:"schedule,omitempty"`
	// Watch re-runs a pass when a repository index file changes.
	Watch bool `json:"watch,omitempty"`
	// MetricsAddr enables the Prometheus /metrics endpoint (e.g. "127.0.0.1:9464").
	MetricsAddr string `json:"metrics_addr,omitempty"`
	// Debounce delays an index-triggered pass so fdroidserver can finish writing. Default 5s.
	Debounce string `json:"debounce,omitempty"`
}

const (
	StyleNotice = "notice"
	StyleText   = "text"

	// AllPackages is the wildcard package key for routing and hooks.
	AllPackages = "all"

	MissingNameFallback = "fallback"
	MissingNameSkip     = "skip"
)
