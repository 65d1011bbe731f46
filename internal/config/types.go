package config

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Server     ServerConfig     `json:"server"`
	Schedule   ScheduleConfig   `json:"schedule"`
	Newsletter NewsletterConfig `json:"newsletter"`
	Slack      SlackConfig      `json:"slack"`
	Storage    StorageConfig    `json:"storage"`
	Delivery   DeliveryConfig   `json:"delivery"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the HTTP trigger/admin surface.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token   string `json:"token,omitempty"` // bearer token for trigger/test endpoints (do not log)

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) because a full delivery run can take minutes.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ScheduleConfig controls the daily delivery trigger.
type ScheduleConfig struct {
	Enabled bool `json:"enabled"`

	// At is the daily run time as "HH:MM" in Timezone.
	At string `json:"at"`

	// Timezone is an IANA TZ name, e.g. "America/New_York". Empty means local.
	Timezone string `json:"timezone,omitempty"`

	// Timeout bounds a single run. Go duration string; "0s" disables.
	Timeout string `json:"timeout,omitempty"`
}

// NewsletterConfig controls the content source.
type NewsletterConfig struct {
	// URL of the newsletter page. Default: https://tldr.tech/api/latest/tech
	URL string `json:"url,omitempty"`

	// Timeout for the page fetch (Go duration string). Default "30s".
	Timeout string `json:"timeout,omitempty"`

	// Denylist overrides the promotional keyword filter when non-empty.
	// Matching is a case-insensitive substring check on title+description.
	Denylist []string `json:"denylist,omitempty"`
}

// SlackConfig controls the messaging platform client.
type SlackConfig struct {
	// APIBase overrides the API base URL (tests, proxies).
	// Default: https://slack.com/api
	APIBase string `json:"api_base,omitempty"`

	// Timeout per API call (Go duration string). Default "15s".
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls workspace persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tldrbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DeliveryConfig controls pacing of the fan-out run.
//
// All durations are Go duration strings (e.g. "500ms", "1s").
type DeliveryConfig struct {
	// TeamDelay paces iterations between workspaces. Default "1s".
	TeamDelay string `json:"team_delay,omitempty"`

	// ReplyDelay paces threaded follow-up messages. Default "500ms".
	ReplyDelay string `json:"reply_delay,omitempty"`
}
