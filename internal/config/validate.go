package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Validate performs static checks on a parsed config.
// It is used both at startup and as the Watch() validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	durations := []struct {
		path string
		raw  string
	}{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"schedule.timeout", cfg.Schedule.Timeout},
		{"newsletter.timeout", cfg.Newsletter.Timeout},
		{"slack.timeout", cfg.Slack.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"delivery.team_delay", cfg.Delivery.TeamDelay},
		{"delivery.reply_delay", cfg.Delivery.ReplyDelay},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if cfg.Schedule.Enabled {
		if _, _, err := ParseHHMM(cfg.Schedule.At); err != nil {
			return fmt.Errorf("schedule.at: %w", err)
		}
		if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("schedule.timezone: %w", err)
			}
		}
	}

	if u := strings.TrimSpace(cfg.Newsletter.URL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("newsletter.url: %w", err)
		}
	}
	if u := strings.TrimSpace(cfg.Slack.APIBase); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("slack.api_base: %w", err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "none", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", d)
	}

	return nil
}

// ParseHHMM parses a wall-clock time of day ("07:30").
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
