package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tldrbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Server (never log token)
	if oldCfg.Server.Enabled != newCfg.Server.Enabled ||
		strings.TrimSpace(oldCfg.Server.Addr) != strings.TrimSpace(newCfg.Server.Addr) ||
		strings.TrimSpace(oldCfg.Server.ReadTimeout) != strings.TrimSpace(newCfg.Server.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Server.WriteTimeout) != strings.TrimSpace(newCfg.Server.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Server.IdleTimeout) != strings.TrimSpace(newCfg.Server.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Server.Token) != "") != (strings.TrimSpace(newCfg.Server.Token) != "") {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Bool("server.token_set", strings.TrimSpace(newCfg.Server.Token) != ""),
		)
	}

	// Schedule
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.at", strings.TrimSpace(newCfg.Schedule.At)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	// Newsletter
	if !reflect.DeepEqual(oldCfg.Newsletter, newCfg.Newsletter) {
		changed = append(changed, "newsletter")
		attrs = append(attrs,
			logx.String("newsletter.url", strings.TrimSpace(newCfg.Newsletter.URL)),
			logx.Int("newsletter.denylist_len", len(newCfg.Newsletter.Denylist)),
		)
	}

	// Slack
	if !reflect.DeepEqual(oldCfg.Slack, newCfg.Slack) {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.String("slack.api_base", strings.TrimSpace(newCfg.Slack.APIBase)),
			logx.String("slack.timeout", strings.TrimSpace(newCfg.Slack.Timeout)),
		)
	}

	// Storage (path may be sensitive-ish; log presence only)
	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		(strings.TrimSpace(oldCfg.Storage.Path) != "") != (strings.TrimSpace(newCfg.Storage.Path) != "") ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Delivery
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.team_delay", strings.TrimSpace(newCfg.Delivery.TeamDelay)),
			logx.String("delivery.reply_delay", strings.TrimSpace(newCfg.Delivery.ReplyDelay)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
