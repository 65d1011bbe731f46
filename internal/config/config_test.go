package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"schedule": {"enabled": true, "at": "09:00", "timezone": "America/New_York"},
		"storage": {"driver": "sqlite", "path": "./bot.db"}
	}`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Schedule.At != "09:00" || cfg.Schedule.Timezone != "America/New_York" {
		t.Fatalf("schedule = %+v", cfg.Schedule)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
schedule:
  enabled: true
  at: "07:30"
newsletter:
  denylist: [hiring, sponsor]
delivery:
  team_delay: 1s
  reply_delay: 500ms
`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Schedule.At != "07:30" {
		t.Fatalf("schedule.at = %q", cfg.Schedule.At)
	}
	if len(cfg.Newsletter.Denylist) != 2 || cfg.Newsletter.Denylist[1] != "sponsor" {
		t.Fatalf("denylist = %+v", cfg.Newsletter.Denylist)
	}
	if cfg.Delivery.ReplyDelay != "500ms" {
		t.Fatalf("delivery = %+v", cfg.Delivery)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  verbosity: extreme
`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"level":"info"}}{"extra":1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"07:30", 7, 30, false},
		{"0:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{" 9:05 ", 9, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tc := range cases {
		h, m, err := ParseHHMM(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseHHMM(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHHMM(%q): %v", tc.in, err)
			continue
		}
		if h != tc.h || m != tc.m {
			t.Errorf("ParseHHMM(%q) = %d:%d, want %d:%d", tc.in, h, m, tc.h, tc.m)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Schedule: ScheduleConfig{Enabled: true, At: "09:00", Timezone: "UTC"},
		Storage:  StorageConfig{Driver: "sqlite", Path: "./bot.db"},
	}
	if err := Validate(valid); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad duration", func(c *Config) { c.Delivery.TeamDelay = "fast" }},
		{"negative duration", func(c *Config) { c.Slack.Timeout = "-5s" }},
		{"bad schedule time", func(c *Config) { c.Schedule.At = "25:00" }},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"bad newsletter url", func(c *Config) { c.Newsletter.URL = "not a url" }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "oracle" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *valid
			tc.mutate(&c)
			if err := Validate(&c); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSummarizeConfigChangeNeverLeaksToken(t *testing.T) {
	oldCfg := &Config{}
	newCfg := &Config{Server: ServerConfig{Enabled: true, Addr: "0.0.0.0:8080", Token: "sekret-token"}}

	sections, _ := SummarizeConfigChange(oldCfg, newCfg)
	found := false
	for _, s := range sections {
		if s == "server" {
			found = true
		}
		if strings.Contains(s, "sekret") {
			t.Fatalf("token leaked in section name %q", s)
		}
	}
	if !found {
		t.Fatalf("server change not detected: %v", sections)
	}
}

func TestLoadCommitGet(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"level":"warn"}}`)
	m := NewConfigManager(path)

	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}
