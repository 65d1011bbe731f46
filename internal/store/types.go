package store

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("workspace not found")

// Config configures workspace persistence.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled (Open returns nil, nil).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CandidateChannel is one entry of the pending-selection list written during
// onboarding when the bot was granted more than one channel.
type CandidateChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// Workspace is one registered team receiving deliveries.
//
// Lifecycle: created on successful authorization; channel fields mutated by
// onboarding or by the delivery run; Active flipped to false on unrecoverable
// permission failure. Rows are never hard-deleted here.
type Workspace struct {
	TeamID      string
	TeamName    string
	BotToken    string
	WebhookURL  string
	ChannelID   string
	ChannelName string
	Active      bool
	Candidates  []CandidateChannel

	InstalledAt  time.Time
	UpdatedAt    time.Time
	LastPostedAt time.Time // zero when never delivered
}

func (w Workspace) HasBotToken() bool { return strings.TrimSpace(w.BotToken) != "" }
func (w Workspace) HasWebhook() bool  { return strings.TrimSpace(w.WebhookURL) != "" }

// HasTransport reports whether the workspace can be delivered to at all.
func (w Workspace) HasTransport() bool { return w.HasBotToken() || w.HasWebhook() }
