// Package store persists workspace registrations between runs.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tldrbot/pkg/logx"
)

// Store is the persistence API consumed by delivery and the admin surface.
type Store interface {
	// ListEligible returns active workspaces that have at least one usable
	// transport, in stable listing order.
	ListEligible(ctx context.Context) ([]Workspace, error)

	// Get returns one workspace or ErrNotFound.
	Get(ctx context.Context, teamID string) (Workspace, error)

	// Upsert inserts or replaces a workspace record keyed by team id.
	Upsert(ctx context.Context, w Workspace) error

	// SetChannel overwrites the stored channel assignment.
	SetChannel(ctx context.Context, teamID, channelID, channelName string) error

	// SetCandidates stores the pending-selection channel list (onboarding).
	SetCandidates(ctx context.Context, teamID string, chs []CandidateChannel) error

	// Activate assigns the chosen channel, marks the workspace active and
	// clears the candidate list.
	Activate(ctx context.Context, teamID string, ch CandidateChannel) error

	// StampDelivered records a successful delivery time.
	StampDelivered(ctx context.Context, teamID string, at time.Time) error

	// Deactivate marks the workspace ineligible and clears its channel so a
	// future reinstall/re-invite is required before re-eligibility.
	Deactivate(ctx context.Context, teamID string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
