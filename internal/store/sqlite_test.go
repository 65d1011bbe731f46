package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "tldrbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "bot.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestWorkspaceRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	w := Workspace{
		TeamID:      "T1",
		TeamName:    "acme",
		BotToken:    "xoxb-1",
		ChannelID:   "C1",
		ChannelName: "general",
		Active:      true,
		Candidates: []CandidateChannel{
			{ID: "C1", Name: "general"},
			{ID: "C2", Name: "news", IsPrivate: true},
		},
	}
	if err := st.Upsert(ctx, w); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := st.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TeamName != "acme" || got.BotToken != "xoxb-1" || !got.Active {
		t.Fatalf("got = %+v", got)
	}
	if len(got.Candidates) != 2 || got.Candidates[1].Name != "news" || !got.Candidates[1].IsPrivate {
		t.Fatalf("candidates = %+v", got.Candidates)
	}
	if got.InstalledAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", got)
	}
	if !got.LastPostedAt.IsZero() {
		t.Fatalf("last_posted_at should be zero, got %v", got.LastPostedAt)
	}

	// Upsert again keeps the row keyed by team id.
	w.TeamName = "acme corp"
	if err := st.Upsert(ctx, w); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	got, err = st.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TeamName != "acme corp" {
		t.Fatalf("team name = %q after upsert", got.TeamName)
	}
}

func TestGetMissing(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListEligible(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	seed := []Workspace{
		{TeamID: "T1", TeamName: "first", BotToken: "xoxb-1", Active: true, InstalledAt: base},
		{TeamID: "T2", TeamName: "webhook", WebhookURL: "https://hooks.test/T2", Active: true, InstalledAt: base.Add(time.Minute)},
		{TeamID: "T3", TeamName: "inactive", BotToken: "xoxb-3", Active: false, InstalledAt: base.Add(2 * time.Minute)},
		{TeamID: "T4", TeamName: "no transport", Active: true, InstalledAt: base.Add(3 * time.Minute)},
	}
	for _, w := range seed {
		if err := st.Upsert(ctx, w); err != nil {
			t.Fatalf("Upsert %s: %v", w.TeamID, err)
		}
	}

	got, err := st.ListEligible(ctx)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("eligible = %d, want 2: %+v", len(got), got)
	}
	// Stable order: installation time.
	if got[0].TeamID != "T1" || got[1].TeamID != "T2" {
		t.Fatalf("order = %s,%s", got[0].TeamID, got[1].TeamID)
	}
}

func TestChannelLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	w := Workspace{
		TeamID:   "T1",
		TeamName: "acme",
		BotToken: "xoxb-1",
		Active:   true,
		Candidates: []CandidateChannel{
			{ID: "C1", Name: "general"},
			{ID: "C2", Name: "news"},
		},
	}
	if err := st.Upsert(ctx, w); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Activate pins the channel and clears the candidate list.
	if err := st.Activate(ctx, "T1", CandidateChannel{ID: "C2", Name: "news"}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	got, err := st.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ChannelID != "C2" || got.ChannelName != "news" || !got.Active {
		t.Fatalf("after activate: %+v", got)
	}
	if len(got.Candidates) != 0 {
		t.Fatalf("candidates not cleared: %+v", got.Candidates)
	}

	// SetChannel rewrites the assignment (delivery fallback path).
	if err := st.SetChannel(ctx, "T1", "C9", "fallback"); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	// StampDelivered records the delivery time.
	at := time.Now()
	if err := st.StampDelivered(ctx, "T1", at); err != nil {
		t.Fatalf("StampDelivered: %v", err)
	}
	got, _ = st.Get(ctx, "T1")
	if got.ChannelID != "C9" || got.ChannelName != "fallback" {
		t.Fatalf("after set channel: %+v", got)
	}
	if got.LastPostedAt.IsZero() || got.LastPostedAt.Sub(at).Abs() > time.Second {
		t.Fatalf("last_posted_at = %v", got.LastPostedAt)
	}

	// Deactivate clears the assignment so reactivation requires a new choice.
	if err := st.Deactivate(ctx, "T1"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, _ = st.Get(ctx, "T1")
	if got.Active || got.ChannelID != "" || got.ChannelName != "" {
		t.Fatalf("after deactivate: %+v", got)
	}

	eligible, err := st.ListEligible(ctx)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("deactivated workspace still eligible: %+v", eligible)
	}
}

func TestMutationsOnMissingWorkspace(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SetChannel(ctx, "nope", "C1", "general"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetChannel err = %v, want ErrNotFound", err)
	}
	if err := st.StampDelivered(ctx, "nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StampDelivered err = %v, want ErrNotFound", err)
	}
	if err := st.Deactivate(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Deactivate err = %v, want ErrNotFound", err)
	}
}
