package delivery

import (
	"errors"
	"testing"

	"tldrbot/internal/slack"
	"tldrbot/internal/store"
)

func TestResolve(t *testing.T) {
	live := []slack.Channel{
		{ID: "C1", Name: "general"},
		{ID: "C2", Name: "news"},
		{ID: "C3", Name: "random"},
	}

	cases := []struct {
		name        string
		ws          store.Workspace
		live        []slack.Channel
		wantID      string
		wantUpdate  bool
		wantErrNone bool
	}{
		{
			name:        "no live channels",
			ws:          store.Workspace{ChannelID: "C2"},
			live:        nil,
			wantErrNone: true,
		},
		{
			name:   "stored channel still live",
			ws:     store.Workspace{ChannelID: "C2"},
			live:   live,
			wantID: "C2",
		},
		{
			name:       "stored channel gone falls back to first",
			ws:         store.Workspace{ChannelID: "C9"},
			live:       live,
			wantID:     "C1",
			wantUpdate: true,
		},
		{
			name:       "no stored channel picks first",
			ws:         store.Workspace{},
			live:       live,
			wantID:     "C1",
			wantUpdate: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Resolve(tc.ws, tc.live)
			if tc.wantErrNone {
				if !errors.Is(err, ErrNoChannelAccess) {
					t.Fatalf("err = %v, want ErrNoChannelAccess", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.Channel.ID != tc.wantID {
				t.Fatalf("channel = %s, want %s", res.Channel.ID, tc.wantID)
			}
			if res.NeedsUpdate != tc.wantUpdate {
				t.Fatalf("needsUpdate = %v, want %v", res.NeedsUpdate, tc.wantUpdate)
			}
		})
	}
}
