package delivery

import (
	"errors"

	"tldrbot/internal/slack"
	"tldrbot/internal/store"
)

// ErrNoChannelAccess means the bot holds membership in no channel at all.
// The workspace stays active; it just needs an invite, not a reinstall.
var ErrNoChannelAccess = errors.New("bot not invited to any channels; invite the bot to a channel first")

// Resolution is the resolver's verdict for one workspace.
type Resolution struct {
	Channel slack.Channel

	// NeedsUpdate is set when the stored assignment was stale and the stored
	// channel fields should be rewritten after a successful post.
	NeedsUpdate bool
}

// Resolve picks the delivery target from the live channel set.
//
// Policy, in order:
//  1. no live channels → ErrNoChannelAccess
//  2. stored channel still live → keep it
//  3. first live channel (API order: most recently active first) as a
//     deterministic fallback; staleness is self-healing, not an error
func Resolve(ws store.Workspace, live []slack.Channel) (Resolution, error) {
	if len(live) == 0 {
		return Resolution{}, ErrNoChannelAccess
	}

	if ws.ChannelID != "" {
		for _, ch := range live {
			if ch.ID == ws.ChannelID {
				return Resolution{Channel: ch}, nil
			}
		}
	}

	return Resolution{Channel: live[0], NeedsUpdate: true}, nil
}
