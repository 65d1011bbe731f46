// Package delivery holds the daily fan-out core: channel resolution, message
// delivery with membership-error recovery, and the per-run sweep across all
// eligible workspaces.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tldrbot/internal/newsletter"
	"tldrbot/internal/slack"
	"tldrbot/internal/store"
	logx "tldrbot/pkg/logx"
)

// ErrRunInProgress is returned when a sweep is requested while another one
// is still running. The scheduled job and the manual trigger share one
// coordinator, so this guards both entry points.
var ErrRunInProgress = errors.New("a delivery run is already in progress")

// CoordinatorConfig controls the run sweep.
type CoordinatorConfig struct {
	// TeamDelay paces iterations between workspaces. Default 1s.
	TeamDelay time.Duration
}

// Coordinator runs the daily job: one content fetch, then a strictly
// sequential delivery attempt per eligible workspace.
type Coordinator struct {
	st     store.Store
	fetch  ContentSource
	api    MessagingAPI
	engine *Engine
	log    logx.Logger

	// runMu makes sweeps single-flight regardless of the trigger.
	runMu sync.Mutex

	// teamLimiter smooths rate-limit pressure across workspaces.
	teamLimiter *rate.Limiter
}

func NewCoordinator(st store.Store, fetch ContentSource, api MessagingAPI, engine *Engine, cfg CoordinatorConfig, log logx.Logger) *Coordinator {
	delay := cfg.TeamDelay
	if delay <= 0 {
		delay = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		st:          st,
		fetch:       fetch,
		api:         api,
		engine:      engine,
		log:         log,
		teamLimiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// RunDaily executes one full sweep and returns its summary. At most one
// sweep runs at a time; a concurrent call returns ErrRunInProgress.
//
// Only a content failure aborts the run (there is nothing to deliver);
// per-workspace failures are contained and reported in the summary.
// Workspaces whose failure is a permanent permission problem are demoted so
// they require a reinstall/re-invite before the next run picks them up.
func (c *Coordinator) RunDaily(ctx context.Context) (Summary, error) {
	if !c.runMu.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer c.runMu.Unlock()

	started := time.Now()
	c.log.Info("daily delivery run started")

	doc, err := c.fetch.Fetch(ctx)
	if err != nil {
		c.log.Error("content fetch failed; aborting run", logx.Err(err))
		return Summary{}, err
	}
	msg := newsletter.Render(doc)

	teams, err := c.st.ListEligible(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing workspaces: %w", err)
	}
	c.log.Info("eligible workspaces loaded", logx.Int("count", len(teams)))

	sum := Summary{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}

	for i, ws := range teams {
		if i > 0 {
			if err := c.teamLimiter.Wait(ctx); err != nil {
				c.log.Warn("run interrupted", logx.Err(err), logx.Int("delivered", len(sum.Results)))
				break
			}
		}

		out := c.deliverOne(ctx, ws, msg)
		if out.Success {
			c.log.Info("delivered",
				logx.String("team", ws.TeamName),
				logx.String("channel", out.Channel),
				logx.Bool("channel_updated", out.Updated),
			)
		} else {
			c.log.Warn("delivery failed",
				logx.String("team", ws.TeamName),
				logx.String("err", out.Error),
			)
			if demotable(out.err) {
				if derr := c.st.Deactivate(ctx, ws.TeamID); derr != nil {
					c.log.Error("deactivation failed", logx.String("team", ws.TeamName), logx.Err(derr))
				}
			}
		}
		sum.Results = append(sum.Results, out)
	}

	sum.TeamsProcessed = len(sum.Results)
	for _, r := range sum.Results {
		if r.Success {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}
	sum.Success = true
	sum.FinishedAt = time.Now()

	c.log.Info("daily delivery run finished",
		logx.String("run_id", sum.RunID),
		logx.Int("processed", sum.TeamsProcessed),
		logx.Int("successful", sum.Successful),
		logx.Int("failed", sum.Failed),
		logx.Duration("took", sum.FinishedAt.Sub(started)),
	)
	return sum, nil
}

func (c *Coordinator) deliverOne(ctx context.Context, ws store.Workspace, msg newsletter.Message) Outcome {
	// Webhook-only workspaces have a fixed destination; no channel listing.
	if !ws.HasBotToken() {
		return c.engine.Deliver(ctx, ws, nil, Resolution{}, msg)
	}

	live, err := c.api.ListMemberChannels(ctx, ws.BotToken)
	if err != nil {
		return failed(ws, fmt.Errorf("listing channels: %w", err))
	}

	res, err := Resolve(ws, live)
	if err != nil {
		return failed(ws, err)
	}
	if res.NeedsUpdate && ws.ChannelID != "" {
		c.log.Warn("stored channel no longer live; falling back",
			logx.String("team", ws.TeamName),
			logx.String("stored_channel_id", ws.ChannelID),
			logx.String("fallback", res.Channel.Name),
		)
	}

	return c.engine.Deliver(ctx, ws, live, res, msg)
}

// demotable reports whether a failure is a permanent permission problem:
// either the credential is dead, or membership errors persisted through the
// resolver and the alternate-channel retries. A missing invite
// (ErrNoChannelAccess) is recoverable and never demotes.
func demotable(err error) bool {
	ae, ok := slack.AsAPIError(err)
	if !ok {
		return false
	}
	return ae.PermissionRevoked() || ae.ChannelAccess()
}
