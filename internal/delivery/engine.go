package delivery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"tldrbot/internal/newsletter"
	"tldrbot/internal/slack"
	"tldrbot/internal/store"
	logx "tldrbot/pkg/logx"
)

// EngineConfig controls delivery pacing.
type EngineConfig struct {
	// ReplyDelay paces threaded follow-up posts. Default 500ms.
	ReplyDelay time.Duration
}

// Engine posts one rendered message set to one workspace and reconciles the
// stored channel assignment with what actually worked.
type Engine struct {
	api MessagingAPI
	st  store.Store
	log logx.Logger

	// replyLimiter spaces the threaded follow-ups (platform rate limit).
	replyLimiter *rate.Limiter
}

func NewEngine(api MessagingAPI, st store.Store, cfg EngineConfig, log logx.Logger) *Engine {
	delay := cfg.ReplyDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		api:          api,
		st:           st,
		log:          log,
		replyLimiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// Deliver posts msg to the workspace. For bot-credential workspaces it posts
// the primary message to the resolved channel (retrying alternate live
// channels on a membership error) and threads the sections under it. For
// webhook-only workspaces everything goes out as a single flat payload.
//
// On success the stored channel is rewritten when the resolution or the retry
// path changed it, and the last-delivery timestamp is stamped.
func (e *Engine) Deliver(ctx context.Context, ws store.Workspace, live []slack.Channel, res Resolution, msg newsletter.Message) Outcome {
	if !ws.HasBotToken() {
		return e.deliverWebhook(ctx, ws, msg)
	}

	target := res.Channel
	needsUpdate := res.NeedsUpdate

	post, err := e.api.PostMessage(ctx, ws.BotToken, slack.MessageRequest{
		Channel: target.ID,
		Text:    msg.Main,
	})
	if err != nil {
		ae, ok := slack.AsAPIError(err)
		if !ok || !ae.ChannelAccess() || len(live) < 2 {
			return failed(ws, err)
		}

		// The bot lost access to the resolved channel between listing and
		// posting, or membership state was stale. Walk the remaining live
		// channels in listed order until one takes the post.
		e.log.Warn("primary channel rejected post; trying alternatives",
			logx.String("team", ws.TeamName),
			logx.String("channel", target.Name),
			logx.String("code", string(ae.Code)),
		)
		post, target, err = e.retryAlternatives(ctx, ws, live, target, msg.Main)
		if err != nil {
			return failed(ws, err)
		}
		needsUpdate = true
	}

	e.sendThread(ctx, ws, target, post.TS, msg.Sections)
	e.reconcile(ctx, ws, target, needsUpdate)

	return Outcome{
		Team:    ws.TeamName,
		Success: true,
		Channel: target.Name,
		Updated: needsUpdate,
	}
}

func (e *Engine) deliverWebhook(ctx context.Context, ws store.Workspace, msg newsletter.Message) Outcome {
	if err := e.api.PostWebhook(ctx, ws.WebhookURL, newsletter.RenderFlat(msg)); err != nil {
		return failed(ws, err)
	}
	if err := e.st.StampDelivered(ctx, ws.TeamID, time.Now()); err != nil {
		e.log.Error("stamping delivery failed", logx.String("team", ws.TeamName), logx.Err(err))
	}
	return Outcome{Team: ws.TeamName, Success: true, Channel: ws.ChannelName}
}

// retryAlternatives posts text to each live channel except the one already
// tried, in listed order, returning on the first success.
func (e *Engine) retryAlternatives(ctx context.Context, ws store.Workspace, live []slack.Channel, tried slack.Channel, text string) (slack.PostResult, slack.Channel, error) {
	var lastErr error
	for _, ch := range live {
		if ch.ID == tried.ID {
			continue
		}
		post, err := e.api.PostMessage(ctx, ws.BotToken, slack.MessageRequest{Channel: ch.ID, Text: text})
		if err == nil {
			e.log.Info("posted to alternative channel",
				logx.String("team", ws.TeamName),
				logx.String("channel", ch.Name),
			)
			return post, ch, nil
		}
		lastErr = err
		if ae, ok := slack.AsAPIError(err); !ok || !ae.ChannelAccess() {
			// Non-membership failure: no point trying further channels.
			return slack.PostResult{}, slack.Channel{}, err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no alternative channel accepted the post")
	}
	return slack.PostResult{}, slack.Channel{}, lastErr
}

// sendThread posts the follow-up sections as threaded replies in document
// order. A failed reply is logged and does not abort the remaining ones.
func (e *Engine) sendThread(ctx context.Context, ws store.Workspace, target slack.Channel, threadTS string, sections []string) {
	for i, text := range sections {
		if err := e.replyLimiter.Wait(ctx); err != nil {
			e.log.Warn("thread pacing interrupted", logx.String("team", ws.TeamName), logx.Err(err))
			return
		}
		_, err := e.api.PostMessage(ctx, ws.BotToken, slack.MessageRequest{
			Channel:  target.ID,
			Text:     text,
			ThreadTS: threadTS,
		})
		if err != nil {
			e.log.Warn("thread reply failed",
				logx.String("team", ws.TeamName),
				logx.Int("reply", i+1),
				logx.Err(err),
			)
		}
	}
}

// reconcile writes back the channel assignment (when it changed) and the
// delivery timestamp. Persistence failures are logged but never turn a
// delivered message into a failed outcome.
func (e *Engine) reconcile(ctx context.Context, ws store.Workspace, target slack.Channel, needsUpdate bool) {
	if needsUpdate {
		if err := e.st.SetChannel(ctx, ws.TeamID, target.ID, target.Name); err != nil {
			e.log.Error("channel update failed",
				logx.String("team", ws.TeamName),
				logx.String("channel_id", target.ID),
				logx.Err(err),
			)
		} else {
			e.log.Info("stored channel updated",
				logx.String("team", ws.TeamName),
				logx.String("channel", target.Name),
			)
		}
	}
	if err := e.st.StampDelivered(ctx, ws.TeamID, time.Now()); err != nil {
		e.log.Error("stamping delivery failed", logx.String("team", ws.TeamName), logx.Err(err))
	}
}

func failed(ws store.Workspace, err error) Outcome {
	return Outcome{
		Team:  ws.TeamName,
		Error: err.Error(),
		err:   err,
	}
}
