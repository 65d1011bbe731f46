// Package slack is a thin client for the workspace messaging API.
//
// It covers exactly the three calls the delivery core needs: listing the
// channels the bot belongs to, posting a (possibly threaded) message with a
// bot token, and posting to an incoming webhook. API-level failures surface
// as *APIError with a closed code set; transport failures as plain errors.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "tldrbot/pkg/logx"
)

const (
	// DefaultAPIBase is the production API endpoint.
	DefaultAPIBase = "https://slack.com/api"

	// botUsername is the display name attached to posted messages.
	botUsername = "TLDR Newsletter Bot"

	// conversationsLimit caps one page of users.conversations.
	// Workspaces funnel the bot into one or a handful of channels, so a
	// single page is plenty and we skip cursor pagination.
	conversationsLimit = 200
)

type Client struct {
	base string
	hc   *http.Client
	log  logx.Logger
}

// New creates a client. base may be empty for the production endpoint.
func New(base string, timeout time.Duration, log logx.Logger) *Client {
	b := strings.TrimRight(strings.TrimSpace(base), "/")
	if b == "" {
		b = DefaultAPIBase
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: b,
		hc:   &http.Client{Timeout: timeout},
		log:  log,
	}
}

type conversationsResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error"`
	Channels []Channel `json:"channels"`
}

// ListMemberChannels returns the live channel set for a bot token: channels
// where the bot currently holds membership, excluding archived conversations
// and direct/group-direct chats. Order is as returned by the API
// (most-recently-active first).
func (c *Client) ListMemberChannels(ctx context.Context, token string) ([]Channel, error) {
	u := c.base + "/users.conversations?types=public_channel,private_channel&limit=" + fmt.Sprint(conversationsLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var out conversationsResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("users.conversations: %w", err)
	}
	if !out.OK {
		return nil, &APIError{Method: "users.conversations", Code: codeFromString(out.Error), Raw: out.Error}
	}

	live := make([]Channel, 0, len(out.Channels))
	for _, ch := range out.Channels {
		if ch.IsArchived || !ch.IsMember || ch.IsIM || ch.IsMPIM {
			continue
		}
		live = append(live, ch)
	}
	c.log.Debug("listed member channels",
		logx.Int("total", len(out.Channels)),
		logx.Int("live", len(live)),
	)
	return live, nil
}

type postMessageRequest struct {
	Channel     string `json:"channel"`
	Text        string `json:"text"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	UnfurlLinks bool   `json:"unfurl_links"`
	UnfurlMedia bool   `json:"unfurl_media"`
	Username    string `json:"username"`
}

type postMessageResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

// PostMessage posts one message with a bot token. Set msg.ThreadTS to reply
// in a thread.
func (c *Client) PostMessage(ctx context.Context, token string, msg MessageRequest) (PostResult, error) {
	body, err := json.Marshal(postMessageRequest{
		Channel:     msg.Channel,
		Text:        msg.Text,
		ThreadTS:    msg.ThreadTS,
		UnfurlLinks: false,
		UnfurlMedia: false,
		Username:    botUsername,
	})
	if err != nil {
		return PostResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return PostResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var out postMessageResponse
	if err := c.do(req, &out); err != nil {
		return PostResult{}, fmt.Errorf("chat.postMessage: %w", err)
	}
	if !out.OK {
		return PostResult{}, &APIError{Method: "chat.postMessage", Code: codeFromString(out.Error), Raw: out.Error}
	}
	return PostResult{TS: out.TS, Channel: out.Channel}, nil
}

type webhookRequest struct {
	Text        string `json:"text"`
	Username    string `json:"username"`
	UnfurlLinks bool   `json:"unfurl_links"`
	UnfurlMedia bool   `json:"unfurl_media"`
}

// PostWebhook posts text to an incoming webhook URL. Webhooks cannot list
// channels or thread; the channel is fixed at webhook creation time.
func (c *Client) PostWebhook(ctx context.Context, url, text string) error {
	body, err := json.Marshal(webhookRequest{
		Text:        text,
		Username:    botUsername,
		UnfurlLinks: false,
		UnfurlMedia: false,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
