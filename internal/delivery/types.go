package delivery

import (
	"context"
	"time"

	"tldrbot/internal/newsletter"
	"tldrbot/internal/slack"
)

// MessagingAPI is the platform surface the delivery core consumes.
// *slack.Client satisfies it; tests substitute fakes.
type MessagingAPI interface {
	ListMemberChannels(ctx context.Context, token string) ([]slack.Channel, error)
	PostMessage(ctx context.Context, token string, msg slack.MessageRequest) (slack.PostResult, error)
	PostWebhook(ctx context.Context, url, text string) error
}

// ContentSource produces the day's document. *newsletter.Fetcher satisfies it.
type ContentSource interface {
	Fetch(ctx context.Context) (*newsletter.Document, error)
}

// Outcome is the per-workspace result of one delivery attempt.
type Outcome struct {
	Team    string `json:"team"`
	Success bool   `json:"success"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
	Updated bool   `json:"updated,omitempty"`

	// err retains the typed cause for the coordinator's demotion decision.
	err error
}

// Summary is the run report returned to the trigger surface. It always lists
// one outcome per attempted workspace.
type Summary struct {
	RunID          string    `json:"run_id"`
	Success        bool      `json:"success"`
	TeamsProcessed int       `json:"teams_processed"`
	Successful     int       `json:"successful"`
	Failed         int       `json:"failed"`
	Results        []Outcome `json:"results"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
