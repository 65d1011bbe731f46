package delivery

import (
	"context"
	"fmt"
	"time"

	"tldrbot/internal/newsletter"
	"tldrbot/internal/slack"
	"tldrbot/internal/store"
)

type postCall struct {
	token   string
	msg     slack.MessageRequest
	channel string
}

type webhookCall struct {
	url  string
	text string
}

// fakeAPI scripts the messaging surface: per-token channel lists and
// per-channel post errors.
type fakeAPI struct {
	channels map[string][]slack.Channel // token -> live channels
	listErr  error

	postErr    map[string]error // channel ID -> error for every post
	webhookErr error

	posts    []postCall
	webhooks []webhookCall
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		channels: map[string][]slack.Channel{},
		postErr:  map[string]error{},
	}
}

func (f *fakeAPI) ListMemberChannels(_ context.Context, token string) ([]slack.Channel, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.channels[token], nil
}

func (f *fakeAPI) PostMessage(_ context.Context, token string, msg slack.MessageRequest) (slack.PostResult, error) {
	f.posts = append(f.posts, postCall{token: token, msg: msg, channel: msg.Channel})
	if err := f.postErr[msg.Channel]; err != nil {
		return slack.PostResult{}, err
	}
	return slack.PostResult{TS: fmt.Sprintf("ts-%d", len(f.posts)), Channel: msg.Channel}, nil
}

func (f *fakeAPI) PostWebhook(_ context.Context, url, text string) error {
	f.webhooks = append(f.webhooks, webhookCall{url: url, text: text})
	return f.webhookErr
}

// mainPosts returns the non-threaded posts in order.
func (f *fakeAPI) mainPosts() []postCall {
	var out []postCall
	for _, p := range f.posts {
		if p.msg.ThreadTS == "" {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeAPI) threadPosts() []postCall {
	var out []postCall
	for _, p := range f.posts {
		if p.msg.ThreadTS != "" {
			out = append(out, p)
		}
	}
	return out
}

// fakeStore is an in-memory store.Store recording mutations.
type fakeStore struct {
	workspaces []store.Workspace

	setChannel  map[string]string // team -> channel ID
	stamped     map[string]int    // team -> StampDelivered calls
	deactivated map[string]bool

	deactivateErr error
	setChannelErr error
}

func newFakeStore(ws ...store.Workspace) *fakeStore {
	return &fakeStore{
		workspaces:  ws,
		setChannel:  map[string]string{},
		stamped:     map[string]int{},
		deactivated: map[string]bool{},
	}
}

func (f *fakeStore) ListEligible(context.Context) ([]store.Workspace, error) {
	var out []store.Workspace
	for _, w := range f.workspaces {
		if w.Active && w.HasTransport() && !f.deactivated[w.TeamID] {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, teamID string) (store.Workspace, error) {
	for _, w := range f.workspaces {
		if w.TeamID == teamID {
			return w, nil
		}
	}
	return store.Workspace{}, store.ErrNotFound
}

func (f *fakeStore) Upsert(_ context.Context, w store.Workspace) error {
	for i := range f.workspaces {
		if f.workspaces[i].TeamID == w.TeamID {
			f.workspaces[i] = w
			return nil
		}
	}
	f.workspaces = append(f.workspaces, w)
	return nil
}

func (f *fakeStore) SetChannel(_ context.Context, teamID, channelID, _ string) error {
	if f.setChannelErr != nil {
		return f.setChannelErr
	}
	f.setChannel[teamID] = channelID
	return nil
}

func (f *fakeStore) SetCandidates(_ context.Context, _ string, _ []store.CandidateChannel) error {
	return nil
}

func (f *fakeStore) Activate(_ context.Context, teamID string, ch store.CandidateChannel) error {
	f.setChannel[teamID] = ch.ID
	return nil
}

func (f *fakeStore) StampDelivered(_ context.Context, teamID string, _ time.Time) error {
	f.stamped[teamID]++
	return nil
}

func (f *fakeStore) Deactivate(_ context.Context, teamID string) error {
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivated[teamID] = true
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeFetch serves a fixed document or error.
type fakeFetch struct {
	doc *newsletter.Document
	err error
}

func (f *fakeFetch) Fetch(context.Context) (*newsletter.Document, error) {
	return f.doc, f.err
}

func testDoc() *newsletter.Document {
	return &newsletter.Document{
		Date:  "2026-08-28",
		Title: "Test issue",
		Sections: []newsletter.Section{
			{Name: "News", Articles: []newsletter.Article{
				{Title: "A", Link: "https://x.test/a", Description: "a"},
				{Title: "B", Link: "https://x.test/b", Description: "b"},
			}},
			{Name: "Science", Articles: []newsletter.Article{
				{Title: "C", Link: "https://x.test/c", Description: "c"},
			}},
		},
	}
}

func apiErr(method string, code slack.ErrorCode) *slack.APIError {
	return &slack.APIError{Method: method, Code: code, Raw: string(code)}
}
