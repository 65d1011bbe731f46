package delivery

import (
	"context"
	"testing"
	"time"

	"tldrbot/internal/newsletter"
	"tldrbot/internal/slack"
	"tldrbot/internal/store"
	logx "tldrbot/pkg/logx"
)

func testEngine(api MessagingAPI, st store.Store) *Engine {
	// 1ns pacing keeps tests fast without changing the code path.
	return NewEngine(api, st, EngineConfig{ReplyDelay: time.Nanosecond}, logx.Nop())
}

func botWorkspace() store.Workspace {
	return store.Workspace{
		TeamID:      "T1",
		TeamName:    "acme",
		BotToken:    "xoxb-1",
		ChannelID:   "C1",
		ChannelName: "general",
		Active:      true,
	}
}

func TestDeliverPostsMainAndThreads(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()
	e := testEngine(api, st)

	ws := botWorkspace()
	live := []slack.Channel{{ID: "C1", Name: "general"}}
	msg := newsletter.Render(testDoc())

	out := e.Deliver(context.Background(), ws, live, Resolution{Channel: live[0]}, msg)
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Channel != "general" || out.Updated {
		t.Fatalf("outcome = %+v", out)
	}

	mains := api.mainPosts()
	if len(mains) != 1 || mains[0].channel != "C1" || mains[0].msg.Text != msg.Main {
		t.Fatalf("main posts = %+v", mains)
	}

	threads := api.threadPosts()
	if len(threads) != len(msg.Sections) {
		t.Fatalf("thread posts = %d, want %d", len(threads), len(msg.Sections))
	}
	for i, p := range threads {
		if p.msg.ThreadTS != "ts-1" {
			t.Fatalf("reply %d not threaded under main post: %+v", i, p.msg)
		}
		if p.msg.Text != msg.Sections[i] {
			t.Fatalf("reply %d out of order", i)
		}
	}

	if st.stamped["T1"] == 0 {
		t.Fatal("delivery not stamped")
	}
	if _, ok := st.setChannel["T1"]; ok {
		t.Fatal("channel rewritten without a change")
	}
}

func TestDeliverTwiceRepostsWithoutSuppression(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()
	e := testEngine(api, st)

	ws := botWorkspace()
	live := []slack.Channel{{ID: "C1", Name: "general"}}
	msg := newsletter.Render(testDoc())

	// The same issue delivered twice to the same channel produces two
	// independent posts. There is no dedup layer; re-running a day is the
	// operator's call and both messages land.
	for i := 0; i < 2; i++ {
		out := e.Deliver(context.Background(), ws, live, Resolution{Channel: live[0]}, msg)
		if !out.Success {
			t.Fatalf("delivery %d: outcome = %+v", i, out)
		}
	}

	mains := api.mainPosts()
	if len(mains) != 2 {
		t.Fatalf("main posts = %d, want 2", len(mains))
	}
	for i, p := range mains {
		if p.channel != "C1" || p.msg.Text != msg.Main {
			t.Fatalf("post %d = %+v", i, p)
		}
	}
	if got := len(api.threadPosts()); got != 2*len(msg.Sections) {
		t.Fatalf("thread posts = %d, want %d", got, 2*len(msg.Sections))
	}
	if st.stamped["T1"] != 2 {
		t.Fatalf("stamp calls = %d, want 2", st.stamped["T1"])
	}
}

func TestDeliverRetriesAlternativesInListedOrder(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()
	e := testEngine(api, st)

	ws := botWorkspace()
	live := []slack.Channel{
		{ID: "C1", Name: "general"},
		{ID: "C2", Name: "news"},
		{ID: "C3", Name: "random"},
	}
	api.postErr["C1"] = apiErr("chat.postMessage", slack.CodeNotInChannel)
	api.postErr["C2"] = apiErr("chat.postMessage", slack.CodeIsArchived)

	msg := newsletter.Render(testDoc())
	out := e.Deliver(context.Background(), ws, live, Resolution{Channel: live[0]}, msg)

	if !out.Success || out.Channel != "random" || !out.Updated {
		t.Fatalf("outcome = %+v", out)
	}

	mains := api.mainPosts()
	want := []string{"C1", "C2", "C3"}
	if len(mains) != len(want) {
		t.Fatalf("attempts = %d, want %d", len(mains), len(want))
	}
	for i, p := range mains {
		if p.channel != want[i] {
			t.Fatalf("attempt %d hit %s, want %s", i, p.channel, want[i])
		}
	}

	if st.setChannel["T1"] != "C3" {
		t.Fatalf("stored channel = %q, want C3", st.setChannel["T1"])
	}
	if st.stamped["T1"] == 0 {
		t.Fatal("delivery not stamped")
	}
}

func TestDeliverRetryStopsOnNonMembershipError(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()
	e := testEngine(api, st)

	ws := botWorkspace()
	live := []slack.Channel{
		{ID: "C1", Name: "general"},
		{ID: "C2", Name: "news"},
		{ID: "C3", Name: "random"},
	}
	api.postErr["C1"] = apiErr("chat.postMessage", slack.CodeNotInChannel)
	api.postErr["C2"] = apiErr("chat.postMessage", slack.CodeInvalidAuth)

	out := e.Deliver(context.Background(), ws, live, Resolution{Channel: live[0]}, newsletter.Render(testDoc()))
	if out.Success {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	// C3 must not be attempted after the credential error on C2.
	if got := len(api.mainPosts()); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if st.stamped["T1"] != 0 {
		t.Fatal("failed delivery was stamped")
	}
}

func TestDeliverNoRetryWithSingleChannel(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()
	e := testEngine(api, st)

	ws := botWorkspace()
	live := []slack.Channel{{ID: "C1", Name: "general"}}
	api.postErr["C1"] = apiErr("chat.postMessage", slack.CodeNotInChannel)

	out := e.Deliver(context.Background(), ws, live, Resolution{Channel: live[0]}, newsletter.Render(testDoc()))
	if out.Success {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	if got := len(api.mainPosts()); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestDeliverThreadFailureDoesNotFailOutcome(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()

	ws := botWorkspace()
	live := []slack.Channel{{ID: "C1", Name: "general"}}
	msg := newsletter.Render(testDoc())

	// First post (the main message) succeeds, every threaded reply fails.
	e := testEngine(&failAfterFirst{fakeAPI: api}, st)

	out := e.Deliver(context.Background(), ws, live, Resolution{Channel: live[0]}, msg)
	if !out.Success {
		t.Fatalf("outcome = %+v, want success despite thread failures", out)
	}
	if st.stamped["T1"] == 0 {
		t.Fatal("delivery not stamped")
	}
}

// failAfterFirst lets the first post succeed and fails the rest.
type failAfterFirst struct {
	*fakeAPI
	n int
}

func (f *failAfterFirst) PostMessage(ctx context.Context, token string, msg slack.MessageRequest) (slack.PostResult, error) {
	f.n++
	if f.n > 1 {
		return slack.PostResult{}, apiErr("chat.postMessage", slack.CodeRateLimited)
	}
	return f.fakeAPI.PostMessage(ctx, token, msg)
}

func TestDeliverWebhookOnly(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()
	e := testEngine(api, st)

	ws := store.Workspace{
		TeamID:      "T2",
		TeamName:    "hooked",
		WebhookURL:  "https://hooks.test/T2",
		ChannelName: "announcements",
		Active:      true,
	}
	msg := newsletter.Render(testDoc())

	out := e.Deliver(context.Background(), ws, nil, Resolution{}, msg)
	if !out.Success || out.Channel != "announcements" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(api.webhooks) != 1 {
		t.Fatalf("webhook calls = %d", len(api.webhooks))
	}
	if api.webhooks[0].url != ws.WebhookURL {
		t.Fatalf("webhook url = %q", api.webhooks[0].url)
	}
	if api.webhooks[0].text != newsletter.RenderFlat(msg) {
		t.Fatalf("webhook payload = %q", api.webhooks[0].text)
	}
	if len(api.posts) != 0 {
		t.Fatalf("unexpected API posts: %+v", api.posts)
	}
	if st.stamped["T2"] == 0 {
		t.Fatal("delivery not stamped")
	}
}

func TestDeliverPersistenceFailureKeepsSuccess(t *testing.T) {
	api := newFakeAPI()
	st := newFakeStore()
	st.setChannelErr = context.DeadlineExceeded
	e := testEngine(api, st)

	ws := botWorkspace()
	live := []slack.Channel{{ID: "C2", Name: "news"}}

	out := e.Deliver(context.Background(), ws, live, Resolution{Channel: live[0], NeedsUpdate: true}, newsletter.Render(testDoc()))
	if !out.Success {
		t.Fatalf("outcome = %+v, want success despite channel-update failure", out)
	}
}
