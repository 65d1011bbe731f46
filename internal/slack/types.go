package slack

// Channel is one conversation the bot can see.
// Fetched per run and never persisted; only the chosen id/name pair is
// written back onto the workspace record.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsMember   bool   `json:"is_member"`
	IsArchived bool   `json:"is_archived"`
	IsIM       bool   `json:"is_im"`
	IsMPIM     bool   `json:"is_mpim"`
}

// MessageRequest is one chat.postMessage call.
type MessageRequest struct {
	Channel  string
	Text     string
	ThreadTS string
}

// PostResult carries the fields of a successful post we care about.
type PostResult struct {
	TS      string
	Channel string
}
