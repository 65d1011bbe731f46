package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"tldrbot/internal/delivery"
	"tldrbot/internal/slack"
	"tldrbot/internal/store"
	logx "tldrbot/pkg/logx"
)

const testMessage = "👋 Test message from the TLDR newsletter bot. If you can read this, delivery is wired up."

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"time": time.Now().UTC().Format(time.RFC3339),
	}
	if s.sched != nil {
		resp["scheduler"] = s.sched.Snapshot()
	}
	if last := s.getLastRun(); last != nil {
		resp["last_run"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCron triggers one delivery sweep. The coordinator is single-flight
// across the scheduled job and manual triggers; while any sweep is running
// this answers 409 rather than doubling up.
func (s *Service) handleCron(w http.ResponseWriter, r *http.Request) {
	sum, err := s.run.RunDaily(r.Context())
	if err != nil {
		if errors.Is(err, delivery.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.log.Error("manual run failed", logx.Err(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	s.setLastRun(sum)
	writeJSON(w, http.StatusOK, sum)
}

type channelsResponse struct {
	TeamID   string                   `json:"team_id"`
	Channels []store.CandidateChannel `json:"channels"`
}

// handleChannels lists the channels the bot can currently post to for one
// workspace and refreshes the stored candidate list for later selection.
func (s *Service) handleChannels(w http.ResponseWriter, r *http.Request) {
	teamID := strings.TrimSpace(r.URL.Query().Get("team_id"))
	if teamID == "" {
		writeError(w, http.StatusBadRequest, "team_id is required")
		return
	}

	ws, err := s.st.Get(r.Context(), teamID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !ws.HasBotToken() {
		writeError(w, http.StatusBadRequest, "workspace has no bot token; webhook-only workspaces have a fixed channel")
		return
	}

	live, err := s.api.ListMemberChannels(r.Context(), ws.BotToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, "listing channels: "+err.Error())
		return
	}

	cands := make([]store.CandidateChannel, 0, len(live))
	for _, ch := range live {
		cands = append(cands, store.CandidateChannel{ID: ch.ID, Name: ch.Name, IsPrivate: ch.IsPrivate})
	}
	if err := s.st.SetCandidates(r.Context(), teamID, cands); err != nil {
		s.log.Warn("candidate refresh failed", logx.String("team", ws.TeamName), logx.Err(err))
	}

	writeJSON(w, http.StatusOK, channelsResponse{TeamID: teamID, Channels: cands})
}

type setChannelRequest struct {
	TeamID    string `json:"team_id"`
	ChannelID string `json:"channel_id"`
}

// handleSetChannel pins the delivery channel for a workspace. The channel
// must be one the bot can actually post to; the stored candidate list is
// consulted first, the live membership as a fallback.
func (s *Service) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	var req setChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TeamID == "" || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "team_id and channel_id are required")
		return
	}

	ws, err := s.st.Get(r.Context(), req.TeamID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	chosen, ok := findCandidate(ws.Candidates, req.ChannelID)
	if !ok && ws.HasBotToken() {
		live, lerr := s.api.ListMemberChannels(r.Context(), ws.BotToken)
		if lerr != nil {
			writeError(w, http.StatusBadGateway, "listing channels: "+lerr.Error())
			return
		}
		for _, ch := range live {
			if ch.ID == req.ChannelID {
				chosen = store.CandidateChannel{ID: ch.ID, Name: ch.Name, IsPrivate: ch.IsPrivate}
				ok = true
				break
			}
		}
	}
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "channel is not available to the bot")
		return
	}

	if err := s.st.Activate(r.Context(), req.TeamID, chosen); err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("delivery channel pinned",
		logx.String("team", ws.TeamName),
		logx.String("channel", chosen.Name),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channel": chosen})
}

type testRequest struct {
	TeamID string `json:"team_id"`
	Text   string `json:"text,omitempty"`
}

// handleTest posts a one-off message to a workspace's resolved channel using
// its bot token, exercising the same resolution policy as the daily run.
func (s *Service) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TeamID == "" {
		writeError(w, http.StatusBadRequest, "team_id is required")
		return
	}
	text := req.Text
	if text == "" {
		text = testMessage
	}

	ws, err := s.st.Get(r.Context(), req.TeamID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !ws.HasBotToken() {
		writeError(w, http.StatusBadRequest, "workspace has no bot token; use /api/test-webhook")
		return
	}

	live, err := s.api.ListMemberChannels(r.Context(), ws.BotToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, "listing channels: "+err.Error())
		return
	}
	res, err := delivery.Resolve(ws, live)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if _, err := s.api.PostMessage(r.Context(), ws.BotToken, slack.MessageRequest{
		Channel: res.Channel.ID,
		Text:    text,
	}); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := s.st.StampDelivered(r.Context(), ws.TeamID, time.Now()); err != nil {
		s.log.Warn("stamping test delivery failed", logx.String("team", ws.TeamName), logx.Err(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"channel": res.Channel.Name,
	})
}

type testWebhookRequest struct {
	TeamID     string `json:"team_id,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Text       string `json:"text,omitempty"`
}

// handleTestWebhook posts a one-off message to an incoming webhook, either a
// workspace's stored webhook or an explicit URL.
func (s *Service) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var req testWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := req.Text
	if text == "" {
		text = testMessage
	}

	url := strings.TrimSpace(req.WebhookURL)
	if url == "" {
		if req.TeamID == "" {
			writeError(w, http.StatusBadRequest, "team_id or webhook_url is required")
			return
		}
		ws, err := s.st.Get(r.Context(), req.TeamID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if !ws.HasWebhook() {
			writeError(w, http.StatusBadRequest, "workspace has no webhook URL")
			return
		}
		url = ws.WebhookURL
	}

	if err := s.api.PostWebhook(r.Context(), url, text); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func findCandidate(chs []store.CandidateChannel, id string) (store.CandidateChannel, bool) {
	for _, ch := range chs {
		if ch.ID == id {
			return ch, true
		}
	}
	return store.CandidateChannel{}, false
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
