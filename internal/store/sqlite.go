package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tldrbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const workspaceColumns = `team_id, team_name, bot_token, webhook_url, channel_id, channel_name,
	is_active, candidate_channels, installed_at, updated_at, last_posted_at`

func (s *sqliteStore) ListEligible(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workspaceColumns+`
		 FROM workspaces
		 WHERE is_active = 1
		   AND (COALESCE(bot_token, '') != '' OR COALESCE(webhook_url, '') != '')
		 ORDER BY installed_at, team_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, teamID string) (Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE team_id = ?`, teamID)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	return w, err
}

func (s *sqliteStore) Upsert(ctx context.Context, w Workspace) error {
	now := time.Now()
	if w.InstalledAt.IsZero() {
		w.InstalledAt = now
	}
	candidates, err := marshalCandidates(w.Candidates)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspaces(`+workspaceColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(team_id) DO UPDATE SET
		   team_name = excluded.team_name,
		   bot_token = excluded.bot_token,
		   webhook_url = excluded.webhook_url,
		   channel_id = excluded.channel_id,
		   channel_name = excluded.channel_name,
		   is_active = excluded.is_active,
		   candidate_channels = excluded.candidate_channels,
		   updated_at = excluded.updated_at`,
		w.TeamID, w.TeamName, nullStr(w.BotToken), nullStr(w.WebhookURL),
		nullStr(w.ChannelID), nullStr(w.ChannelName), boolInt(w.Active), candidates,
		fmtTime(w.InstalledAt), fmtTime(now), nullTime(w.LastPostedAt),
	)
	if err == nil {
		s.log.Debug("workspace upserted", logx.String("team_id", w.TeamID), logx.Bool("active", w.Active))
	}
	return err
}

func (s *sqliteStore) SetChannel(ctx context.Context, teamID, channelID, channelName string) error {
	return s.exec(ctx, teamID,
		`UPDATE workspaces SET channel_id = ?, channel_name = ?, updated_at = ? WHERE team_id = ?`,
		nullStr(channelID), nullStr(channelName), fmtTime(time.Now()), teamID)
}

func (s *sqliteStore) SetCandidates(ctx context.Context, teamID string, chs []CandidateChannel) error {
	candidates, err := marshalCandidates(chs)
	if err != nil {
		return err
	}
	return s.exec(ctx, teamID,
		`UPDATE workspaces SET candidate_channels = ?, updated_at = ? WHERE team_id = ?`,
		candidates, fmtTime(time.Now()), teamID)
}

func (s *sqliteStore) Activate(ctx context.Context, teamID string, ch CandidateChannel) error {
	return s.exec(ctx, teamID,
		`UPDATE workspaces
		 SET channel_id = ?, channel_name = ?, is_active = 1, candidate_channels = NULL, updated_at = ?
		 WHERE team_id = ?`,
		ch.ID, ch.Name, fmtTime(time.Now()), teamID)
}

func (s *sqliteStore) StampDelivered(ctx context.Context, teamID string, at time.Time) error {
	return s.exec(ctx, teamID,
		`UPDATE workspaces SET last_posted_at = ?, updated_at = ? WHERE team_id = ?`,
		fmtTime(at), fmtTime(time.Now()), teamID)
}

func (s *sqliteStore) Deactivate(ctx context.Context, teamID string) error {
	err := s.exec(ctx, teamID,
		`UPDATE workspaces
		 SET is_active = 0, channel_id = NULL, channel_name = NULL, updated_at = ?
		 WHERE team_id = ?`,
		fmtTime(time.Now()), teamID)
	if err == nil {
		s.log.Info("workspace deactivated", logx.String("team_id", teamID))
	}
	return err
}

func (s *sqliteStore) exec(ctx context.Context, teamID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, teamID)
	}
	return nil
}

// ---- row mapping ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (Workspace, error) {
	var (
		w          Workspace
		botToken   sql.NullString
		webhookURL sql.NullString
		channelID  sql.NullString
		channelNm  sql.NullString
		active     int
		candidates sql.NullString
		installed  string
		updated    string
		lastPosted sql.NullString
	)
	err := row.Scan(&w.TeamID, &w.TeamName, &botToken, &webhookURL, &channelID, &channelNm,
		&active, &candidates, &installed, &updated, &lastPosted)
	if err != nil {
		return Workspace{}, err
	}
	w.BotToken = botToken.String
	w.WebhookURL = webhookURL.String
	w.ChannelID = channelID.String
	w.ChannelName = channelNm.String
	w.Active = active != 0
	if candidates.Valid && strings.TrimSpace(candidates.String) != "" {
		if err := json.Unmarshal([]byte(candidates.String), &w.Candidates); err != nil {
			return Workspace{}, fmt.Errorf("candidate_channels for %s: %w", w.TeamID, err)
		}
	}
	w.InstalledAt = parseTime(installed)
	w.UpdatedAt = parseTime(updated)
	if lastPosted.Valid {
		w.LastPostedAt = parseTime(lastPosted.String)
	}
	return w, nil
}

func marshalCandidates(chs []CandidateChannel) (any, error) {
	if len(chs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(chs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
