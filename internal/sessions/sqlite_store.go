package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/allyrun/ally/pkg/models"
)

// SQLiteStore persists sessions and message history in a local SQLite
// database, so --session and --resume survive process restarts. The schema
// is managed by Migrator; callers run migrations before constructing the
// store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle. The handle's driver must
// speak SQLite; the caller owns its lifecycle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens (creating if needed) the database at path, applies all
// pending migrations, and returns a ready store.
func OpenSQLite(ctx context.Context, driver, path string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open session db: %w", err)
	}
	migrator, err := NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate session db: %w", err)
	}
	return NewSQLiteStore(db), db, nil
}

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	metadata, err := encodeMetadata(session.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, channel, channel_id, key, title, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.AgentID, string(session.Channel), session.ChannelID,
		session.Key, session.Title, metadata,
		session.CreatedAt.Format(time.RFC3339Nano), session.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, channel, channel_id, key, title, metadata_json, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id))
}

func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, channel, channel_id, key, title, metadata_json, created_at, updated_at
		FROM sessions WHERE key = ?
	`, key))
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	metadata, err := encodeMetadata(session.Metadata)
	if err != nil {
		return err
	}
	session.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET agent_id = ?, channel = ?, channel_id = ?, key = ?, title = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?
	`, session.AgentID, string(session.Channel), session.ChannelID, session.Key,
		session.Title, metadata, session.UpdatedAt.Format(time.RFC3339Nano), session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", session.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	session, err := s.GetByKey(ctx, key)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	session = &models.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
		Key:       key,
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, channel, channel_id, key, title, metadata_json, created_at, updated_at
		FROM sessions
		WHERE (? = '' OR agent_id = ?) AND (? = '' OR channel = ?)
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, agentID, agentID, string(opts.Channel), string(opts.Channel), limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var toolCalls, toolResults []byte
	var err error
	if len(msg.ToolCalls) > 0 {
		if toolCalls, err = json.Marshal(msg.ToolCalls); err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
	}
	if len(msg.ToolResults) > 0 {
		if toolResults, err = json.Marshal(msg.ToolResults); err != nil {
			return fmt.Errorf("encode tool results: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, direction, content, tool_calls_json, tool_results_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, sessionID, string(msg.Role), string(msg.Direction), msg.Content,
		nullableBytes(toolCalls), nullableBytes(toolResults), msg.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, direction, content, tool_calls_json, tool_results_json, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reversed []*models.Message
	for rows.Next() {
		var msg models.Message
		var role, direction, createdAt string
		var toolCalls, toolResults sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &direction, &msg.Content, &toolCalls, &toolResults, &createdAt); err != nil {
			return nil, err
		}
		msg.Role = models.Role(role)
		msg.Direction = models.Direction(direction)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			msg.CreatedAt = ts
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if toolResults.Valid && toolResults.String != "" {
			if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("decode tool results: %w", err)
			}
		}
		reversed = append(reversed, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first, matching MemoryStore.
	out := make([]*models.Message, len(reversed))
	for i, msg := range reversed {
		out[len(reversed)-1-i] = msg
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var channel, metadata, createdAt, updatedAt string
	if err := row.Scan(&session.ID, &session.AgentID, &channel, &session.ChannelID,
		&session.Key, &session.Title, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	session.Channel = models.ChannelType(channel)
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		session.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		session.UpdatedAt = ts
	}
	return &session, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode session metadata: %w", err)
	}
	return string(data), nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
