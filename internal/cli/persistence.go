package cli

import (
	"context"

	_ "modernc.org/sqlite"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/config"
	"github.com/allyrun/ally/internal/sessions"
	"github.com/allyrun/ally/pkg/models"
)

// openSessionStore picks the session backend: a SQLite file when
// session.history_db is configured, in-memory otherwise. The returned
// cleanup closes the database handle (a no-op for the memory store); the
// tool-event store is nil when persistence is off.
func openSessionStore(ctx context.Context, cfg *config.Config) (sessions.Store, agent.ToolEventStore, func(), error) {
	if cfg.Session.HistoryDB == "" {
		return sessions.NewMemoryStore(), nil, func() {}, nil
	}
	store, db, err := sessions.OpenSQLite(ctx, "sqlite", cfg.Session.HistoryDB)
	if err != nil {
		return nil, nil, nil, err
	}
	events := &toolEventAdapter{inner: sessions.NewSQLToolEventStore(db)}
	return store, events, func() { db.Close() }, nil
}

// toolEventAdapter bridges the runtime's tool-event interface onto the
// sessions package's SQL-backed store.
type toolEventAdapter struct {
	inner *sessions.SQLToolEventStore
}

func (a *toolEventAdapter) AddToolCall(ctx context.Context, sessionID, messageID string, call *models.ToolCall) error {
	if call == nil {
		return nil
	}
	return a.inner.AddToolCall(ctx, sessionID, messageID, &sessions.ToolCall{
		ID:        call.ID,
		ToolName:  call.Name,
		InputJSON: call.Input,
	})
}

func (a *toolEventAdapter) AddToolResult(ctx context.Context, sessionID, messageID string, call *models.ToolCall, result *models.ToolResult) error {
	if call == nil || result == nil {
		return nil
	}
	return a.inner.AddToolResult(ctx, sessionID, messageID, call.ID, &sessions.ToolResult{
		ToolCallID: call.ID,
		IsError:    result.IsError,
		Content:    result.Content,
	})
}

var _ agent.ToolEventStore = (*toolEventAdapter)(nil)
