// Package history archives finalized chat exchanges to Postgres.
//
// Archival is best-effort by contract: callers log failures and move on, the
// session never blocks on the archive.
package history

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/agentdeck/sessionkit/pkg/chat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Exchange is one archived question/answer round trip.
type Exchange struct {
	ConversationID   string
	UserContent      string
	UserLanguage     string
	AssistantContent string
	ExchangedAt      time.Time
	ArchivedAt       time.Time
}

// Store persists exchanges via a pgx connection pool. It implements
// chat.Archiver.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history ping: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// ArchiveExchange records one finalized exchange.
func (s *Store) ArchiveExchange(ctx context.Context, conversationID string, user, assistant chat.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exchanges
		   (conversation_id, user_message_id, user_content, user_language,
		    assistant_message_id, assistant_content, exchanged_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		conversationID, user.ID, user.Content, user.OriginalLanguage,
		assistant.ID, assistant.Content, user.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive exchange: %w", err)
	}
	return nil
}

// RecentExchanges returns the newest archived exchanges for a conversation,
// most recent first.
func (s *Store) RecentExchanges(ctx context.Context, conversationID string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, user_content, user_language,
		        assistant_content, exchanged_at, archived_at
		   FROM exchanges
		  WHERE conversation_id = $1
		  ORDER BY archived_at DESC
		  LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.ConversationID, &e.UserContent, &e.UserLanguage,
			&e.AssistantContent, &e.ExchangedAt, &e.ArchivedAt); err != nil {
			return nil, fmt.Errorf("recent exchanges: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
