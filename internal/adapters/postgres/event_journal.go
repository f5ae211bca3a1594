package postgres_adapter

import (
	"context"
	"fmt"
	"queue-listener-service/internal/contextkeys"
	"queue-listener-service/internal/core/domain"
	"queue-listener-service/internal/core/port"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema создает таблицу журнала, если ее нет
const Schema = `
	CREATE TABLE IF NOT EXISTS event_journal (
		id          UUID PRIMARY KEY,
		type        TEXT        NOT NULL,
		source      TEXT        NOT NULL,
		queue       TEXT        NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		payload     JSONB
	);
	CREATE INDEX IF NOT EXISTS event_journal_queue_idx ON event_journal (queue);
`

// db - часть pgxpool.Pool, которая нужна репозиторию
type db interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EventJournalRepository - реализация EventJournalPort для PostgreSQL
type EventJournalRepository struct {
	db db
}

func NewEventJournalRepository(pool *pgxpool.Pool) (*EventJournalRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgxpool.Pool cannot be nil")
	}
	return &EventJournalRepository{db: pool}, nil
}

// Migrate применяет Schema
func (r *EventJournalRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate event_journal: %w", err)
	}
	return nil
}

func (r *EventJournalRepository) Save(ctx context.Context, event domain.Event) error {
	logger := contextkeys.LoggerFromContext(ctx)
	repoLogger := logger.WithFields(port.Fields{
		"component": "EventJournalRepository",
		"method":    "Save",
		"event_id":  event.ID.String(),
	})

	query := `
		INSERT INTO event_journal (id, type, source, queue, occurred_at, received_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	var payload []byte
	if len(event.Payload) > 0 {
		payload = event.Payload
	}

	tag, err := r.db.Exec(ctx, query,
		event.ID,
		event.Type,
		event.Source,
		event.Queue,
		event.OccurredAt,
		event.ReceivedAt,
		payload,
	)
	if err != nil {
		repoLogger.Error("Failed to insert event", err, nil)
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}

	repoLogger.Debug("Event inserted", nil)
	return nil
}

func (r *EventJournalRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM event_journal WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists, nil
}

func (r *EventJournalRepository) Count(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_journal WHERE $1 = '' OR queue = $1`, queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
