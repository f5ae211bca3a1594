package port

import (
	"context"
	"queue-listener-service/internal/core/domain"

	"github.com/google/uuid"
)

// EventJournalPort - хранилище обработанных событий
type EventJournalPort interface {
	// Save записывает событие. Если событие уже есть, возвращает domain.ErrDuplicateEvent.
	Save(ctx context.Context, event domain.Event) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// Count возвращает количество событий из очереди queue ("" - все очереди)
	Count(ctx context.Context, queue string) (int64, error)
}
