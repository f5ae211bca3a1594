package memory

import (
	"context"
	"queue-listener-service/internal/core/domain"
	"sync"

	"github.com/google/uuid"
)

// EventJournal - журнал событий в памяти, используется без DATABASE_URL
type EventJournal struct {
	mu     sync.RWMutex
	events map[uuid.UUID]domain.Event
}

func NewEventJournal() *EventJournal {
	return &EventJournal{events: make(map[uuid.UUID]domain.Event)}
}

func (j *EventJournal) Save(ctx context.Context, event domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.events[event.ID]; ok {
		return domain.ErrDuplicateEvent
	}
	j.events[event.ID] = event
	return nil
}

func (j *EventJournal) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	_, ok := j.events[id]
	return ok, nil
}

func (j *EventJournal) Count(ctx context.Context, queue string) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if queue == "" {
		return int64(len(j.events)), nil
	}
	var n int64
	for _, e := range j.events {
		if e.Queue == queue {
			n++
		}
	}
	return n, nil
}
