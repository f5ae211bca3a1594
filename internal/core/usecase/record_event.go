package usecase

import (
	"context"
	"errors"
	"fmt"
	"queue-listener-service/internal/contextkeys"
	"queue-listener-service/internal/core/domain"
	"queue-listener-service/internal/core/port"
)

// RecordEventUseCase записывает событие в журнал ровно один раз.
// Повторная доставка того же события (после ретрая или redelivery) не считается ошибкой.
type RecordEventUseCase struct {
	journal port.EventJournalPort
}

func NewRecordEventUseCase(journal port.EventJournalPort) *RecordEventUseCase {
	return &RecordEventUseCase{journal: journal}
}

func (uc *RecordEventUseCase) Execute(ctx context.Context, event domain.Event) error {
	logger := contextkeys.LoggerFromContext(ctx)
	ucLogger := logger.WithFields(port.Fields{
		"use_case":   "RecordEvent",
		"event_id":   event.ID.String(),
		"event_type": event.Type,
		"queue":      event.Queue,
	})

	ucLogger.Debug("Use case started", nil)

	exists, err := uc.journal.Exists(ctx, event.ID)
	if err != nil {
		ucLogger.Error("Failed to check event existence", err, nil)
		return fmt.Errorf("failed to check event %s: %w", event.ID, err)
	}
	if exists {
		ucLogger.Info("Event already recorded, skipping duplicate", nil)
		return nil
	}

	if err := uc.journal.Save(ctx, event); err != nil {
		// событие могло быть записано параллельной доставкой между Exists и Save
		if errors.Is(err, domain.ErrDuplicateEvent) {
			ucLogger.Info("Event recorded concurrently, skipping duplicate", nil)
			return nil
		}
		ucLogger.Error("Journal failed to save event", err, nil)
		return fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}

	ucLogger.Info("Event recorded", nil)
	return nil
}
