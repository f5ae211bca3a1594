package usecases_port

import (
	"context"
	"queue-listener-service/internal/core/domain"
)

// RecordEventPort - входной порт use case записи события
type RecordEventPort interface {
	Execute(ctx context.Context, event domain.Event) error
}
