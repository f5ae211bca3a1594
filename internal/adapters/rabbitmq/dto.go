package rabbitmq

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IncomingEventDTO - тело события, общее для всех схем
type IncomingEventDTO struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}
