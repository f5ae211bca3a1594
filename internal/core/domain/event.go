package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateEvent - событие с таким ID уже записано в журнал
var ErrDuplicateEvent = errors.New("event already recorded")

// Event - событие, полученное из очереди и записываемое в журнал
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`

	Queue      string    `json:"queue"`       // очередь, из которой пришло событие
	ReceivedAt time.Time `json:"received_at"` // время получения сервисом
}
