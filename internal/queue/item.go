package queue

import (
	"time"

	"github.com/google/uuid"
)

// Item is one raw upstream frame waiting for a worker.
// The payload is opaque here; workers own decoding.
type Item struct {
	ID         string
	Data       []byte
	ReceivedAt time.Time
}

// NewItem stamps a frame with an ID used to correlate log lines across stages.
func NewItem(data []byte) Item {
	return Item{
		ID:         uuid.New().String(),
		Data:       data,
		ReceivedAt: time.Now().UTC(),
	}
}
