package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID        uuid.UUID `json:"id"`
	Actor     string    `json:"actor"` // hex address of the caller, empty for system
	Action    string    `json:"action"`
	SwapID    *uint64   `json:"swap_id,omitempty"`
	Meta      any       `json:"meta,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
