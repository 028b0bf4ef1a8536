package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one turn in a room's conversation chain. Messages form a
// simple path: every non-root message references its parent, and a parent
// has at most one child at any time.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	UserID    uuid.UUID `json:"user_id"`
	Content   string    `json:"content"`
	IsRoot    bool      `json:"is_root"`
	ParentID  *int64    `json:"parent_message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
