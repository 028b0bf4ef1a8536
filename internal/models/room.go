package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a conversation space. Immutable after creation except for
// activity bookkeeping.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int64     `json:"message_count"`
}

// Member is a (room, user) pairing with an optional persona override.
// When Persona is empty the user's default persona applies.
type Member struct {
	ID      int64     `json:"id"`
	RoomID  uuid.UUID `json:"room_id"`
	UserID  uuid.UUID `json:"user_id"`
	Persona string    `json:"persona,omitempty"`
}
