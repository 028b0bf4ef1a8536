package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a participant. IsAgent distinguishes AI participants (whose
// turns are produced by the dialogue generator) from a human. Users are
// immutable after creation.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsAgent   bool      `json:"is_agent"`
	Persona   string    `json:"persona,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EffectivePersona resolves the persona steering a user's generated voice:
// the member's room-level override when present and non-empty, else the
// user's default.
func EffectivePersona(member *Member, user *User) string {
	if member != nil && member.Persona != "" {
		return member.Persona
	}
	return user.Persona
}
