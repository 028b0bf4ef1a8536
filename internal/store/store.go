package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// PostParams carries a message post. ParentID is nil only for a room's
// first message. PlayedFraction, when set, truncates the parent's stored
// content to that proportion of its length before the child is written,
// modeling a listener that stopped partway through the previous turn.
type PostParams struct {
	RoomID         uuid.UUID
	UserID         uuid.UUID
	Content        string
	ParentID       *int64
	PlayedFraction *float64
}

// DataStore is the room/member/user provider.
// MemoryStore, SQLiteStore and PostgresStore implement this interface.
type DataStore interface {
	CreateRoom(ctx context.Context, name string) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)

	AddMembers(ctx context.Context, roomID uuid.UUID, userIDs []uuid.UUID) ([]models.Member, error)
	GetMembers(ctx context.Context, roomID uuid.UUID) ([]models.Member, error)
	FindMemberByUser(ctx context.Context, userID uuid.UUID) (*models.Member, error)
	SetMemberPersona(ctx context.Context, memberID int64, persona string) (*models.Member, error)

	CreateUser(ctx context.Context, name, persona string, isAgent bool) (*models.User, error)
	GetUsers(ctx context.Context, ids []uuid.UUID, agentsOnly bool) ([]models.User, error)
}

// MessageStore owns the ordered message chain per room and enforces the
// single-child invariant. Point lookups return (nil, nil) for a missing id.
type MessageStore interface {
	// Post appends a message. Fails with ErrChainConflict when the parent
	// already has a child, ErrMissingParent when the parent reference is
	// required or forbidden by the room's current message count, and
	// ErrNotFound when the referenced parent does not exist.
	Post(ctx context.Context, p PostParams) (*models.Message, error)

	FindByID(ctx context.Context, id int64) (*models.Message, error)
	FindChild(ctx context.Context, parentID int64) (*models.Message, error)

	// SameSpeakerRun walks ancestors collecting the unbroken run of
	// messages by the starting message's author, newest first.
	SameSpeakerRun(ctx context.Context, fromID int64) ([]models.Message, error)

	// RecentWindow walks up to hops ancestors starting at fromID,
	// newest first.
	RecentWindow(ctx context.Context, fromID int64, hops int) ([]models.Message, error)

	// UserHistory walks ancestors collecting messages authored by userID
	// until the cumulative content length exceeds textLimit, newest first.
	// The message that crosses the limit is included.
	UserHistory(ctx context.Context, fromID int64, userID uuid.UUID, textLimit int) ([]models.Message, error)

	// HasChainToRoot reports whether following parent references from id
	// terminates at the room's root. A dangling reference yields false.
	HasChainToRoot(ctx context.Context, id int64) (bool, error)

	// DeleteAncestry removes id and every ancestor reachable through
	// parent references, stopping at the first missing link. Integrity
	// failure rollback only.
	DeleteAncestry(ctx context.Context, id int64) error

	// DetachParent clears a message's parent reference without deleting
	// it, used when a newer message supersedes a pending child.
	DetachParent(ctx context.Context, id int64) error

	// ChainLength walks children forward from fromID up to target hops.
	// It reports whether target descendants exist and the id of the
	// furthest message reached.
	ChainLength(ctx context.Context, fromID int64, target int) (bool, int64, error)

	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Message, error)
}

// Store is the full storage surface a backend provides.
type Store interface {
	DataStore
	MessageStore

	Ping(ctx context.Context) error
	Close()
}
