package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// MemoryStore is the reference in-process backend. All state is reset on
// restart. Rooms, users, members and the message chain live behind one
// mutex; the bounded poll in AwaitChild never runs while holding it.
type MemoryStore struct {
	mu sync.Mutex

	rooms     map[uuid.UUID]models.Room
	roomOrder []uuid.UUID
	users     map[uuid.UUID]models.User
	members   []models.Member
	memberSeq int64

	messages map[int64]models.Message
	seq      int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[uuid.UUID]models.Room),
		users:    make(map[uuid.UUID]models.User),
		messages: make(map[int64]models.Message),
	}
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() {}

// CreateRoom creates a new room.
func (s *MemoryStore) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	room := models.Room{
		ID:           uuid.New(),
		Name:         name,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.rooms[room.ID] = room
	s.roomOrder = append(s.roomOrder, room.ID)
	return &room, nil
}

// GetRoom retrieves a room by id, (nil, nil) when absent.
func (s *MemoryStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

// ListRooms returns all rooms in creation order.
func (s *MemoryStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]models.Room, 0, len(s.roomOrder))
	for _, id := range s.roomOrder {
		rooms = append(rooms, s.rooms[id])
	}
	return rooms, nil
}

// AddMembers adds the given users to a room with no persona override.
func (s *MemoryStore) AddMembers(ctx context.Context, roomID uuid.UUID, userIDs []uuid.UUID) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	added := make([]models.Member, 0, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := s.users[userID]; !ok {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		s.memberSeq++
		m := models.Member{
			ID:     s.memberSeq,
			RoomID: roomID,
			UserID: userID,
		}
		s.members = append(s.members, m)
		added = append(added, m)
	}
	return added, nil
}

// GetMembers returns the members of a room.
func (s *MemoryStore) GetMembers(ctx context.Context, roomID uuid.UUID) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []models.Member
	for _, m := range s.members {
		if m.RoomID == roomID {
			members = append(members, m)
		}
	}
	return members, nil
}

// FindMemberByUser returns the first membership of a user, (nil, nil) when
// the user belongs to no room.
func (s *MemoryStore) FindMemberByUser(ctx context.Context, userID uuid.UUID) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.members {
		if m.UserID == userID {
			member := m
			return &member, nil
		}
	}
	return nil, nil
}

// SetMemberPersona sets a member's room-level persona override.
func (s *MemoryStore) SetMemberPersona(ctx context.Context, memberID int64, persona string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.members {
		if s.members[i].ID == memberID {
			s.members[i].Persona = persona
			member := s.members[i]
			return &member, nil
		}
	}
	return nil, fmt.Errorf("member %d: %w", memberID, ErrNotFound)
}

// CreateUser creates a user. Users are immutable after creation.
func (s *MemoryStore) CreateUser(ctx context.Context, name, persona string, isAgent bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := models.User{
		ID:        uuid.New(),
		Name:      name,
		IsAgent:   isAgent,
		Persona:   persona,
		CreatedAt: time.Now(),
	}
	s.users[user.ID] = user
	return &user, nil
}

// GetUsers returns the users for the given ids, preserving input order and
// skipping unknown ids. agentsOnly filters to agent users.
func (s *MemoryStore) GetUsers(ctx context.Context, ids []uuid.UUID, agentsOnly bool) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		user, ok := s.users[id]
		if !ok {
			continue
		}
		if agentsOnly && !user.IsAgent {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// Post appends a message to a room's chain, enforcing the root and
// single-child invariants at write time.
func (s *MemoryStore) Post(ctx context.Context, p PostParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomCount := s.roomMessageCountLocked(p.RoomID)

	if p.ParentID != nil {
		parent, ok := s.messages[*p.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent message %d: %w", *p.ParentID, ErrNotFound)
		}
		if child := s.findChildLocked(parent.ID); child != nil {
			return nil, fmt.Errorf("parent message %d: %w", parent.ID, ErrChainConflict)
		}
		if roomCount == 0 {
			// A parent reference into an empty room can only be stale.
			return nil, fmt.Errorf("room %s has no messages: %w", p.RoomID, ErrMissingParent)
		}
		if p.PlayedFraction != nil {
			parent.Content = truncateToFraction(parent.Content, *p.PlayedFraction)
			s.messages[parent.ID] = parent
		}
	} else if roomCount > 0 {
		return nil, fmt.Errorf("room %s already has messages: %w", p.RoomID, ErrMissingParent)
	}

	s.seq++
	msg := models.Message{
		ID:        s.seq,
		RoomID:    p.RoomID,
		UserID:    p.UserID,
		Content:   p.Content,
		IsRoot:    roomCount == 0,
		ParentID:  p.ParentID,
		CreatedAt: time.Now(),
	}
	s.messages[msg.ID] = msg

	if room, ok := s.rooms[p.RoomID]; ok {
		room.MessageCount++
		room.LastActiveAt = msg.CreatedAt
		s.rooms[p.RoomID] = room
	}

	return &msg, nil
}

// FindByID returns a message by id, (nil, nil) when absent.
func (s *MemoryStore) FindByID(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// FindChild returns the unique child of parentID, (nil, nil) when none.
func (s *MemoryStore) FindChild(ctx context.Context, parentID int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if child := s.findChildLocked(parentID); child != nil {
		return child, nil
	}
	return nil, nil
}

// SameSpeakerRun collects the unbroken run of ancestors authored by the
// starting message's speaker, newest first.
func (s *MemoryStore) SameSpeakerRun(ctx context.Context, fromID int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[fromID]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", fromID, ErrNotFound)
	}

	run := []models.Message{msg}
	speaker := msg.UserID
	for msg.ParentID != nil {
		parent, ok := s.messages[*msg.ParentID]
		if !ok || parent.UserID != speaker {
			break
		}
		run = append(run, parent)
		msg = parent
	}
	return run, nil
}

// RecentWindow walks up to hops ancestors starting at fromID, newest first.
func (s *MemoryStore) RecentWindow(ctx context.Context, fromID int64, hops int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[fromID]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", fromID, ErrNotFound)
	}

	window := []models.Message{msg}
	for len(window) < hops && msg.ParentID != nil {
		parent, ok := s.messages[*msg.ParentID]
		if !ok {
			break
		}
		window = append(window, parent)
		msg = parent
	}
	return window, nil
}

// UserHistory collects ancestors authored by userID, newest first, until
// the cumulative content length crosses textLimit.
func (s *MemoryStore) UserHistory(ctx context.Context, fromID int64, userID uuid.UUID, textLimit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[fromID]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", fromID, ErrNotFound)
	}

	var history []models.Message
	textCount := 0
	if msg.UserID == userID {
		history = append(history, msg)
		textCount += len(msg.Content)
	}
	for msg.ParentID != nil && textCount <= textLimit {
		parent, ok := s.messages[*msg.ParentID]
		if !ok {
			break
		}
		if parent.UserID == userID {
			history = append(history, parent)
			textCount += len(parent.Content)
		}
		msg = parent
	}
	return history, nil
}

// HasChainToRoot follows parent references until none remain and reports
// whether the terminal message is the room's root.
func (s *MemoryStore) HasChainToRoot(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	for msg.ParentID != nil {
		parent, found := s.messages[*msg.ParentID]
		if !found {
			return false, nil
		}
		msg = parent
	}
	return msg.IsRoot, nil
}

// DeleteAncestry removes id and its unbroken ancestor run, leaving
// unrelated messages and rooms untouched.
func (s *MemoryStore) DeleteAncestry(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	for ok {
		delete(s.messages, msg.ID)
		if room, found := s.rooms[msg.RoomID]; found {
			room.MessageCount--
			s.rooms[msg.RoomID] = room
		}
		if msg.ParentID == nil {
			break
		}
		msg, ok = s.messages[*msg.ParentID]
	}
	return nil
}

// DetachParent clears a message's parent reference. Unknown ids are a
// no-op: the detach races with ancestry deletion by design.
func (s *MemoryStore) DetachParent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.messages[id]; ok {
		msg.ParentID = nil
		s.messages[id] = msg
	}
	return nil
}

// ChainLength walks children forward from fromID up to target hops.
func (s *MemoryStore) ChainLength(ctx context.Context, fromID int64, target int) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := fromID
	for i := 0; i < target; i++ {
		child := s.findChildLocked(tail)
		if child == nil {
			return false, tail, nil
		}
		tail = child.ID
	}
	return true, tail, nil
}

// ListByRoom returns a room's full message list ordered by id.
func (s *MemoryStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []models.Message
	for _, msg := range s.messages {
		if msg.RoomID == roomID {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

func (s *MemoryStore) findChildLocked(parentID int64) *models.Message {
	for _, msg := range s.messages {
		if msg.ParentID != nil && *msg.ParentID == parentID {
			child := msg
			return &child
		}
	}
	return nil
}

func (s *MemoryStore) roomMessageCountLocked(roomID uuid.UUID) int {
	count := 0
	for _, msg := range s.messages {
		if msg.RoomID == roomID {
			count++
		}
	}
	return count
}

// truncateToFraction keeps the first fraction of content by rune count.
func truncateToFraction(content string, fraction float64) string {
	if fraction >= 1 {
		return content
	}
	if fraction < 0 {
		fraction = 0
	}
	runes := []rune(content)
	return string(runes[:int(float64(len(runes))*fraction)])
}
