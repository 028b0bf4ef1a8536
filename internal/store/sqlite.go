package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// SQLiteStore is the durable single-file backend. The single-child
// invariant is a storage-level constraint: a partial unique index on
// parent_id. Message id monotonicity comes from AUTOINCREMENT.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) a SQLite database.
// If dbPath is empty, defaults to "./data/rainytalk.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/rainytalk.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_agent INTEGER NOT NULL DEFAULT 0,
		persona TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		persona TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_root INTEGER NOT NULL DEFAULT 0,
		parent_id INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_parent
		ON messages(parent_id) WHERE parent_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);
	CREATE INDEX IF NOT EXISTS idx_members_room ON members(room_id);
	CREATE INDEX IF NOT EXISTS idx_members_user ON members(user_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	id := uuid.New()
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, created_at, last_active_at, message_count)
		VALUES (?, ?, ?, ?, 0)
	`, id.String(), name, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by id, (nil, nil) when absent.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, last_active_at, message_count
		FROM rooms WHERE id = ?
	`, id.String()).Scan(
		&idStr,
		&room.Name,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.ID = uuid.MustParse(idStr)
	return room, nil
}

// ListRooms returns all rooms in creation order.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, last_active_at, message_count
		FROM rooms ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		var idStr string
		if err := rows.Scan(&idStr, &room.Name, &room.CreatedAt, &room.LastActiveAt, &room.MessageCount); err != nil {
			return nil, err
		}
		room.ID = uuid.MustParse(idStr)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// AddMembers adds the given users to a room.
func (s *SQLiteStore) AddMembers(ctx context.Context, roomID uuid.UUID, userIDs []uuid.UUID) ([]models.Member, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	added := make([]models.Member, 0, len(userIDs))
	for _, userID := range userIDs {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO members (room_id, user_id, persona) VALUES (?, ?, '')
		`, roomID.String(), userID.String())
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		added = append(added, models.Member{ID: id, RoomID: roomID, UserID: userID})
	}
	return added, nil
}

// GetMembers returns the members of a room.
func (s *SQLiteStore) GetMembers(ctx context.Context, roomID uuid.UUID) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, persona FROM members WHERE room_id = ? ORDER BY id
	`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

// FindMemberByUser returns the first membership of a user.
func (s *SQLiteStore) FindMemberByUser(ctx context.Context, userID uuid.UUID) (*models.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, user_id, persona FROM members WHERE user_id = ? ORDER BY id LIMIT 1
	`, userID.String())

	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return member, nil
}

// SetMemberPersona sets a member's room-level persona override.
func (s *SQLiteStore) SetMemberPersona(ctx context.Context, memberID int64, persona string) (*models.Member, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members SET persona = ? WHERE id = ?
	`, persona, memberID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("member %d: %w", memberID, ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, user_id, persona FROM members WHERE id = ?
	`, memberID)
	return scanMember(row)
}

// CreateUser creates a user.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, persona string, isAgent bool) (*models.User, error) {
	id := uuid.New()
	now := time.Now()

	isAgentInt := 0
	if isAgent {
		isAgentInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, is_agent, persona, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), name, isAgentInt, persona, now)
	if err != nil {
		return nil, err
	}

	return &models.User{ID: id, Name: name, IsAgent: isAgent, Persona: persona, CreatedAt: now}, nil
}

// GetUsers returns the users for the given ids, preserving input order and
// skipping unknown ids.
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []uuid.UUID, agentsOnly bool) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, is_agent, persona, created_at
		FROM users WHERE id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.User)
	for rows.Next() {
		var user models.User
		var idStr string
		var isAgentInt int
		if err := rows.Scan(&idStr, &user.Name, &isAgentInt, &user.Persona, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.ID = uuid.MustParse(idStr)
		user.IsAgent = isAgentInt == 1
		byID[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		user, ok := byID[id]
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

// Post appends a message, enforcing the root and single-child invariants
// inside one transaction. The unique parent index backstops concurrent
// writers that pass the in-transaction child check.
func (s *SQLiteStore) Post(ctx context.Context, p PostParams) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var roomCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE room_id = ?
	`, p.RoomID.String()).Scan(&roomCount); err != nil {
		return nil, err
	}

	if p.ParentID != nil {
		var parentContent string
		err := tx.QueryRowContext(ctx, `
			SELECT content FROM messages WHERE id = ?
		`, *p.ParentID).Scan(&parentContent)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("parent message %d: %w", *p.ParentID, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}

		var childCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages WHERE parent_id = ?
		`, *p.ParentID).Scan(&childCount); err != nil {
			return nil, err
		}
		if childCount > 0 {
			return nil, fmt.Errorf("parent message %d: %w", *p.ParentID, ErrChainConflict)
		}
		if roomCount == 0 {
			return nil, fmt.Errorf("room %s has no messages: %w", p.RoomID, ErrMissingParent)
		}

		if p.PlayedFraction != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages SET content = ? WHERE id = ?
			`, truncateToFraction(parentContent, *p.PlayedFraction), *p.ParentID); err != nil {
				return nil, err
			}
		}
	} else if roomCount > 0 {
		return nil, fmt.Errorf("room %s already has messages: %w", p.RoomID, ErrMissingParent)
	}

	now := time.Now()
	isRootInt := 0
	if roomCount == 0 {
		isRootInt = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (room_id, user_id, content, is_root, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.RoomID.String(), p.UserID.String(), p.Content, isRootInt, p.ParentID, now)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("parent message %d: %w", *p.ParentID, ErrChainConflict)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET message_count = message_count + 1, last_active_at = ? WHERE id = ?
	`, now, p.RoomID.String()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("parent message: %w", ErrChainConflict)
		}
		return nil, err
	}

	return &models.Message{
		ID:        id,
		RoomID:    p.RoomID,
		UserID:    p.UserID,
		Content:   p.Content,
		IsRoot:    roomCount == 0,
		ParentID:  p.ParentID,
		CreatedAt: now,
	}, nil
}

// FindByID returns a message by id, (nil, nil) when absent.
func (s *SQLiteStore) FindByID(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, user_id, content, is_root, parent_id, created_at
		FROM messages WHERE id = ?
	`, id)
	return scanMessageRow(row)
}

// FindChild returns the unique child of parentID, (nil, nil) when none.
func (s *SQLiteStore) FindChild(ctx context.Context, parentID int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, user_id, content, is_root, parent_id, created_at
		FROM messages WHERE parent_id = ?
	`, parentID)
	return scanMessageRow(row)
}

// SameSpeakerRun collects the unbroken run of ancestors authored by the
// starting message's speaker, newest first.
func (s *SQLiteStore) SameSpeakerRun(ctx context.Context, fromID int64) ([]models.Message, error) {
	return sameSpeakerRun(ctx, s, fromID)
}

// RecentWindow walks up to hops ancestors starting at fromID, newest first.
func (s *SQLiteStore) RecentWindow(ctx context.Context, fromID int64, hops int) ([]models.Message, error) {
	return recentWindow(ctx, s, fromID, hops)
}

// UserHistory collects ancestors authored by userID bounded by textLimit.
func (s *SQLiteStore) UserHistory(ctx context.Context, fromID int64, userID uuid.UUID, textLimit int) ([]models.Message, error) {
	return userHistory(ctx, s, fromID, userID, textLimit)
}

// HasChainToRoot reports whether id's ancestor chain reaches the room root.
func (s *SQLiteStore) HasChainToRoot(ctx context.Context, id int64) (bool, error) {
	return hasChainToRoot(ctx, s, id)
}

// DeleteAncestry removes id and its unbroken ancestor run.
func (s *SQLiteStore) DeleteAncestry(ctx context.Context, id int64) error {
	for {
		msg, err := s.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, msg.ID); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE rooms SET message_count = message_count - 1 WHERE id = ?
		`, msg.RoomID.String()); err != nil {
			return err
		}
		if msg.ParentID == nil {
			return nil
		}
		id = *msg.ParentID
	}
}

// DetachParent clears a message's parent reference.
func (s *SQLiteStore) DetachParent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET parent_id = NULL WHERE id = ?`, id)
	return err
}

// ChainLength walks children forward from fromID up to target hops.
func (s *SQLiteStore) ChainLength(ctx context.Context, fromID int64, target int) (bool, int64, error) {
	return chainLength(ctx, s, fromID, target)
}

// ListByRoom returns a room's full message list ordered by id.
func (s *SQLiteStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, content, is_root, parent_id, created_at
		FROM messages WHERE room_id = ? ORDER BY id
	`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}
