package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// PostgresStore is the shared-database backend for multi-instance
// deployments. Same constraints as SQLite: partial unique index on
// parent_id for the single-child invariant, BIGSERIAL for id
// monotonicity.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_agent BOOLEAN NOT NULL DEFAULT FALSE,
		persona TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_active_at TIMESTAMPTZ DEFAULT NOW(),
		message_count BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS members (
		id BIGSERIAL PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		persona TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_root BOOLEAN NOT NULL DEFAULT FALSE,
		parent_id BIGINT,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_parent
		ON messages(parent_id) WHERE parent_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);
	CREATE INDEX IF NOT EXISTS idx_members_room ON members(room_id);
	CREATE INDEX IF NOT EXISTS idx_members_user ON members(user_id);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateRoom creates a new room.
func (s *PostgresStore) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	id := uuid.New()
	now := time.Now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, created_at, last_active_at, message_count)
		VALUES ($1, $2, $3, $4, 0)
	`, id.String(), name, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by id, (nil, nil) when absent.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	var idStr string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at, last_active_at, message_count
		FROM rooms WHERE id = $1
	`, id.String()).Scan(
		&idStr,
		&room.Name,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.ID = uuid.MustParse(idStr)
	return room, nil
}

// ListRooms returns all rooms in creation order.
func (s *PostgresStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `
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
func (s *PostgresStore) AddMembers(ctx context.Context, roomID uuid.UUID, userIDs []uuid.UUID) ([]models.Member, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	added := make([]models.Member, 0, len(userIDs))
	for _, userID := range userIDs {
		var id int64
		err := s.pool.QueryRow(ctx, `
			INSERT INTO members (room_id, user_id, persona) VALUES ($1, $2, '')
			RETURNING id
		`, roomID.String(), userID.String()).Scan(&id)
		if err != nil {
			return nil, err
		}
		added = append(added, models.Member{ID: id, RoomID: roomID, UserID: userID})
	}
	return added, nil
}

// GetMembers returns the members of a room.
func (s *PostgresStore) GetMembers(ctx context.Context, roomID uuid.UUID) ([]models.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, persona FROM members WHERE room_id = $1 ORDER BY id
	`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *member)
	}
	return members, rows.Err()
}

// FindMemberByUser returns the first membership of a user.
func (s *PostgresStore) FindMemberByUser(ctx context.Context, userID uuid.UUID) (*models.Member, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, room_id, user_id, persona FROM members WHERE user_id = $1 ORDER BY id LIMIT 1
	`, userID.String())

	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return member, nil
}

// SetMemberPersona sets a member's room-level persona override.
func (s *PostgresStore) SetMemberPersona(ctx context.Context, memberID int64, persona string) (*models.Member, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE members SET persona = $1 WHERE id = $2
		RETURNING id, room_id, user_id, persona
	`, persona, memberID)

	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("member %d: %w", memberID, ErrNotFound)
		}
		return nil, err
	}
	return member, nil
}

// CreateUser creates a user.
func (s *PostgresStore) CreateUser(ctx context.Context, name, persona string, isAgent bool) (*models.User, error) {
	id := uuid.New()
	now := time.Now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, is_agent, persona, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), name, isAgent, persona, now)
	if err != nil {
		return nil, err
	}

	return &models.User{ID: id, Name: name, IsAgent: isAgent, Persona: persona, CreatedAt: now}, nil
}

// GetUsers returns the users for the given ids, preserving input order and
// skipping unknown ids.
func (s *PostgresStore) GetUsers(ctx context.Context, ids []uuid.UUID, agentsOnly bool) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, is_agent, persona, created_at
		FROM users WHERE id = ANY($1)
	`, idStrs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.User)
	for rows.Next() {
		var user models.User
		var idStr string
		if err := rows.Scan(&idStr, &user.Name, &user.IsAgent, &user.Persona, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.ID = uuid.MustParse(idStr)
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

// Post appends a message inside one transaction; see SQLiteStore.Post.
func (s *PostgresStore) Post(ctx context.Context, p PostParams) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var roomCount int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE room_id = $1
	`, p.RoomID.String()).Scan(&roomCount); err != nil {
		return nil, err
	}

	if p.ParentID != nil {
		var parentContent string
		err := tx.QueryRow(ctx, `
			SELECT content FROM messages WHERE id = $1 FOR UPDATE
		`, *p.ParentID).Scan(&parentContent)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("parent message %d: %w", *p.ParentID, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}

		var childCount int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM messages WHERE parent_id = $1
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
			if _, err := tx.Exec(ctx, `
				UPDATE messages SET content = $1 WHERE id = $2
			`, truncateToFraction(parentContent, *p.PlayedFraction), *p.ParentID); err != nil {
				return nil, err
			}
		}
	} else if roomCount > 0 {
		return nil, fmt.Errorf("room %s already has messages: %w", p.RoomID, ErrMissingParent)
	}

	now := time.Now()
	isRoot := roomCount == 0

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (room_id, user_id, content, is_root, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.RoomID.String(), p.UserID.String(), p.Content, isRoot, p.ParentID, now).Scan(&id)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, fmt.Errorf("parent message %d: %w", *p.ParentID, ErrChainConflict)
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rooms SET message_count = message_count + 1, last_active_at = $1 WHERE id = $2
	`, now, p.RoomID.String()); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isPgUniqueViolation(err) {
			return nil, fmt.Errorf("parent message: %w", ErrChainConflict)
		}
		return nil, err
	}

	return &models.Message{
		ID:        id,
		RoomID:    p.RoomID,
		UserID:    p.UserID,
		Content:   p.Content,
		IsRoot:    isRoot,
		ParentID:  p.ParentID,
		CreatedAt: now,
	}, nil
}

// FindByID returns a message by id, (nil, nil) when absent.
func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, room_id, user_id, content, is_root, parent_id, created_at
		FROM messages WHERE id = $1
	`, id)
	return scanMessageRow(row)
}

// FindChild returns the unique child of parentID, (nil, nil) when none.
func (s *PostgresStore) FindChild(ctx context.Context, parentID int64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, room_id, user_id, content, is_root, parent_id, created_at
		FROM messages WHERE parent_id = $1
	`, parentID)
	return scanMessageRow(row)
}

// SameSpeakerRun collects the unbroken run of ancestors authored by the
// starting message's speaker, newest first.
func (s *PostgresStore) SameSpeakerRun(ctx context.Context, fromID int64) ([]models.Message, error) {
	return sameSpeakerRun(ctx, s, fromID)
}

// RecentWindow walks up to hops ancestors starting at fromID, newest first.
func (s *PostgresStore) RecentWindow(ctx context.Context, fromID int64, hops int) ([]models.Message, error) {
	return recentWindow(ctx, s, fromID, hops)
}

// UserHistory collects ancestors authored by userID bounded by textLimit.
func (s *PostgresStore) UserHistory(ctx context.Context, fromID int64, userID uuid.UUID, textLimit int) ([]models.Message, error) {
	return userHistory(ctx, s, fromID, userID, textLimit)
}

// HasChainToRoot reports whether id's ancestor chain reaches the room root.
func (s *PostgresStore) HasChainToRoot(ctx context.Context, id int64) (bool, error) {
	return hasChainToRoot(ctx, s, id)
}

// DeleteAncestry removes id and its unbroken ancestor run.
func (s *PostgresStore) DeleteAncestry(ctx context.Context, id int64) error {
	for {
		msg, err := s.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, msg.ID); err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, `
			UPDATE rooms SET message_count = message_count - 1 WHERE id = $1
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
func (s *PostgresStore) DetachParent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE messages SET parent_id = NULL WHERE id = $1`, id)
	return err
}

// ChainLength walks children forward from fromID up to target hops.
func (s *PostgresStore) ChainLength(ctx context.Context, fromID int64, target int) (bool, int64, error) {
	return chainLength(ctx, s, fromID, target)
}

// ListByRoom returns a room's full message list ordered by id.
func (s *PostgresStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, content, is_root, parent_id, created_at
		FROM messages WHERE room_id = $1 ORDER BY id
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
