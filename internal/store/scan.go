package store

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// scanner covers database/sql and pgx rows alike.
type scanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func scanMessage(row scanner) (*models.Message, error) {
	msg := &models.Message{}
	var roomStr, userStr string
	var parentID sql.NullInt64
	err := row.Scan(&msg.ID, &roomStr, &userStr, &msg.Content, &msg.IsRoot, &parentID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.RoomID = uuid.MustParse(roomStr)
	msg.UserID = uuid.MustParse(userStr)
	if parentID.Valid {
		msg.ParentID = &parentID.Int64
	}
	return msg, nil
}

// scanMessageRow maps a point lookup's no-rows result to (nil, nil).
func scanMessageRow(row scanner) (*models.Message, error) {
	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func scanMember(row scanner) (*models.Member, error) {
	member := &models.Member{}
	var roomStr, userStr string
	if err := row.Scan(&member.ID, &roomStr, &userStr, &member.Persona); err != nil {
		return nil, err
	}
	member.RoomID = uuid.MustParse(roomStr)
	member.UserID = uuid.MustParse(userStr)
	return member, nil
}

func scanMembers(rows *sql.Rows) ([]models.Member, error) {
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
