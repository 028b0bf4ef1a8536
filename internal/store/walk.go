package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// pointLookup is the minimal surface the chain walks need. The SQL
// backends share these walks; MemoryStore keeps its own locked variants.
type pointLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Message, error)
	FindChild(ctx context.Context, parentID int64) (*models.Message, error)
}

func sameSpeakerRun(ctx context.Context, s pointLookup, fromID int64) ([]models.Message, error) {
	msg, err := s.FindByID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d: %w", fromID, ErrNotFound)
	}

	run := []models.Message{*msg}
	speaker := msg.UserID
	for msg.ParentID != nil {
		parent, err := s.FindByID(ctx, *msg.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.UserID != speaker {
			break
		}
		run = append(run, *parent)
		msg = parent
	}
	return run, nil
}

func recentWindow(ctx context.Context, s pointLookup, fromID int64, hops int) ([]models.Message, error) {
	msg, err := s.FindByID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d: %w", fromID, ErrNotFound)
	}

	window := []models.Message{*msg}
	for len(window) < hops && msg.ParentID != nil {
		parent, err := s.FindByID(ctx, *msg.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		window = append(window, *parent)
		msg = parent
	}
	return window, nil
}

func userHistory(ctx context.Context, s pointLookup, fromID int64, userID uuid.UUID, textLimit int) ([]models.Message, error) {
	msg, err := s.FindByID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d: %w", fromID, ErrNotFound)
	}

	var history []models.Message
	textCount := 0
	if msg.UserID == userID {
		history = append(history, *msg)
		textCount += len(msg.Content)
	}
	for msg.ParentID != nil && textCount <= textLimit {
		parent, err := s.FindByID(ctx, *msg.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		if parent.UserID == userID {
			history = append(history, *parent)
			textCount += len(parent.Content)
		}
		msg = parent
	}
	return history, nil
}

func hasChainToRoot(ctx context.Context, s pointLookup, id int64) (bool, error) {
	msg, err := s.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	for msg.ParentID != nil {
		parent, err := s.FindByID(ctx, *msg.ParentID)
		if err != nil {
			return false, err
		}
		if parent == nil {
			return false, nil
		}
		msg = parent
	}
	return msg.IsRoot, nil
}

func chainLength(ctx context.Context, s pointLookup, fromID int64, target int) (bool, int64, error) {
	tail := fromID
	for i := 0; i < target; i++ {
		child, err := s.FindChild(ctx, tail)
		if err != nil {
			return false, tail, err
		}
		if child == nil {
			return false, tail, nil
		}
		tail = child.ID
	}
	return true, tail, nil
}
