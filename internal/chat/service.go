package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/config"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/metrics"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/scheduler"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/store"
)

// Service is the entry point the HTTP layer talks to: posting messages,
// requesting the next turn, and provisioning a chat.
type Service struct {
	msgs   store.MessageStore
	data   store.DataStore
	sched  scheduler.Scheduler
	orch   *Orchestrator
	cfg    config.ChatConfig
	logger zerolog.Logger
}

// NewService wires the request flow.
func NewService(msgs store.MessageStore, data store.DataStore, sched scheduler.Scheduler, orch *Orchestrator, cfg config.ChatConfig, logger zerolog.Logger) *Service {
	return &Service{
		msgs:   msgs,
		data:   data,
		sched:  sched,
		orch:   orch,
		cfg:    cfg,
		logger: logger,
	}
}

// PostMessageParams carries a direct message post.
type PostMessageParams struct {
	RoomID         uuid.UUID
	UserID         uuid.UUID
	Content        string
	ParentID       *int64
	PlayedFraction *float64
}

// PostMessage appends a message to a room's chain. When the parent already
// has a pending child (a pre-generated turn the caller is superseding),
// that child's parent reference is detached first; the store-level
// single-child check remains the backstop for true races.
func (s *Service) PostMessage(ctx context.Context, p PostMessageParams) (*models.Message, error) {
	users, err := s.data.GetUsers(ctx, []uuid.UUID{p.UserID}, false)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", p.UserID, store.ErrNotFound)
	}
	member, err := s.data.FindMemberByUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, fmt.Errorf("member for user %s: %w", p.UserID, store.ErrNotFound)
	}

	if p.ParentID != nil {
		child, err := s.msgs.FindChild(ctx, *p.ParentID)
		if err != nil {
			return nil, err
		}
		if child != nil {
			if err := s.msgs.DetachParent(ctx, child.ID); err != nil {
				return nil, err
			}
		}
	}

	msg, err := s.msgs.Post(ctx, store.PostParams{
		RoomID:         p.RoomID,
		UserID:         p.UserID,
		Content:        p.Content,
		ParentID:       p.ParentID,
		PlayedFraction: p.PlayedFraction,
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesPosted.WithLabelValues("direct").Inc()

	return msg, nil
}

// RequestNextMessage returns the turn following messageID. An existing
// child returns immediately, with background pre-generation kicked off
// when the chain beyond it is running short. Otherwise the caller either
// waits on an in-flight generation or triggers one synchronously.
func (s *Service) RequestNextMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	child, err := s.msgs.FindChild(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if child != nil {
		s.maybeGenerateAhead(ctx, child.ID)
		return child, nil
	}

	generating, err := s.sched.IsGenerating(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if generating {
		metrics.PollWaits.Inc()
		msg, err := store.AwaitChild(ctx, s.msgs, messageID, s.cfg.PollInterval, s.cfg.PollMaxAttempts)
		if err != nil {
			if errors.Is(err, store.ErrPollTimeout) {
				metrics.PollTimeouts.Inc()
			}
			return nil, err
		}
		return msg, nil
	}

	return s.orch.GenerateNext(ctx, messageID)
}

// maybeGenerateAhead fires look-ahead generation from the chain's tail
// when fewer than the look-ahead threshold of turns exist beyond fromID
// and the tail is not already being extended. The result is discarded;
// failures are logged only.
func (s *Service) maybeGenerateAhead(ctx context.Context, fromID int64) {
	reached, tailID, err := s.msgs.ChainLength(ctx, fromID, s.cfg.Lookahead)
	if err != nil {
		s.logger.Warn().Err(err).Int64("message_id", fromID).Msg("chain length probe failed")
		return
	}
	if reached {
		return
	}

	generating, err := s.sched.IsGenerating(ctx, tailID)
	if err != nil || generating {
		return
	}

	go func() {
		if _, err := s.orch.GenerateNext(context.Background(), tailID); err != nil {
			s.logger.Debug().Err(err).Int64("tail_id", tailID).Msg("look-ahead generation stopped")
		}
	}()
}

// InitUser describes a participant to provision during chat initialization.
type InitUser struct {
	Name    string
	Persona string
	IsAgent bool
}

// InitializeChat creates the users, the room and its memberships in one
// call.
func (s *Service) InitializeChat(ctx context.Context, roomName string, initUsers []InitUser) (*models.Room, []models.Member, []models.User, error) {
	users := make([]models.User, 0, len(initUsers))
	userIDs := make([]uuid.UUID, 0, len(initUsers))
	for _, iu := range initUsers {
		user, err := s.data.CreateUser(ctx, iu.Name, iu.Persona, iu.IsAgent)
		if err != nil {
			return nil, nil, nil, err
		}
		users = append(users, *user)
		userIDs = append(userIDs, user.ID)
	}

	room, err := s.data.CreateRoom(ctx, roomName)
	if err != nil {
		return nil, nil, nil, err
	}

	members, err := s.data.AddMembers(ctx, room.ID, userIDs)
	if err != nil {
		return nil, nil, nil, err
	}

	return room, members, users, nil
}
