package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/config"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/generator"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/metrics"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/scheduler"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/store"
)

// Orchestrator produces AI turns. A call generates exactly one turn
// synchronously, then keeps extending the chain in a detached continuation
// up to the configured budget so later requests find their turn already
// written.
type Orchestrator struct {
	msgs   store.MessageStore
	data   store.DataStore
	sched  scheduler.Scheduler
	gen    generator.DialogueGenerator
	cfg    config.ChatConfig
	logger zerolog.Logger
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(msgs store.MessageStore, data store.DataStore, sched scheduler.Scheduler, gen generator.DialogueGenerator, cfg config.ChatConfig, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		msgs:   msgs,
		data:   data,
		sched:  sched,
		gen:    gen,
		cfg:    cfg,
		logger: logger,
	}
}

// GenerateNext produces the next turn after currentID and returns it. The
// caller never waits for more than this one turn: further turns are
// generated by a fire-and-forget continuation the caller holds no handle
// to. First-turn failures propagate verbatim; continuation failures only
// end the loop.
func (o *Orchestrator) GenerateNext(ctx context.Context, currentID int64) (*models.Message, error) {
	if err := o.sched.SetGenerating(ctx, currentID, true); err != nil {
		return nil, err
	}

	first, err := o.produceTurn(ctx, currentID)
	if clearErr := o.sched.SetGenerating(ctx, currentID, false); clearErr != nil {
		o.logger.Warn().Err(clearErr).Int64("message_id", currentID).Msg("failed to clear generating flag")
	}
	if err != nil {
		return nil, err
	}

	go o.continueChain(first.ID)

	return first, nil
}

// continueChain extends the chain from fromID, one turn at a time, up to
// the continuation budget. It runs on a background context: there is no
// cancellation for in-flight generator calls, and nobody awaits the loop.
// Any failure stops it immediately, with the flag for the failed id
// cleared and the error logged.
func (o *Orchestrator) continueChain(fromID int64) {
	ctx := context.Background()
	log := o.logger.With().Str("task_id", ulid.Make().String()).Logger()

	current := fromID
	for i := 0; i < o.cfg.ContinuationTurns; i++ {
		if err := o.sched.SetGenerating(ctx, current, true); err != nil {
			log.Warn().Err(err).Int64("message_id", current).Msg("continuation stopped: scheduler")
			return
		}

		msg, err := o.produceTurn(ctx, current)
		if clearErr := o.sched.SetGenerating(ctx, current, false); clearErr != nil {
			log.Warn().Err(clearErr).Int64("message_id", current).Msg("failed to clear generating flag")
		}
		if err != nil {
			log.Warn().Err(err).
				Int64("message_id", current).
				Int("iteration", i).
				Msg("continuation stopped")
			return
		}

		current = msg.ID
	}

	log.Debug().Int64("tail_id", current).Msg("continuation budget exhausted")
}

// produceTurn generates and persists exactly one turn as the child of
// currentID.
func (o *Orchestrator) produceTurn(ctx context.Context, currentID int64) (*models.Message, error) {
	current, err := o.msgs.FindByID(ctx, currentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("message %d: %w", currentID, store.ErrNotFound)
	}

	speakers, err := o.data.GetUsers(ctx, []uuid.UUID{current.UserID}, false)
	if err != nil {
		return nil, err
	}
	if len(speakers) == 0 {
		return nil, fmt.Errorf("user %s: %w", current.UserID, store.ErrNotFound)
	}

	// The acting AI speaker anchors whose accumulated history gets
	// summarized: the nearest agent-authored ancestor, falling back to an
	// arbitrary agent member when the chain holds none.
	anchorUserID, anchored, err := o.findAgentAnchor(ctx, current)
	if err != nil {
		return nil, err
	}

	members, err := o.data.GetMembers(ctx, current.RoomID)
	if err != nil {
		return nil, err
	}
	memberUserIDs := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		memberUserIDs = append(memberUserIDs, m.UserID)
	}
	memberUsers, err := o.data.GetUsers(ctx, memberUserIDs, false)
	if err != nil {
		return nil, err
	}

	usersByID := make(map[uuid.UUID]models.User, len(memberUsers))
	var humanUser *models.User
	for i, u := range memberUsers {
		usersByID[u.ID] = u
		if !u.IsAgent && humanUser == nil {
			humanUser = &memberUsers[i]
		}
	}

	var agentMembers []models.Member
	for _, m := range members {
		if u, ok := usersByID[m.UserID]; ok && u.IsAgent {
			agentMembers = append(agentMembers, m)
		}
	}
	if !anchored {
		if len(agentMembers) == 0 {
			return nil, fmt.Errorf("room %s has no agent members: %w", current.RoomID, store.ErrNotFound)
		}
		anchorUserID = agentMembers[0].UserID
	}

	// The dialogue format needs exactly two distinguishable agents: the
	// acting speaker and the one producing the next turn.
	var currentMember, nextMember *models.Member
	for i := range agentMembers {
		if agentMembers[i].UserID == anchorUserID {
			currentMember = &agentMembers[i]
		} else if nextMember == nil {
			nextMember = &agentMembers[i]
		}
	}
	if currentMember == nil {
		return nil, fmt.Errorf("acting agent member %s: %w", anchorUserID, store.ErrNotFound)
	}
	if nextMember == nil {
		return nil, fmt.Errorf("next agent member in room %s: %w", current.RoomID, store.ErrNotFound)
	}

	currentUser, ok := usersByID[currentMember.UserID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", currentMember.UserID, store.ErrNotFound)
	}
	nextUser, ok := usersByID[nextMember.UserID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", nextMember.UserID, store.ErrNotFound)
	}

	window, err := o.msgs.RecentWindow(ctx, currentID, o.cfg.VerbatimWindow)
	if err != nil {
		return nil, err
	}

	summary, err := o.summarizeHistory(ctx, currentID, window, currentMember, &currentUser)
	if err != nil {
		return nil, err
	}

	tc := generator.TurnContext{
		Messages:   o.assembleContext(ctx, summary, window, &currentUser),
		TargetName: currentUser.Name,
		SelfName:   nextUser.Name,
		Persona:    models.EffectivePersona(nextMember, &nextUser),
	}
	if humanUser != nil {
		tc.HumanName = humanUser.Name
	}

	mode := "agent"
	generate := o.gen.Generate
	if humanUser != nil && o.humanSpokeRecently(window, humanUser.ID) {
		mode = "with_human"
		generate = o.gen.GenerateWithHuman
	}

	start := time.Now()
	result, err := generate(ctx, tc)
	metrics.GeneratorLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.TurnsGenerated.WithLabelValues(mode).Inc()
	if result.Fallback {
		o.logger.Debug().Int64("message_id", currentID).Msg("generator output used as raw fallback")
	}

	// Race check: a concurrent writer may have extended the chain while
	// the generator call was in flight. The loser discards its turn.
	child, err := o.msgs.FindChild(ctx, currentID)
	if err != nil {
		return nil, err
	}
	if child != nil {
		metrics.RacesLost.Inc()
		return nil, fmt.Errorf("message %d: %w", currentID, store.ErrInterrupted)
	}

	// Integrity check: the ancestor chain must still reach the room root.
	// A broken run is rolled back wholesale before surfacing the failure.
	intact, err := o.msgs.HasChainToRoot(ctx, currentID)
	if err != nil {
		return nil, err
	}
	if !intact {
		if delErr := o.msgs.DeleteAncestry(ctx, currentID); delErr != nil {
			o.logger.Error().Err(delErr).Int64("message_id", currentID).Msg("ancestry rollback failed")
		}
		metrics.ChainRollbacks.Inc()
		return nil, fmt.Errorf("message %d: %w", currentID, store.ErrBrokenChain)
	}

	parentID := currentID
	msg, err := o.msgs.Post(ctx, store.PostParams{
		RoomID:   current.RoomID,
		UserID:   nextUser.ID,
		Content:  result.Content,
		ParentID: &parentID,
	})
	if err != nil {
		if errors.Is(err, store.ErrChainConflict) {
			// The race check passed but the write still lost.
			metrics.RacesLost.Inc()
			return nil, fmt.Errorf("message %d: %w", currentID, store.ErrInterrupted)
		}
		return nil, err
	}
	metrics.MessagesPosted.WithLabelValues("generated").Inc()

	return msg, nil
}

// findAgentAnchor walks ancestors from msg until it finds a turn authored
// by an agent, returning that agent's user id.
func (o *Orchestrator) findAgentAnchor(ctx context.Context, msg *models.Message) (uuid.UUID, bool, error) {
	current := msg
	for {
		users, err := o.data.GetUsers(ctx, []uuid.UUID{current.UserID}, false)
		if err != nil {
			return uuid.Nil, false, err
		}
		if len(users) == 0 {
			return uuid.Nil, false, nil
		}
		if users[0].IsAgent {
			return users[0].ID, true, nil
		}
		if current.ParentID == nil {
			return uuid.Nil, false, nil
		}
		parent, err := o.msgs.FindByID(ctx, *current.ParentID)
		if err != nil {
			return uuid.Nil, false, err
		}
		if parent == nil {
			return uuid.Nil, false, nil
		}
		current = parent
	}
}

// summarizeHistory collects the acting speaker's turns beyond the verbatim
// window, bounded by the summary text budget, and condenses them. An empty
// remainder yields an empty summary without a generator call.
func (o *Orchestrator) summarizeHistory(ctx context.Context, currentID int64, window []models.Message, member *models.Member, user *models.User) (string, error) {
	history, err := o.msgs.UserHistory(ctx, currentID, user.ID, o.cfg.SummaryTextLimit)
	if err != nil {
		return "", err
	}

	inWindow := make(map[int64]struct{}, len(window))
	for _, msg := range window {
		inWindow[msg.ID] = struct{}{}
	}

	// history is newest first; summarize oldest first.
	var older []generator.ContextMessage
	for i := len(history) - 1; i >= 0; i-- {
		if _, ok := inWindow[history[i].ID]; ok {
			continue
		}
		older = append(older, generator.ContextMessage{
			UserName: user.Name,
			Content:  history[i].Content,
		})
	}
	if len(older) == 0 {
		return "", nil
	}

	summary, err := o.gen.Summarize(ctx, older, models.EffectivePersona(member, user))
	if err != nil {
		return "", err
	}
	metrics.SummariesGenerated.Inc()
	return summary, nil
}

// assembleContext labels the verbatim window with author display names and
// prepends the summary turn. The window arrives newest first and is
// emitted oldest first.
func (o *Orchestrator) assembleContext(ctx context.Context, summary string, window []models.Message, summaryUser *models.User) []generator.ContextMessage {
	authorIDs := make([]uuid.UUID, 0, len(window))
	for _, msg := range window {
		authorIDs = append(authorIDs, msg.UserID)
	}
	names := make(map[uuid.UUID]string)
	if authors, err := o.data.GetUsers(ctx, authorIDs, false); err == nil {
		for _, u := range authors {
			names[u.ID] = u.Name
		}
	}

	turns := make([]generator.ContextMessage, 0, len(window)+1)
	turns = append(turns, generator.ContextMessage{
		UserName: summaryUser.Name,
		Content:  summary,
	})
	for i := len(window) - 1; i >= 0; i-- {
		turns = append(turns, generator.ContextMessage{
			UserName: names[window[i].UserID],
			Content:  window[i].Content,
		})
	}
	return turns
}

// humanSpokeRecently reports whether the human authored any of the most
// recent turns. The window arrives newest first.
func (o *Orchestrator) humanSpokeRecently(window []models.Message, humanID uuid.UUID) bool {
	recent := window
	if len(recent) > o.cfg.HumanRecentWindow {
		recent = recent[:o.cfg.HumanRecentWindow]
	}
	for _, msg := range recent {
		if msg.UserID == humanID {
			return true
		}
	}
	return false
}
