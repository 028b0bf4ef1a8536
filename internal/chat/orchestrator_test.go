package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/config"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/generator"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/scheduler"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/store"
)

// stubGenerator is a deterministic DialogueGenerator. onGenerate, when set,
// runs inside each Generate call, between context assembly and the result,
// which is where real generations race with concurrent writers.
type stubGenerator struct {
	mu         sync.Mutex
	generates  int
	humanMode  int
	summaries  int
	failWith   error
	onGenerate func()
}

func (g *stubGenerator) Summarize(ctx context.Context, messages []generator.ContextMessage, persona string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaries++
	return "condensed history", nil
}

func (g *stubGenerator) Generate(ctx context.Context, tc generator.TurnContext) (*generator.Result, error) {
	return g.produce(tc, false)
}

func (g *stubGenerator) GenerateWithHuman(ctx context.Context, tc generator.TurnContext) (*generator.Result, error) {
	return g.produce(tc, true)
}

func (g *stubGenerator) produce(tc generator.TurnContext, human bool) (*generator.Result, error) {
	g.mu.Lock()
	hook := g.onGenerate
	g.generates++
	if human {
		g.humanMode++
	}
	n := g.generates
	fail := g.failWith
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail != nil {
		return nil, fail
	}
	return &generator.Result{
		Target:  tc.TargetName,
		Content: fmt.Sprintf("turn %d from %s", n, tc.SelfName),
	}, nil
}

func (g *stubGenerator) counts() (generates, humanMode, summaries int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generates, g.humanMode, g.summaries
}

type testEnv struct {
	store *store.MemoryStore
	sched *scheduler.MemoryScheduler
	gen   *stubGenerator
	orch  *Orchestrator
	svc   *Service
	room  *models.Room
	alice models.User
	bob   models.User
	human models.User
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		VerbatimWindow:    7,
		SummaryTextLimit:  5000,
		SummaryMaxInput:   2000,
		ContinuationTurns: 0, // tests that want the background loop opt in
		Lookahead:         5,
		HumanRecentWindow: 3,
		PollInterval:      5 * time.Millisecond,
		PollMaxAttempts:   40,
	}
}

func newTestEnv(t *testing.T, cfg config.ChatConfig) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	sched := scheduler.NewMemoryScheduler()
	gen := &stubGenerator{}
	logger := zerolog.Nop()

	orch := NewOrchestrator(st, st, sched, gen, cfg, logger)
	svc := NewService(st, st, sched, orch, cfg, logger)

	room, members, users, err := svc.InitializeChat(context.Background(), "debate", []InitUser{
		{Name: "Alice", Persona: "optimist", IsAgent: true},
		{Name: "Bob", Persona: "skeptic", IsAgent: true},
		{Name: "Hana", IsAgent: false},
	})
	require.NoError(t, err)
	require.Len(t, members, 3)

	return &testEnv{
		store: st,
		sched: sched,
		gen:   gen,
		orch:  orch,
		svc:   svc,
		room:  room,
		alice: users[0],
		bob:   users[1],
		human: users[2],
	}
}

func (e *testEnv) post(t *testing.T, userID uuid.UUID, content string, parentID *int64) *models.Message {
	t.Helper()
	msg, err := e.store.Post(context.Background(), store.PostParams{
		RoomID:   e.room.ID,
		UserID:   userID,
		Content:  content,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return msg
}

func TestGenerateNextProducesAlternatingTurn(t *testing.T) {
	e := newTestEnv(t, testChatConfig())
	ctx := context.Background()

	root := e.post(t, e.alice.ID, "the opening claim", nil)

	msg, err := e.orch.GenerateNext(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, e.bob.ID, msg.UserID, "the other agent answers")
	require.Equal(t, root.ID, *msg.ParentID)

	// The flag is cleared once the turn is persisted.
	generating, err := e.sched.IsGenerating(ctx, root.ID)
	require.NoError(t, err)
	require.False(t, generating)

	// Next turn flips back to Alice.
	msg2, err := e.orch.GenerateNext(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, e.alice.ID, msg2.UserID)
}

func TestGenerateNextAfterHumanTurnUsesHumanMode(t *testing.T) {
	e := newTestEnv(t, testChatConfig())
	ctx := context.Background()

	root := e.post(t, e.alice.ID, "claim", nil)
	reply := e.post(t, e.human.ID, "wait, what about X?", &root.ID)

	msg, err := e.orch.GenerateNext(ctx, reply.ID)
	require.NoError(t, err)
	require.NotEqual(t, e.human.ID, msg.UserID)

	_, humanMode, _ := e.gen.counts()
	require.Equal(t, 1, humanMode)
}

func TestGenerateNextAgentModeWhenHumanIsStale(t *testing.T) {
	cfg := testChatConfig()
	cfg.HumanRecentWindow = 2
	e := newTestEnv(t, cfg)
	ctx := context.Background()

	// Human spoke, then two agent turns pushed them out of the recent
	// window.
	root := e.post(t, e.human.ID, "hello", nil)
	m2 := e.post(t, e.alice.ID, "a1", &root.ID)
	m3 := e.post(t, e.bob.ID, "b1", &m2.ID)

	_, err := e.orch.GenerateNext(ctx, m3.ID)
	require.NoError(t, err)

	_, humanMode, _ := e.gen.counts()
	require.Zero(t, humanMode)
}

func TestGenerateNextInterruptedByConcurrentWriter(t *testing.T) {
	e := newTestEnv(t, testChatConfig())
	ctx := context.Background()

	root := e.post(t, e.alice.ID, "claim", nil)

	// A human message lands while the generator call is in flight.
	e.gen.onGenerate = func() {
		e.post(t, e.human.ID, "butting in", &root.ID)
	}

	_, err := e.orch.GenerateNext(ctx, root.ID)
	require.ErrorIs(t, err, store.ErrInterrupted)

	// The human's message is the surviving child.
	child, err := e.store.FindChild(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, e.human.ID, child.UserID)

	generating, err := e.sched.IsGenerating(ctx, root.ID)
	require.NoError(t, err)
	require.False(t, generating)
}

func TestGenerateNextBrokenChainRollsBack(t *testing.T) {
	e := newTestEnv(t, testChatConfig())
	ctx := context.Background()

	root := e.post(t, e.alice.ID, "root", nil)
	m2 := e.post(t, e.bob.ID, "m2", &root.ID)
	m3 := e.post(t, e.alice.ID, "m3", &m2.ID)

	// Sever m2 from the root; generating after m3 must detect the break
	// and delete the orphaned run.
	require.NoError(t, e.store.DetachParent(ctx, m2.ID))

	_, err := e.orch.GenerateNext(ctx, m3.ID)
	require.ErrorIs(t, err, store.ErrBrokenChain)

	for _, id := range []int64{m2.ID, m3.ID} {
		msg, err := e.store.FindByID(ctx, id)
		require.NoError(t, err)
		require.Nil(t, msg)
	}
	survivor, err := e.store.FindByID(ctx, root.ID)
	require.NoError(t, err)
	require.NotNil(t, survivor)
}

func TestGenerateNextPropagatesGeneratorFailure(t *testing.T) {
	e := newTestEnv(t, testChatConfig())
	ctx := context.Background()

	root := e.post(t, e.alice.ID, "root", nil)
	e.gen.failWith = fmt.Errorf("model down: %w", generator.ErrGeneratorFailure)

	_, err := e.orch.GenerateNext(ctx, root.ID)
	require.ErrorIs(t, err, generator.ErrGeneratorFailure)

	// Nothing was written and the flag is clear.
	child, err := e.store.FindChild(ctx, root.ID)
	require.NoError(t, err)
	require.Nil(t, child)
	generating, err := e.sched.IsGenerating(ctx, root.ID)
	require.NoError(t, err)
	require.False(t, generating)
}

func TestContinuationExtendsChain(t *testing.T) {
	cfg := testChatConfig()
	cfg.ContinuationTurns = 3
	e := newTestEnv(t, cfg)
	ctx := context.Background()

	root := e.post(t, e.alice.ID, "root", nil)

	first, err := e.orch.GenerateNext(ctx, root.ID)
	require.NoError(t, err)

	// The continuation loop runs detached; wait for it to append its
	// budgeted turns beyond the first.
	require.Eventually(t, func() bool {
		reached, _, err := e.store.ChainLength(ctx, first.ID, cfg.ContinuationTurns)
		return err == nil && reached
	}, 2*time.Second, 5*time.Millisecond)

	msgs, err := e.store.ListByRoom(ctx, e.room.ID)
	require.NoError(t, err)
	// root + first + 3 continuation turns
	require.Len(t, msgs, 5)

	// Speakers alternate down the whole chain.
	for i := 1; i < len(msgs); i++ {
		require.NotEqual(t, msgs[i-1].UserID, msgs[i].UserID)
	}
}

func TestSummarizeOnlyBeyondVerbatimWindow(t *testing.T) {
	cfg := testChatConfig()
	cfg.VerbatimWindow = 2
	e := newTestEnv(t, cfg)
	ctx := context.Background()

	// Short chain: everything fits the window, no summary call.
	root := e.post(t, e.alice.ID, "a1", nil)
	m2 := e.post(t, e.bob.ID, "b1", &root.ID)
	_, err := e.orch.GenerateNext(ctx, m2.ID)
	require.NoError(t, err)
	_, _, summaries := e.gen.counts()
	require.Zero(t, summaries)

	// Grow the chain past the window; now older turns get summarized.
	tail, err := e.store.FindChild(ctx, m2.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		next, err := e.orch.GenerateNext(ctx, tail.ID)
		require.NoError(t, err)
		tail = next
	}
	_, _, summaries = e.gen.counts()
	require.Positive(t, summaries)
}
