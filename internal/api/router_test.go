package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/api"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/chat"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/config"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/generator"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/handlers"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/scheduler"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/store"
)

type echoGenerator struct {
	mu    sync.Mutex
	turns int
}

func (g *echoGenerator) Summarize(ctx context.Context, messages []generator.ContextMessage, persona string) (string, error) {
	return "summary", nil
}

func (g *echoGenerator) Generate(ctx context.Context, tc generator.TurnContext) (*generator.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.turns++
	return &generator.Result{Target: tc.TargetName, Content: fmt.Sprintf("generated %d", g.turns)}, nil
}

func (g *echoGenerator) GenerateWithHuman(ctx context.Context, tc generator.TurnContext) (*generator.Result, error) {
	return g.Generate(ctx, tc)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	sched := scheduler.NewMemoryScheduler()
	logger := zerolog.Nop()
	cfg := config.ChatConfig{
		VerbatimWindow:    7,
		SummaryTextLimit:  5000,
		SummaryMaxInput:   2000,
		ContinuationTurns: 0,
		Lookahead:         5,
		HumanRecentWindow: 3,
		PollInterval:      5 * time.Millisecond,
		PollMaxAttempts:   20,
	}

	orch := chat.NewOrchestrator(st, st, sched, &echoGenerator{}, cfg, logger)
	svc := chat.NewService(st, st, sched, orch, cfg, logger)

	srv := httptest.NewServer(api.NewRouter(logger, svc, st, sched))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func initialize(t *testing.T, srv *httptest.Server) handlers.InitializeResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/initialize", map[string]any{
		"chat_room_name": "debate",
		"users": []map[string]any{
			{"name": "Alice", "persona": "optimist", "is_agent": true},
			{"name": "Bob", "persona": "skeptic", "is_agent": true},
			{"name": "Hana", "is_agent": false},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[handlers.InitializeResponse](t, resp)
}

func TestInitializeAndConverse(t *testing.T) {
	srv := newTestServer(t)
	init := initialize(t, srv)
	require.Len(t, init.Users, 3)
	require.Len(t, init.Members, 3)

	// Human opens the conversation.
	resp := postJSON(t, srv.URL+"/messages", map[string]any{
		"room_id": init.Room.ID.String(),
		"user_id": init.Users[2].ID.String(),
		"content": "settle this for me",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	root := decode[models.Message](t, resp)
	require.True(t, root.IsRoot)

	// Next turn is generated on demand.
	resp2, err := http.Get(fmt.Sprintf("%s/messages/%d/next", srv.URL, root.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	next := decode[models.Message](t, resp2)
	require.Equal(t, root.ID, *next.ParentID)
	require.Contains(t, next.Content, "generated")

	// The room dump shows the whole chain in order.
	resp3, err := http.Get(srv.URL + "/rooms/" + init.Room.ID.String() + "/messages")
	require.NoError(t, err)
	msgs := decode[[]models.Message](t, resp3)
	require.Len(t, msgs, 2)
	require.Equal(t, root.ID, msgs[0].ID)
}

func TestInitializeValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/initialize", map[string]any{
		"chat_room_name": "",
		"users":          []map[string]any{{"name": "X", "is_agent": true}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// One agent is not a dialogue.
	resp = postJSON(t, srv.URL+"/initialize", map[string]any{
		"chat_room_name": "solo",
		"users": []map[string]any{
			{"name": "Alice", "is_agent": true},
			{"name": "Hana", "is_agent": false},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestPostMessageConflictStatus(t *testing.T) {
	srv := newTestServer(t)
	init := initialize(t, srv)

	resp := postJSON(t, srv.URL+"/messages", map[string]any{
		"room_id": init.Room.ID.String(),
		"user_id": init.Users[0].ID.String(),
		"content": "root",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// A second root is unprocessable: the room already has messages.
	resp = postJSON(t, srv.URL+"/messages", map[string]any{
		"room_id": init.Room.ID.String(),
		"user_id": init.Users[1].ID.String(),
		"content": "another root",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestSetMemberPersona(t *testing.T) {
	srv := newTestServer(t)
	init := initialize(t, srv)

	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/members/%d/persona", srv.URL, init.Members[0].ID),
		bytes.NewReader([]byte(`{"persona":"devil's advocate"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	member := decode[models.Member](t, resp)
	require.Equal(t, "devil's advocate", member.Persona)
}

func TestRoomLookupErrors(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/rooms/not-a-uuid")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/rooms/00000000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthAndStats(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[handlers.HealthResponse](t, resp)
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "pass", health.Checks["store"].Status)

	initialize(t, srv)
	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	stats := decode[handlers.StatsResponse](t, resp)
	require.Equal(t, 1, stats.TotalRooms)
	require.EqualValues(t, 0, stats.TotalMessages)
}

func TestGetUsersBatch(t *testing.T) {
	srv := newTestServer(t)
	init := initialize(t, srv)

	url := fmt.Sprintf("%s/users?ids=%s,%s&agents_only=true",
		srv.URL, init.Users[0].ID, init.Users[2].ID)
	resp, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decode[[]models.User](t, resp)
	require.Len(t, users, 1)
	require.Equal(t, "Alice", users[0].Name)
}
