package store

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

type fixture struct {
	store *MemoryStore
	room  *models.Room
	alice *models.User
	bob   *models.User
	human *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()

	alice, err := s.CreateUser(ctx, "Alice", "optimist", true)
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, "Bob", "skeptic", true)
	require.NoError(t, err)
	human, err := s.CreateUser(ctx, "Hana", "", false)
	require.NoError(t, err)

	room, err := s.CreateRoom(ctx, "debate")
	require.NoError(t, err)
	_, err = s.AddMembers(ctx, room.ID, []uuid.UUID{alice.ID, bob.ID, human.ID})
	require.NoError(t, err)

	return &fixture{store: s, room: room, alice: alice, bob: bob, human: human}
}

func (f *fixture) post(t *testing.T, userID uuid.UUID, content string, parentID *int64) *models.Message {
	t.Helper()
	msg, err := f.store.Post(context.Background(), PostParams{
		RoomID:   f.room.ID,
		UserID:   userID,
		Content:  content,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return msg
}

func TestPostRootAndChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.post(t, f.alice.ID, "it begins", nil)
	require.True(t, root.IsRoot)
	require.Nil(t, root.ParentID)

	child := f.post(t, f.bob.ID, "a reply", &root.ID)
	require.False(t, child.IsRoot)
	require.Greater(t, child.ID, root.ID)

	room, err := f.store.GetRoom(ctx, f.room.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, room.MessageCount)
}

func TestPostParentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A parent reference into an empty room is rejected.
	bogus := int64(99)
	_, err := f.store.Post(ctx, PostParams{RoomID: f.room.ID, UserID: f.alice.ID, Content: "x", ParentID: &bogus})
	require.ErrorIs(t, err, ErrNotFound)

	root := f.post(t, f.alice.ID, "root", nil)

	// A second root is rejected.
	_, err = f.store.Post(ctx, PostParams{RoomID: f.room.ID, UserID: f.bob.ID, Content: "x"})
	require.ErrorIs(t, err, ErrMissingParent)

	// A second child of the same parent is rejected.
	f.post(t, f.bob.ID, "first child", &root.ID)
	_, err = f.store.Post(ctx, PostParams{RoomID: f.room.ID, UserID: f.alice.ID, Content: "x", ParentID: &root.ID})
	require.ErrorIs(t, err, ErrChainConflict)
}

func TestPostConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.post(t, f.alice.ID, "root", nil)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.store.Post(ctx, PostParams{
				RoomID:   f.room.ID,
				UserID:   f.bob.ID,
				Content:  "contender",
				ParentID: &root.ID,
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrChainConflict)
		}
	}
	require.Equal(t, 1, wins)
}

func TestPostPlayedFractionTruncatesParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.post(t, f.alice.ID, "0123456789", nil)

	fraction := 0.5
	_, err := f.store.Post(ctx, PostParams{
		RoomID:         f.room.ID,
		UserID:         f.human.ID,
		Content:        "cut in",
		ParentID:       &root.ID,
		PlayedFraction: &fraction,
	})
	require.NoError(t, err)

	parent, err := f.store.FindByID(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, "01234", parent.Content)
}

func TestTruncateToFractionRunes(t *testing.T) {
	require.Equal(t, "こん", truncateToFraction("こんにちは", 0.5))
	require.Equal(t, "abc", truncateToFraction("abc", 1.5))
	require.Equal(t, "", truncateToFraction("abc", -1))
}

func TestFindChildAndDetach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.post(t, f.alice.ID, "root", nil)
	child := f.post(t, f.bob.ID, "child", &root.ID)

	got, err := f.store.FindChild(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, child.ID, got.ID)

	require.NoError(t, f.store.DetachParent(ctx, child.ID))

	got, err = f.store.FindChild(ctx, root.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	detached, err := f.store.FindByID(ctx, child.ID)
	require.NoError(t, err)
	require.Nil(t, detached.ParentID)

	// Detaching an unknown id is a no-op.
	require.NoError(t, f.store.DetachParent(ctx, 404))
}

func TestSameSpeakerRun(t *testing.T) {
	f := newFixture(t)

	root := f.post(t, f.alice.ID, "a1", nil)
	m2 := f.post(t, f.bob.ID, "b1", &root.ID)
	m3 := f.post(t, f.bob.ID, "b2", &m2.ID)
	m4 := f.post(t, f.bob.ID, "b3", &m3.ID)

	run, err := f.store.SameSpeakerRun(context.Background(), m4.ID)
	require.NoError(t, err)
	require.Len(t, run, 3)
	require.Equal(t, []string{"b3", "b2", "b1"}, []string{run[0].Content, run[1].Content, run[2].Content})
}

func TestRecentWindowBounds(t *testing.T) {
	f := newFixture(t)

	root := f.post(t, f.alice.ID, "m1", nil)
	prev := root
	for i := 2; i <= 5; i++ {
		prev = f.post(t, f.bob.ID, "m", &prev.ID)
	}

	window, err := f.store.RecentWindow(context.Background(), prev.ID, 3)
	require.NoError(t, err)
	require.Len(t, window, 3)
	require.Equal(t, prev.ID, window[0].ID)

	// Shorter chains return what exists.
	window, err = f.store.RecentWindow(context.Background(), root.ID, 3)
	require.NoError(t, err)
	require.Len(t, window, 1)

	_, err = f.store.RecentWindow(context.Background(), 404, 3)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserHistoryTextLimit(t *testing.T) {
	f := newFixture(t)

	// Alternate speakers; Alice's turns are 10 chars each.
	content := strings.Repeat("a", 10)
	prev := f.post(t, f.alice.ID, content, nil)
	for i := 0; i < 5; i++ {
		prev = f.post(t, f.bob.ID, "b", &prev.ID)
		prev = f.post(t, f.alice.ID, content, &prev.ID)
	}

	// Limit 25 admits turns until the cumulative length crosses it: the
	// crossing turn is included.
	history, err := f.store.UserHistory(context.Background(), prev.ID, f.alice.ID, 25)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, msg := range history {
		require.Equal(t, f.alice.ID, msg.UserID)
	}
}

func TestHasChainToRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.post(t, f.alice.ID, "root", nil)
	m2 := f.post(t, f.bob.ID, "m2", &root.ID)
	m3 := f.post(t, f.alice.ID, "m3", &m2.ID)

	intact, err := f.store.HasChainToRoot(ctx, m3.ID)
	require.NoError(t, err)
	require.True(t, intact)

	// Breaking a middle link severs everything below it.
	require.NoError(t, f.store.DetachParent(ctx, m2.ID))
	intact, err = f.store.HasChainToRoot(ctx, m3.ID)
	require.NoError(t, err)
	require.False(t, intact)

	// Missing ids are simply not chained.
	intact, err = f.store.HasChainToRoot(ctx, 404)
	require.NoError(t, err)
	require.False(t, intact)
}

func TestDeleteAncestryScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.post(t, f.alice.ID, "root", nil)
	m2 := f.post(t, f.bob.ID, "m2", &root.ID)
	m3 := f.post(t, f.alice.ID, "m3", &m2.ID)

	// Break the chain between root and m2, then roll back from m3: the
	// deletion stops at the break and the root survives.
	require.NoError(t, f.store.DetachParent(ctx, m2.ID))
	require.NoError(t, f.store.DeleteAncestry(ctx, m3.ID))

	for _, id := range []int64{m2.ID, m3.ID} {
		msg, err := f.store.FindByID(ctx, id)
		require.NoError(t, err)
		require.Nil(t, msg)
	}
	msg, err := f.store.FindByID(ctx, root.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)

	room, err := f.store.GetRoom(ctx, f.room.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, room.MessageCount)
}

func TestChainLength(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.post(t, f.alice.ID, "root", nil)
	m2 := f.post(t, f.bob.ID, "m2", &root.ID)
	m3 := f.post(t, f.alice.ID, "m3", &m2.ID)

	reached, tail, err := f.store.ChainLength(ctx, root.ID, 2)
	require.NoError(t, err)
	require.True(t, reached)
	require.Equal(t, m3.ID, tail)

	reached, tail, err = f.store.ChainLength(ctx, root.ID, 5)
	require.NoError(t, err)
	require.False(t, reached)
	require.Equal(t, m3.ID, tail)
}

func TestGetUsersOrderAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	users, err := f.store.GetUsers(ctx, []uuid.UUID{f.human.ID, f.alice.ID, uuid.New()}, false)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "Hana", users[0].Name)
	require.Equal(t, "Alice", users[1].Name)

	agents, err := f.store.GetUsers(ctx, []uuid.UUID{f.human.ID, f.alice.ID, f.bob.ID}, true)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, u := range agents {
		require.True(t, u.IsAgent)
	}
}

func TestMemberPersona(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	member, err := f.store.FindMemberByUser(ctx, f.alice.ID)
	require.NoError(t, err)
	require.NotNil(t, member)
	require.Empty(t, member.Persona)
	require.Equal(t, "optimist", models.EffectivePersona(member, f.alice))

	updated, err := f.store.SetMemberPersona(ctx, member.ID, "contrarian")
	require.NoError(t, err)
	require.Equal(t, "contrarian", models.EffectivePersona(updated, f.alice))

	_, err = f.store.SetMemberPersona(ctx, 404, "x")
	require.ErrorIs(t, err, ErrNotFound)
}
