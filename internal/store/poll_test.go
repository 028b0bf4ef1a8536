package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAwaitChildReturnsLateChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.post(t, f.alice.ID, "root", nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.store.Post(ctx, PostParams{
			RoomID:   f.room.ID,
			UserID:   f.bob.ID,
			Content:  "late child",
			ParentID: &root.ID,
		})
	}()

	child, err := AwaitChild(ctx, f.store, root.ID, 5*time.Millisecond, 100)
	require.NoError(t, err)
	require.Equal(t, "late child", child.Content)
}

func TestAwaitChildTimeout(t *testing.T) {
	f := newFixture(t)
	root := f.post(t, f.alice.ID, "root", nil)

	_, err := AwaitChild(context.Background(), f.store, root.ID, time.Millisecond, 5)
	require.ErrorIs(t, err, ErrPollTimeout)
}

func TestAwaitChildContextCancel(t *testing.T) {
	f := newFixture(t)
	root := f.post(t, f.alice.ID, "root", nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := AwaitChild(ctx, f.store, root.ID, 5*time.Millisecond, 1000)
	require.ErrorIs(t, err, context.Canceled)
}
