package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vaxledger/pkg/domain"
	audit "vaxledger/pkg/platform/audit"
	"vaxledger/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	childID := id.ChildID(uuid.New())
	err := pub.Emit(context.Background(), audit.Event{
		ChildID: childID,
		Action:  string(audit.EventImmunizationRecorded),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), childID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventImmunizationRecorded), events[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	childID := id.ChildID(uuid.New())
	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			ChildID: childID,
			Action:  string(audit.EventCertificateIssued),
		}))
	}

	require.NoError(t, pub.Close())

	events, err := store.ListByChild(context.Background(), childID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DoesNotPanic(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	childID := id.ChildID(uuid.New())
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{ChildID: childID, Action: "x"})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_Timestamps(t *testing.T) {
	t.Run("sets missing timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		pub := NewPublisher(store)
		childID := id.ChildID(uuid.New())

		before := time.Now()
		require.NoError(t, pub.Emit(context.Background(), audit.Event{ChildID: childID, Action: "x"}))
		after := time.Now()

		events, err := pub.List(context.Background(), childID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].Timestamp.Before(before))
		assert.False(t, events[0].Timestamp.After(after))
	})

	t.Run("preserves existing timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		pub := NewPublisher(store)
		childID := id.ChildID(uuid.New())
		custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, pub.Emit(context.Background(), audit.Event{ChildID: childID, Action: "x", Timestamp: custom}))

		events, err := pub.List(context.Background(), childID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, custom, events[0].Timestamp)
	})
}
