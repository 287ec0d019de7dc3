package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	id "unionvote/pkg/domain"
	audit "unionvote/pkg/platform/audit"
	"unionvote/pkg/platform/audit/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	votingID := id.VotingID(uuid.New())
	event := audit.Event{
		VotingID: votingID,
		Action:   string(audit.EventVotingCreated),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), votingID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventVotingCreated), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	votingID := id.VotingID(uuid.New())
	err := pub.Emit(context.Background(), audit.Event{
		VotingID: votingID,
		Action:   string(audit.EventVerificationFailed),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), votingID)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	votingID := id.VotingID(uuid.New())
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			VotingID: votingID,
			Action:   string(audit.EventResultsViewed),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByVoting(context.Background(), votingID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_ComplianceEventsBypassBuffer(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	votingID := id.VotingID(uuid.New())
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		VotingID: votingID,
		Action:   string(audit.EventBallotCast),
	}))

	// Written before Emit returns.
	events, err := store.ListByVoting(context.Background(), votingID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublisher_BufferFull_DoesNotPanic(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	votingID := id.VotingID(uuid.New())
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), audit.Event{
				VotingID: votingID,
				Action:   string(audit.EventResultsViewed),
			})
		}()
	}
	wg.Wait()
}

func TestPublisher_EmitAfterCloseWritesThrough(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(4))
	pub.Close()
	pub.Close()

	votingID := id.VotingID(uuid.New())
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		VotingID: votingID,
		Action:   string(audit.EventResultsViewed),
	}))
	events, err := store.ListByVoting(context.Background(), votingID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))
	defer pub.Close()

	votingID := id.VotingID(uuid.New())
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		VotingID: votingID,
		Action:   string(audit.EventVotingEnded),
	}))

	events, err := pub.List(context.Background(), votingID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	votingID := id.VotingID(uuid.New())
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		VotingID:  votingID,
		Action:    string(audit.EventVotingEnded),
		Timestamp: customTime,
	}))

	events, err := pub.List(context.Background(), votingID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_MultipleEventsKeepOrder(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	votingID := id.VotingID(uuid.New())
	actions := []audit.AuditEvent{audit.EventVotingCreated, audit.EventVotingScheduled, audit.EventVotingActivated}
	for _, a := range actions {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{VotingID: votingID, Action: string(a)}))
	}

	result, err := pub.List(context.Background(), votingID)
	require.NoError(t, err)
	require.Len(t, result, 3)
	for i, a := range actions {
		assert.Equal(t, string(a), result[i].Action)
	}
}
