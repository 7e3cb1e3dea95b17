package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/events"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	source *fakeSource
	feed   *fakeFeed
	sched  *fakeScheduler
	bus    *events.Bus
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source: newFakeSource(),
		feed:   newFakeFeed(),
		sched:  &fakeScheduler{},
		bus:    events.NewBus(),
	}
	h.engine = NewEngine(h.source, h.feed, Options{
		Schedule: h.sched.schedule,
		Bus:      h.bus,
		Now:      func() time.Time { return fixedNow },
	})
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) eventually(t *testing.T, cond func(Snapshot) bool, msg string) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.engine.Snapshot()) }, waitFor, tick, msg)
	return h.engine.Snapshot()
}

func (h *harness) waitSubs(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.feed.count() == n }, waitFor, tick, "expected %d subscriptions", n)
}

func (h *harness) waitScheduled(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sched.count() == n }, waitFor, tick, "expected %d scheduled reconnects", n)
}

func loaded(s Snapshot) bool { return !s.Loading }

func inPhase(p Phase) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.Connection.Phase == p }
}

func TestEngine_StartFetchesAndSubscribes(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	older, newer := conv(userID, 1), conv(userID, 9)
	h.source.set(userID, older, newer)

	// ACT
	require.NoError(t, h.engine.Start(userID))

	// ASSERT
	snap := h.eventually(t, loaded, "initial fetch")
	assert.Equal(t, userID, snap.UserID)
	assert.NoError(t, snap.Err)
	assert.Equal(t, []uuid.UUID{newer.ID, older.ID}, ids(snap.Conversations))

	h.waitSubs(t, 1)
	assert.Equal(t, userID, h.feed.sub(0).userID)
	assert.True(t, h.engine.Snapshot().Connection.IsConnecting)

	h.feed.sub(0).ack()
	snap = h.eventually(t, inPhase(PhaseConnected), "subscribed")
	assert.Equal(t, ConnectionState{
		Phase:           PhaseConnected,
		IsConnected:     true,
		LastConnectedAt: fixedNow,
	}, snap.Connection)
}

func TestEngine_FetchErrorDoesNotAbortSubscription(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.source.fail(errors.New("boom"))

	require.NoError(t, h.engine.Start(userID))

	snap := h.eventually(t, func(s Snapshot) bool { return !s.Loading && s.Err != nil }, "fetch error surfaced")
	assert.ErrorContains(t, snap.Err, "boom")
	h.waitSubs(t, 1)
}

func TestEngine_FetchTimeoutIsFetchError(t *testing.T) {
	// ARRANGE
	source, feed := newFakeSource(), newFakeFeed()
	engine := NewEngine(source, feed, Options{FetchTimeout: 20 * time.Millisecond, Schedule: (&fakeScheduler{}).schedule})
	t.Cleanup(engine.Close)
	userID := uuid.New()
	release := source.hold(userID)
	defer release()

	// ACT
	require.NoError(t, engine.Start(userID))

	// ASSERT
	require.Eventually(t, func() bool {
		s := engine.Snapshot()
		return !s.Loading && s.Err != nil
	}, waitFor, tick)
	assert.ErrorIs(t, engine.Snapshot().Err, context.DeadlineExceeded)
}

func TestEngine_AppliesChangeEvents(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	existing := conv(userID, 1)
	h.source.set(userID, existing)
	require.NoError(t, h.engine.Start(userID))
	h.eventually(t, loaded, "initial fetch")
	h.waitSubs(t, 1)
	sub := h.feed.sub(0)
	sub.ack()

	fresh := conv(userID, 20)
	status := models.StatusResolved

	// ACT
	sub.event(models.Inserted(fresh))
	sub.event(models.Inserted(conv(uuid.New(), 30)))
	sub.event(models.ChangeEvent{Type: "TRUNCATE", ID: uuid.New()})
	sub.event(models.Updated(models.ConversationPatch{ID: &existing.ID, UserID: &userID, Status: &status}))
	sub.event(models.Deleted(fresh.ID))

	// ASSERT
	snap := h.eventually(t, func(s Snapshot) bool {
		return len(s.Conversations) == 1 && s.Conversations[0].Status == models.StatusResolved
	}, "events merged")
	assert.Equal(t, existing.ID, snap.Conversations[0].ID)
}

func TestEngine_BackoffThenConnectionLost(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	h.feed.fail(errors.New("unreachable"))
	userID := uuid.New()

	// ACT
	require.NoError(t, h.engine.Start(userID))
	for n := 1; n <= DefaultMaxAttempts; n++ {
		h.eventually(t, func(s Snapshot) bool {
			return s.Connection.Phase == PhaseDisconnected && s.Connection.ReconnectAttempts == n
		}, "waiting for reconnect")
		h.waitScheduled(t, n)
		h.sched.fire(n - 1)
	}

	// ASSERT
	snap := h.eventually(t, inPhase(PhaseLost), "terminal state")
	assert.ErrorIs(t, snap.Connection.Err, ErrConnectionLost)
	assert.False(t, snap.Connection.IsConnected)
	assert.False(t, snap.Connection.IsConnecting)
	assert.NoError(t, snap.Err, "terminal state is not reported as a fetch error")

	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		6 * time.Second,
		8 * time.Second,
		10 * time.Second,
	}, h.sched.recorded())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, DefaultMaxAttempts, h.sched.count(), "no retries after the terminal state")
	assert.Equal(t, DefaultMaxAttempts+1, h.feed.opens())
}

func TestEngine_SubscribedResetsAttempts(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	require.NoError(t, h.engine.Start(userID))
	h.waitSubs(t, 1)
	h.feed.sub(0).ack()
	h.eventually(t, inPhase(PhaseConnected), "connected")

	// ACT
	h.feed.sub(0).drop(errors.New("socket closed"))
	h.waitScheduled(t, 1)
	snap := h.eventually(t, inPhase(PhaseDisconnected), "disconnected")
	assert.False(t, snap.Connection.IsConnected)
	assert.False(t, snap.Connection.IsConnecting)
	assert.Equal(t, 1, snap.Connection.ReconnectAttempts)

	h.sched.fire(0)
	h.waitSubs(t, 2)
	h.feed.sub(1).ack()

	// ASSERT
	snap = h.eventually(t, inPhase(PhaseConnected), "reconnected")
	assert.Equal(t, 0, snap.Connection.ReconnectAttempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sched.recorded())
}

func TestEngine_ReconnectTearsDownPreviousSubscription(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	require.NoError(t, h.engine.Start(userID))
	h.waitSubs(t, 1)
	h.feed.sub(0).ack()
	h.eventually(t, inPhase(PhaseConnected), "connected")

	// ACT
	require.NoError(t, h.engine.Reconnect())
	h.waitSubs(t, 2)

	// ASSERT
	assert.True(t, h.feed.sub(0).isClosed())
	assert.Equal(t, []int{0, 0}, h.feed.live(), "no subscription is open when a new one is requested")
}

func TestEngine_ReconnectRecoversFromConnectionLost(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	h.feed.fail(errors.New("unreachable"))
	userID := uuid.New()
	require.NoError(t, h.engine.Start(userID))
	for n := 1; n <= DefaultMaxAttempts; n++ {
		h.eventually(t, func(s Snapshot) bool { return s.Connection.ReconnectAttempts == n }, "waiting for reconnect")
		h.waitScheduled(t, n)
		h.sched.fire(n - 1)
	}
	h.eventually(t, inPhase(PhaseLost), "terminal state")

	// ACT
	h.feed.fail(nil)
	require.NoError(t, h.engine.Reconnect())
	h.waitSubs(t, 1)
	h.feed.sub(0).ack()

	// ASSERT
	snap := h.eventually(t, inPhase(PhaseConnected), "recovered")
	assert.NoError(t, snap.Connection.Err)
	assert.Equal(t, 0, snap.Connection.ReconnectAttempts)
}

func TestEngine_StopIsIdempotentAndCancelsRetry(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	require.NoError(t, h.engine.Start(userID))
	h.waitSubs(t, 1)
	h.feed.sub(0).drop(errors.New("socket closed"))
	h.waitScheduled(t, 1)

	// ACT
	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Stop())

	// ASSERT
	snap := h.engine.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Connection.Phase)
	assert.False(t, snap.Loading)
	assert.True(t, h.sched.isCancelled(0))

	h.sched.forceFire(0)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.feed.opens(), "a timer that fires after Stop does not reconnect")
}

func TestEngine_StopClosesSubscription(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Start(uuid.New()))
	h.waitSubs(t, 1)

	require.NoError(t, h.engine.Stop())

	require.Eventually(t, h.feed.sub(0).isClosed, waitFor, tick)
}

func TestEngine_StopDiscardsInFlightSubscribe(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.source.set(bob, conv(bob, 1))
	release := h.feed.hold(alice)
	require.NoError(t, h.engine.Start(alice))
	require.Eventually(t, func() bool { return h.feed.opens() == 1 }, waitFor, tick)

	// ACT
	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Start(bob))
	h.waitSubs(t, 1)
	bobSub := h.feed.sub(0)
	release()
	h.waitSubs(t, 2)
	aliceSub := h.feed.sub(1)

	// ASSERT
	require.Eventually(t, aliceSub.isClosed, waitFor, tick, "stale subscription is closed")
	assert.Equal(t, alice, aliceSub.userID)
	assert.False(t, bobSub.isClosed())

	bobSub.ack()
	snap := h.eventually(t, inPhase(PhaseConnected), "bob connected")
	assert.Equal(t, bob, snap.UserID)
}

func TestEngine_StopDiscardsInFlightFetch(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.source.set(alice, conv(alice, 5))
	bobConv := conv(bob, 1)
	h.source.set(bob, bobConv)
	release := h.source.hold(alice)
	require.NoError(t, h.engine.Start(alice))

	// ACT
	require.NoError(t, h.engine.Start(bob))
	h.eventually(t, loaded, "bob fetched")
	release()
	time.Sleep(50 * time.Millisecond)

	// ASSERT
	snap := h.engine.Snapshot()
	assert.Equal(t, bob, snap.UserID)
	assert.Equal(t, []uuid.UUID{bobConv.ID}, ids(snap.Conversations))
}

func TestEngine_StartDifferentUserStopsPrevious(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	aliceConv, bobConv := conv(alice, 1), conv(bob, 2)
	h.source.set(alice, aliceConv)
	h.source.set(bob, bobConv)
	require.NoError(t, h.engine.Start(alice))
	h.waitSubs(t, 1)
	h.eventually(t, loaded, "alice fetched")

	// ACT
	require.NoError(t, h.engine.Start(bob))

	// ASSERT
	require.Eventually(t, h.feed.sub(0).isClosed, waitFor, tick)
	h.waitSubs(t, 2)
	assert.Equal(t, bob, h.feed.sub(1).userID)
	snap := h.eventually(t, func(s Snapshot) bool { return !s.Loading && len(s.Conversations) == 1 }, "bob fetched")
	assert.Equal(t, bobConv.ID, snap.Conversations[0].ID)
}

func TestEngine_StartSameUserIsNoop(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	require.NoError(t, h.engine.Start(userID))
	h.waitSubs(t, 1)
	h.eventually(t, loaded, "fetched")

	require.NoError(t, h.engine.Start(userID))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, h.feed.opens())
	assert.Equal(t, 1, h.source.callCount())
	assert.False(t, h.feed.sub(0).isClosed())
}

func TestEngine_Refresh(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	first := conv(userID, 1)
	h.source.set(userID, first)
	require.NoError(t, h.engine.Start(userID))
	h.waitSubs(t, 1)
	h.feed.sub(0).ack()
	h.eventually(t, func(s Snapshot) bool { return loaded(s) && s.Connection.IsConnected }, "ready")

	second := conv(userID, 2)
	h.source.set(userID, first, second)

	// ACT
	err := h.engine.Refresh(context.Background())

	// ASSERT
	require.NoError(t, err)
	snap := h.engine.Snapshot()
	assert.Equal(t, []uuid.UUID{second.ID, first.ID}, ids(snap.Conversations))
	assert.True(t, snap.Connection.IsConnected)
	assert.Equal(t, 1, h.feed.opens())
}

func TestEngine_RefreshReturnsFetchError(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	kept := conv(userID, 1)
	h.source.set(userID, kept)
	require.NoError(t, h.engine.Start(userID))
	h.eventually(t, loaded, "fetched")

	h.source.fail(errors.New("db down"))
	err := h.engine.Refresh(context.Background())

	assert.ErrorContains(t, err, "db down")
	snap := h.engine.Snapshot()
	assert.ErrorContains(t, snap.Err, "db down")
	assert.Equal(t, []uuid.UUID{kept.ID}, ids(snap.Conversations), "a failed refresh keeps the current list")
}

func TestEngine_EventsDuringFetchSurviveItsResult(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	stored := conv(userID, 1)
	h.source.set(userID, stored)
	release := h.source.hold(userID)
	defer release()
	require.NoError(t, h.engine.Start(userID))
	h.waitSubs(t, 1)
	sub := h.feed.sub(0)
	sub.ack()
	h.eventually(t, inPhase(PhaseConnected), "subscribed while loading")

	fresh := conv(userID, 5)
	status := models.StatusResolved

	// ACT
	sub.event(models.Inserted(fresh))
	sub.event(models.Updated(models.ConversationPatch{ID: &stored.ID, UserID: &userID, Status: &status}))
	h.eventually(t, func(s Snapshot) bool { return s.Loading && len(s.Conversations) == 1 }, "insert applied before rows land")
	release()

	// ASSERT
	snap := h.eventually(t, loaded, "fetch landed")
	require.Equal(t, []uuid.UUID{fresh.ID, stored.ID}, ids(snap.Conversations))
	assert.Equal(t, models.StatusResolved, snap.Conversations[1].Status)
}

func TestEngine_SupersededRefreshReportsLandedFetch(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	kept := conv(userID, 1)
	h.source.set(userID, kept)
	require.NoError(t, h.engine.Start(userID))
	h.eventually(t, loaded, "fetched")
	calls := h.source.callCount()

	release := h.source.hold(userID)
	defer release()
	h.source.fail(errors.New("db down"))
	first := make(chan error, 1)
	go func() { first <- h.engine.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return h.source.callCount() == calls+1 }, waitFor, tick)

	h.source.fail(nil)
	second := make(chan error, 1)
	go func() { second <- h.engine.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return h.source.callCount() == calls+2 }, waitFor, tick)

	// ACT
	release()

	// ASSERT
	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("refresh did not return")
		}
	}
	snap := h.engine.Snapshot()
	assert.NoError(t, snap.Err)
	assert.Equal(t, []uuid.UUID{kept.ID}, ids(snap.Conversations))
}

func TestEngine_RequiresStart(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.engine.Refresh(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, h.engine.Reconnect(), ErrNotStarted)
	assert.NoError(t, h.engine.Stop())
}

func TestEngine_PublishesSnapshotsOnBus(t *testing.T) {
	// ARRANGE
	h := newHarness(t)
	userID := uuid.New()
	h.source.set(userID, conv(userID, 1))
	got := make(chan Snapshot, 32)
	unsubscribe := Observe(h.bus, userID, func(s Snapshot) {
		select {
		case got <- s:
		default:
		}
	})
	defer unsubscribe()

	// ACT
	require.NoError(t, h.engine.Start(userID))

	// ASSERT
	deadline := time.After(waitFor)
	for {
		select {
		case s := <-got:
			assert.Equal(t, userID, s.UserID)
			if !s.Loading && len(s.Conversations) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("no loaded snapshot published")
		}
	}
}

func TestEngine_SnapshotIsACopy(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.source.set(userID, conv(userID, 1))
	require.NoError(t, h.engine.Start(userID))
	snap := h.eventually(t, loaded, "fetched")

	snap.Conversations[0].Status = models.StatusResolved

	assert.Equal(t, models.StatusUnread, h.engine.Snapshot().Conversations[0].Status)
}

func TestEngine_ClosedEngineRejectsCalls(t *testing.T) {
	engine := NewEngine(newFakeSource(), newFakeFeed(), Options{})
	engine.Close()
	engine.Close()

	assert.ErrorIs(t, engine.Start(uuid.New()), ErrEngineClosed)
	assert.ErrorIs(t, engine.Refresh(context.Background()), ErrEngineClosed)
}
