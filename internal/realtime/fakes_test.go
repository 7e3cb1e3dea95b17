package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/changefeed"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  map[uuid.UUID][]models.Conversation
	err   error
	gates map[uuid.UUID]chan struct{}
	calls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		rows:  make(map[uuid.UUID][]models.Conversation),
		gates: make(map[uuid.UUID]chan struct{}),
	}
}

func (f *fakeSource) set(userID uuid.UUID, list ...models.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[userID] = list
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// hold makes fetches for userID wait until the returned function is called.
func (f *fakeSource) hold(userID uuid.UUID) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[userID] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[userID]
	list, err := f.rows[userID], f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]*models.Conversation, len(list))
	for i := range list {
		c := list[i]
		out[i] = &c
	}
	return out, nil
}

type fakeSub struct {
	userID uuid.UUID
	ch     chan changefeed.Notification

	mu     sync.Mutex
	ended  bool
	closed bool
}

func (s *fakeSub) Notifications() <-chan changefeed.Notification {
	return s.ch
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) send(n changefeed.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ch <- n
	}
}

func (s *fakeSub) ack() {
	s.send(changefeed.Notification{Status: changefeed.StatusSubscribed})
}

func (s *fakeSub) event(ev models.ChangeEvent) {
	s.send(changefeed.Notification{Status: changefeed.StatusEvent, Event: ev})
}

// drop simulates a transport failure.
func (s *fakeSub) drop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ch <- changefeed.Notification{Status: changefeed.StatusClosed, Err: err}
	s.ended = true
	close(s.ch)
}

type fakeFeed struct {
	mu      sync.Mutex
	subs    []*fakeSub
	failAll error
	gates   map[uuid.UUID]chan struct{}
	// liveAtOpen records how many subscriptions were still open at each
	// Subscribe call.
	liveAtOpen []int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{gates: make(map[uuid.UUID]chan struct{})}
}

func (f *fakeFeed) hold(userID uuid.UUID) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[userID] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = err
}

func (f *fakeFeed) Subscribe(ctx context.Context, userID uuid.UUID) (changefeed.Subscription, error) {
	f.mu.Lock()
	live := 0
	for _, s := range f.subs {
		s.mu.Lock()
		if !s.ended {
			live++
		}
		s.mu.Unlock()
	}
	f.liveAtOpen = append(f.liveAtOpen, live)
	gate, err := f.gates[userID], f.failAll
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	sub := &fakeSub{userID: userID, ch: make(chan changefeed.Notification, 16)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.liveAtOpen)
}

func (f *fakeFeed) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *fakeFeed) live() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.liveAtOpen...)
}

type fakeScheduler struct {
	mu        sync.Mutex
	delays    []time.Duration
	fns       []func()
	cancelled []bool
}

func (s *fakeScheduler) schedule(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.fns)
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, fn)
	s.cancelled = append(s.cancelled, false)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelled[i] = true
	}
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *fakeScheduler) isCancelled(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[i]
}

// fire runs timer i as if it had expired, unless it was cancelled.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	fn, cancelled := s.fns[i], s.cancelled[i]
	s.mu.Unlock()
	if !cancelled {
		fn()
	}
}

// forceFire runs timer i even if it was cancelled, like a timer that had
// already expired when it was stopped.
func (s *fakeScheduler) forceFire(i int) {
	s.mu.Lock()
	fn := s.fns[i]
	s.mu.Unlock()
	fn()
}
