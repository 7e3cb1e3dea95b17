// Package realtime keeps an always-current list of one account's
// conversations from an initial fetch plus a live change feed, reconnecting
// with a linear backoff when the feed drops.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/changefeed"
	"github.com/prudhvinik1/inboxsync/internal/events"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseDelay    = 2 * time.Second
	DefaultMaxAttempts  = 5
	DefaultFetchTimeout = 15 * time.Second
)

// Scheduler runs fn once after d and returns a function that cancels it.
type Scheduler func(d time.Duration, fn func()) (cancel func())

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

type Options struct {
	BaseDelay    time.Duration
	MaxAttempts  int
	FetchTimeout time.Duration
	// Schedule defaults to time.AfterFunc.
	Schedule Scheduler
	// Bus, when set, receives every new Snapshot on events.SnapshotTopic.
	Bus *events.Bus
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Schedule == nil {
		o.Schedule = afterFunc
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine tracks the conversations of at most one account at a time. All
// state is owned by a single loop goroutine; public methods hand work to it
// and never touch state directly. Results of fetches, subscription opens and
// timers are tagged with the generation they were started in and are
// discarded once Stop or a new Start has moved the generation on.
//
// Bus handlers run on the loop goroutine and must not call back into the
// engine synchronously.
type Engine struct {
	source repositories.ConversationSource
	feed   changefeed.Feed
	opts   Options

	cmds      chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	running     bool
	gen         uint64
	genCtx      context.Context
	genCancel   context.CancelFunc
	fetchSeq    uint64
	connSeq     uint64
	sub         changefeed.Subscription
	cancelRetry func()
	state       Snapshot

	// waiters are Refresh callers answered by whichever fetch lands next.
	waiters []chan<- error

	// replay holds the events applied while a fetch is in flight. They are
	// reapplied over its rows, which may predate them.
	replay []models.ChangeEvent

	mu        sync.RWMutex
	published Snapshot
}

func NewEngine(source repositories.ConversationSource, feed changefeed.Feed, opts Options) *Engine {
	e := &Engine{
		source: source,
		feed:   feed,
		opts:   opts.withDefaults(),
		cmds:   make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.published = e.state.clone()
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.quit:
			e.answer(ErrEngineClosed)
			e.stop()
			return
		}
	}
}

// post hands fn to the loop. It reports false once the engine is closed.
func (e *Engine) post(fn func()) bool {
	select {
	case e.cmds <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (e *Engine) call(fn func()) error {
	finished := make(chan struct{})
	if !e.post(func() { fn(); close(finished) }) {
		return ErrEngineClosed
	}
	<-finished
	return nil
}

// Start begins tracking userID: one fetch and one change feed subscription.
// Starting the account already being tracked is a no-op; starting a different
// one stops the current tracking first.
func (e *Engine) Start(userID uuid.UUID) error {
	return e.call(func() { e.start(userID) })
}

// Stop releases the subscription and any pending reconnect. In-flight fetch
// and subscribe results are discarded. Safe to call repeatedly.
func (e *Engine) Stop() error {
	return e.call(func() {
		if e.stop() {
			e.publish()
		}
	})
}

// Refresh performs a fresh full fetch and returns its error. When a later
// fetch supersedes it, the result of that later fetch is returned instead.
// The change feed is left alone.
func (e *Engine) Refresh(ctx context.Context) error {
	reply := make(chan error, 1)
	var startErr error
	if err := e.call(func() {
		if !e.running {
			startErr = ErrNotStarted
			return
		}
		e.fetch(reply)
		e.publish()
	}); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect drops the current subscription, resets the attempt counter and
// opens a new one. It is the way out of the connection-lost state.
func (e *Engine) Reconnect() error {
	var err error
	if cerr := e.call(func() {
		if !e.running {
			err = ErrNotStarted
			return
		}
		e.clearRetry()
		e.state.Connection.ReconnectAttempts = 0
		e.connect()
		e.publish()
	}); cerr != nil {
		return cerr
	}
	return err
}

// Snapshot returns a copy of the latest state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published.clone()
}

// Close stops tracking and ends the loop goroutine. The engine is unusable
// afterwards.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.quit) })
	<-e.done
}

func (e *Engine) start(userID uuid.UUID) {
	if e.running && e.state.UserID == userID {
		return
	}
	if e.running {
		log.Info().Str("user_id", e.state.UserID.String()).Str("next_user_id", userID.String()).Msg("Switching tracked account")
		e.stop()
	}

	e.running = true
	e.gen++
	e.genCtx, e.genCancel = context.WithCancel(context.Background())
	e.state = Snapshot{
		UserID:        userID,
		Conversations: []models.Conversation{},
	}

	e.fetch(nil)
	e.connect()
	e.publish()
}

// stop tears down the current generation and reports whether anything was
// running.
func (e *Engine) stop() bool {
	if !e.running {
		return false
	}
	e.running = false
	e.gen++
	e.genCancel()
	e.answer(ErrNotStarted)
	e.replay = nil
	e.clearRetry()
	e.closeSubscription()

	e.state.Loading = false
	e.state.Connection = ConnectionState{
		Phase:             PhaseIdle,
		LastConnectedAt:   e.state.Connection.LastConnectedAt,
		ReconnectAttempts: 0,
	}
	return true
}

func (e *Engine) fetch(reply chan<- error) {
	e.fetchSeq++
	gen, seq, userID := e.gen, e.fetchSeq, e.state.UserID
	e.state.Loading = true
	e.replay = nil
	if reply != nil {
		e.waiters = append(e.waiters, reply)
	}

	ctx, cancel := context.WithTimeout(e.genCtx, e.opts.FetchTimeout)
	go func() {
		defer cancel()
		rows, err := e.source.ListByUserID(ctx, userID)
		if err != nil {
			err = fmt.Errorf("failed to fetch conversations: %w", err)
		}
		e.post(func() { e.fetched(gen, seq, rows, err) })
	}()
}

func (e *Engine) fetched(gen, seq uint64, rows []*models.Conversation, err error) {
	// A later fetch supersedes this one and answers its waiters.
	if gen != e.gen || seq != e.fetchSeq {
		return
	}

	e.state.Loading = false
	replay := e.replay
	e.replay = nil
	if err != nil {
		log.Warn().Err(err).Str("user_id", e.state.UserID.String()).Msg("Conversation fetch failed")
		e.state.Err = err
	} else {
		list := fromRows(rows)
		for _, ev := range replay {
			list, _ = applyEvent(list, e.state.UserID, ev)
		}
		e.state.Conversations = list
		e.state.Err = nil
	}
	e.publish()
	e.answer(err)
}

// answer replies to every waiting Refresh caller.
func (e *Engine) answer(err error) {
	for _, w := range e.waiters {
		w <- err
	}
	e.waiters = nil
}

// connect tears down the current subscription and opens a new one.
func (e *Engine) connect() {
	e.closeSubscription()
	e.connSeq++
	gen, seq, userID := e.gen, e.connSeq, e.state.UserID

	e.state.Connection.Phase = PhaseConnecting
	e.state.Connection.IsConnected = false
	e.state.Connection.IsConnecting = true
	e.state.Connection.Err = nil

	ctx, cancel := context.WithTimeout(e.genCtx, e.opts.FetchTimeout)
	go func() {
		defer cancel()
		sub, err := e.feed.Subscribe(ctx, userID)
		if !e.post(func() { e.opened(gen, seq, sub, err) }) && sub != nil {
			sub.Close()
		}
	}()
}

func (e *Engine) opened(gen, seq uint64, sub changefeed.Subscription, err error) {
	if gen != e.gen || seq != e.connSeq {
		if sub != nil {
			sub.Close()
		}
		return
	}
	if err != nil {
		e.dropped(fmt.Errorf("failed to open change feed: %w", err))
		return
	}

	e.sub = sub
	go e.pump(gen, seq, sub)
}

// pump forwards notifications of one subscription to the loop.
func (e *Engine) pump(gen, seq uint64, sub changefeed.Subscription) {
	for n := range sub.Notifications() {
		n := n // per-iteration copy; go directive predates Go 1.22 loopvar semantics
		if !e.post(func() { e.notified(gen, seq, n) }) {
			return
		}
	}
}

func (e *Engine) notified(gen, seq uint64, n changefeed.Notification) {
	if gen != e.gen || seq != e.connSeq {
		return
	}

	switch n.Status {
	case changefeed.StatusSubscribed:
		e.state.Connection = ConnectionState{
			Phase:           PhaseConnected,
			IsConnected:     true,
			LastConnectedAt: e.opts.Now(),
		}
		log.Info().Str("user_id", e.state.UserID.String()).Msg("Change feed subscribed")
		e.publish()

	case changefeed.StatusEvent:
		if !n.Event.Valid() {
			log.Warn().Str("user_id", e.state.UserID.String()).Str("type", string(n.Event.Type)).Msg("Dropping malformed change event")
			return
		}
		if e.state.Loading {
			e.replay = append(e.replay, n.Event)
		}
		list, changed := applyEvent(e.state.Conversations, e.state.UserID, n.Event)
		e.state.Conversations = list
		if changed {
			e.publish()
		}

	case changefeed.StatusClosed:
		e.closeSubscription()
		e.dropped(n.Err)
	}
}

// dropped handles a lost or failed subscription: schedule the next attempt
// or, once the attempts are used up, enter the terminal state.
func (e *Engine) dropped(cause error) {
	conn := &e.state.Connection
	conn.IsConnected = false
	conn.IsConnecting = false

	if conn.ReconnectAttempts >= e.opts.MaxAttempts {
		conn.Phase = PhaseLost
		conn.Err = ErrConnectionLost
		log.Error().Err(cause).Str("user_id", e.state.UserID.String()).Int("attempts", conn.ReconnectAttempts).Msg("Change feed lost, giving up")
		e.publish()
		return
	}

	conn.Phase = PhaseDisconnected
	conn.ReconnectAttempts++
	delay := e.opts.BaseDelay * time.Duration(conn.ReconnectAttempts)
	log.Warn().Err(cause).Str("user_id", e.state.UserID.String()).Int("attempt", conn.ReconnectAttempts).Dur("delay", delay).Msg("Change feed dropped, scheduling reconnect")

	gen := e.gen
	e.clearRetry()
	e.cancelRetry = e.opts.Schedule(delay, func() {
		e.post(func() { e.retry(gen) })
	})
	e.publish()
}

func (e *Engine) retry(gen uint64) {
	if gen != e.gen || e.state.Connection.Phase != PhaseDisconnected {
		return
	}
	e.cancelRetry = nil
	e.connect()
	e.publish()
}

func (e *Engine) clearRetry() {
	if e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
}

func (e *Engine) closeSubscription() {
	if e.sub == nil {
		return
	}
	if err := e.sub.Close(); err != nil {
		log.Warn().Err(err).Str("user_id", e.state.UserID.String()).Msg("Failed to close change feed")
	}
	e.sub = nil
}

func (e *Engine) publish() {
	snap := e.state.clone()
	e.mu.Lock()
	e.published = snap
	e.mu.Unlock()

	if e.opts.Bus != nil && snap.UserID != uuid.Nil {
		e.opts.Bus.Publish(events.SnapshotTopic(snap.UserID), snap.clone())
	}
}

// Observe calls fn with every snapshot published for userID on bus.
func Observe(bus *events.Bus, userID uuid.UUID, fn func(Snapshot)) (unsubscribe func()) {
	return bus.Subscribe(events.SnapshotTopic(userID), func(payload any) {
		if snap, ok := payload.(Snapshot); ok {
			fn(snap)
		}
	})
}
