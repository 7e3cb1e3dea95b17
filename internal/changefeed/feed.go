// Package changefeed delivers insert/update/delete notifications for the
// conversations of one account, filtered on the server side.
package changefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

var (
	ErrClosed    = errors.New("change feed closed")
	ErrMalformed = errors.New("malformed change event")
)

type Status int

const (
	StatusEvent Status = iota
	StatusSubscribed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusEvent:
		return "event"
	case StatusSubscribed:
		return "subscribed"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Notification is either a status transition or a change event. Err is set
// when Status is StatusClosed.
type Notification struct {
	Status Status
	Event  models.ChangeEvent
	Err    error
}

// Subscription is one live change feed for one account. Notifications are
// delivered in order; the channel is closed once the subscription ends. A
// transport failure is reported with a StatusClosed notification first; an
// explicit Close is not.
type Subscription interface {
	Notifications() <-chan Notification
	Close() error
}

type Feed interface {
	// Subscribe opens a subscription scoped to userID. ctx bounds the opening
	// handshake only.
	Subscribe(ctx context.Context, userID uuid.UUID) (Subscription, error)
}

// Publisher pushes a change event to the subscribers of an account. It is used
// by writers that do not go through a database trigger.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, ev models.ChangeEvent) error
}

const notificationBuffer = 64

// subscription is the shared plumbing of every feed: an ordered notification
// channel and a cancellable lifetime.
type subscription struct {
	ch     chan Notification
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription() *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		ch:     make(chan Notification, notificationBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *subscription) Notifications() <-chan Notification {
	return s.ch
}

// Close stops the subscription and waits for its reader to exit. Safe to call
// more than once.
func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// run executes the transport loop and closes the notification channel when
// it returns.
func (s *subscription) run(loop func() error) {
	go func() {
		defer close(s.done)
		defer close(s.ch)
		defer s.cancel()

		err := loop()
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrClosed
		}
		s.emit(Notification{Status: StatusClosed, Err: err})
	}()
}

func (s *subscription) emit(n Notification) bool {
	select {
	case s.ch <- n:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *subscription) subscribed() bool {
	return s.emit(Notification{Status: StatusSubscribed})
}

func (s *subscription) event(ev models.ChangeEvent) bool {
	return s.emit(Notification{Status: StatusEvent, Event: ev})
}
