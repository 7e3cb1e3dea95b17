package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/changefeed"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
)

type fakeProfiles struct {
	profiles map[uuid.UUID]models.Profile
	err      error
}

func (f *fakeProfiles) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

type fakeChannels struct {
	counts map[uuid.UUID]repositories.ChannelCounts
	err    error
}

func (f *fakeChannels) CountByUserID(ctx context.Context, userID uuid.UUID) (repositories.ChannelCounts, error) {
	if f.err != nil {
		return repositories.ChannelCounts{}, f.err
	}
	c, ok := f.counts[userID]
	if !ok {
		return repositories.ChannelCounts{ByChannel: map[models.Channel]int{}}, nil
	}
	return c, nil
}

type fakeClients struct {
	counts map[uuid.UUID]int
}

func (f *fakeClients) CountByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	return f.counts[userID], nil
}

// memoryConversations is an in-memory ConversationRepository.
type memoryConversations struct {
	mu    sync.Mutex
	items map[uuid.UUID]models.Conversation
	lists int
}

func newMemoryConversations(list ...models.Conversation) *memoryConversations {
	m := &memoryConversations{items: make(map[uuid.UUID]models.Conversation)}
	for _, c := range list {
		m.items[c.ID] = c
	}
	return m
}

func (m *memoryConversations) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	var out []*models.Conversation
	for _, c := range m.items {
		if c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memoryConversations) listCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

func (m *memoryConversations) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (m *memoryConversations) Upsert(ctx context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if existing, ok := m.items[c.ID]; ok {
		if existing.UserID != c.UserID {
			return repositories.ErrNotFound
		}
		if existing.LastMessageAt.After(c.LastMessageAt) {
			c.LastMessageAt = existing.LastMessageAt
		}
	}
	m.items[c.ID] = *c
	return nil
}

func (m *memoryConversations) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return repositories.ErrNotFound
	}
	c.Status = status
	m.items[id] = c
	return nil
}

func (m *memoryConversations) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, ev models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// ackFeed acknowledges every subscription immediately and keeps it open until
// closed.
type ackFeed struct {
	mu   sync.Mutex
	subs []*ackSub
}

type ackSub struct {
	userID uuid.UUID
	ch     chan changefeed.Notification
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *ackSub) Notifications() <-chan changefeed.Notification { return s.ch }

func (s *ackSub) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (s *ackSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (f *ackFeed) Subscribe(ctx context.Context, userID uuid.UUID) (changefeed.Subscription, error) {
	sub := &ackSub{userID: userID, ch: make(chan changefeed.Notification, 4)}
	sub.ch <- changefeed.Notification{Status: changefeed.StatusSubscribed}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *ackFeed) all() []*ackSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ackSub(nil), f.subs...)
}

var (
	_ repositories.ConversationRepository = (*memoryConversations)(nil)
	_ changefeed.Publisher                = (*recordingPublisher)(nil)
	_ changefeed.Feed                     = (*ackFeed)(nil)
)
