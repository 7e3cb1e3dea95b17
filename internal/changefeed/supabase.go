package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	phoenixTopic             = "phoenix"
	readLimit                = 1 << 20
)

// phoenixMessage is a frame of the Phoenix channel protocol spoken by the
// managed realtime service.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type phoenixReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type postgresChangesPayload struct {
	Data wireChange `json:"data"`
}

type postgresChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

type joinPayload struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []postgresChangeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

// SupabaseFeed subscribes to postgres_changes on the conversations table
// through the realtime websocket, filtered by user_id on the server.
type SupabaseFeed struct {
	endpoint          string
	apiKey            string
	heartbeatInterval time.Duration
}

// NewSupabaseFeed builds a feed for the project at projectURL
// (e.g. https://xyz.supabase.co).
func NewSupabaseFeed(projectURL, apiKey string) (*SupabaseFeed, error) {
	endpoint, err := RealtimeEndpoint(projectURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &SupabaseFeed{endpoint: endpoint, apiKey: apiKey, heartbeatInterval: DefaultHeartbeatInterval}, nil
}

// WithHeartbeat overrides the heartbeat interval.
func (f *SupabaseFeed) WithHeartbeat(d time.Duration) *SupabaseFeed {
	f.heartbeatInterval = d
	return f
}

// RealtimeEndpoint derives the websocket URL of the realtime service.
func RealtimeEndpoint(projectURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(projectURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid project url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid project url scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *SupabaseFeed) Subscribe(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	conn, _, err := websocket.Dial(ctx, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime: %w", err)
	}
	conn.SetReadLimit(readLimit)

	topic := "realtime:conversations:" + userID.String()
	var join joinPayload
	join.Config.PostgresChanges = []postgresChangeFilter{{
		Event:  "*",
		Schema: "public",
		Table:  "conversations",
		Filter: "user_id=eq." + userID.String(),
	}}
	join.AccessToken = f.apiKey

	ch := &phoenixChannel{conn: conn, topic: topic}
	joinRef, err := ch.send(ctx, topic, "phx_join", join, true)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("failed to join %s: %w", topic, err)
	}

	sub := newSubscription()
	sub.run(func() error {
		defer conn.Close(websocket.StatusNormalClosure, "")

		heartbeatErr := make(chan error, 1)
		go ch.heartbeat(sub.ctx, f.heartbeatInterval, heartbeatErr)

		readErr := make(chan error, 1)
		go func() { readErr <- ch.readLoop(sub, joinRef) }()

		select {
		case err := <-readErr:
			return err
		case err := <-heartbeatErr:
			return err
		case <-sub.ctx.Done():
			return nil
		}
	})

	return sub, nil
}

type phoenixChannel struct {
	conn    *websocket.Conn
	topic   string
	ref     atomic.Int64
	pending atomic.Value // ref of the unanswered heartbeat, "" when none
}

func (c *phoenixChannel) send(ctx context.Context, topic, event string, payload any, join bool) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := strconv.FormatInt(c.ref.Add(1), 10)
	msg := phoenixMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref}
	if join {
		msg.JoinRef = &ref
	}
	return ref, wsjson.Write(ctx, c.conn, msg)
}

// heartbeat keeps the socket alive. A heartbeat left unanswered for a whole
// interval ends the subscription.
func (c *phoenixChannel) heartbeat(ctx context.Context, interval time.Duration, errc chan<- error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pending, _ := c.pending.Load().(string); pending != "" {
				errc <- fmt.Errorf("heartbeat %s timed out", pending)
				return
			}
			ref, err := c.send(ctx, phoenixTopic, "heartbeat", struct{}{}, false)
			if err != nil {
				errc <- fmt.Errorf("failed to send heartbeat: %w", err)
				return
			}
			c.pending.Store(ref)
		}
	}
}

func (c *phoenixChannel) readLoop(sub *subscription, joinRef string) error {
	for {
		var msg phoenixMessage
		if err := wsjson.Read(sub.ctx, c.conn, &msg); err != nil {
			return fmt.Errorf("failed to read realtime message: %w", err)
		}

		switch {
		case msg.Topic == phoenixTopic && msg.Event == "phx_reply":
			if msg.Ref != nil {
				if pending, _ := c.pending.Load().(string); pending == *msg.Ref {
					c.pending.Store("")
				}
			}

		case msg.Topic != c.topic:
			continue

		case msg.Event == "phx_reply":
			if msg.Ref == nil || *msg.Ref != joinRef {
				continue
			}
			var reply phoenixReply
			if err := json.Unmarshal(msg.Payload, &reply); err != nil {
				return fmt.Errorf("%w: join reply: %v", ErrMalformed, err)
			}
			if reply.Status != "ok" {
				return fmt.Errorf("join rejected: %s %s", reply.Status, string(reply.Response))
			}
			if !sub.subscribed() {
				return nil
			}

		case msg.Event == "postgres_changes":
			var payload postgresChangesPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				log.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropping malformed change event")
				continue
			}
			ev, err := payload.Data.event()
			if err != nil {
				log.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropping malformed change event")
				continue
			}
			if !sub.event(ev) {
				return nil
			}

		case msg.Event == "phx_close":
			return ErrClosed

		case msg.Event == "phx_error":
			return fmt.Errorf("channel error: %s", string(msg.Payload))
		}
	}
}

var _ Feed = (*SupabaseFeed)(nil)
