package changefeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/rs/zerolog/log"
)

// ChannelName is the LISTEN/NOTIFY channel carrying the conversation changes
// of one account. The notify trigger in the schema uses the same format.
func ChannelName(userID uuid.UUID) string {
	return "conversations_" + strings.ReplaceAll(userID.String(), "-", "")
}

// PostgresFeed listens for notifications raised by the conversations trigger.
// Every subscription holds its own connection, outside the pool, so a LISTEN
// never leaks into pooled connections.
type PostgresFeed struct {
	connConfig *pgx.ConnConfig
}

func NewPostgresFeed(pool *pgxpool.Pool) *PostgresFeed {
	return &PostgresFeed{connConfig: pool.Config().ConnConfig.Copy()}
}

func (f *PostgresFeed) Subscribe(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	conn, err := pgx.ConnectConfig(ctx, f.connConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to connect listener: %w", err)
	}

	channel := ChannelName(userID)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	sub := newSubscription()
	sub.run(func() error {
		defer conn.Close(context.Background())

		if !sub.subscribed() {
			return nil
		}
		for {
			n, err := conn.WaitForNotification(sub.ctx)
			if err != nil {
				return fmt.Errorf("failed to wait for notification: %w", err)
			}
			ev, err := DecodeEvent([]byte(n.Payload))
			if err != nil {
				log.Warn().Err(err).Str("channel", n.Channel).Msg("Dropping malformed change event")
				continue
			}
			if !sub.event(ev) {
				return nil
			}
		}
	})

	log.Debug().Str("channel", channel).Msg("Postgres change feed subscribed")
	return sub, nil
}

// PostgresPublisher raises a notification directly, for writers that bypass
// the conversations table trigger.
type PostgresPublisher struct {
	pool *pgxpool.Pool
}

func NewPostgresPublisher(pool *pgxpool.Pool) *PostgresPublisher {
	return &PostgresPublisher{pool: pool}
}

func (p *PostgresPublisher) Publish(ctx context.Context, userID uuid.UUID, ev models.ChangeEvent) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelName(userID), string(payload)); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

var (
	_ Feed      = (*PostgresFeed)(nil)
	_ Publisher = (*PostgresPublisher)(nil)
)
