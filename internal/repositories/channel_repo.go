package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

type PostgresChannelRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresChannelRepository(pool *pgxpool.Pool) *PostgresChannelRepository {
	return &PostgresChannelRepository{pool: pool}
}

func (r *PostgresChannelRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (ChannelCounts, error) {
	query := `SELECT channel, COUNT(*)
	          FROM connected_channels
	          WHERE user_id = $1 AND is_active
	          GROUP BY channel`

	counts := ChannelCounts{ByChannel: make(map[models.Channel]int)}

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return counts, fmt.Errorf("failed to count channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var channel models.Channel
		var n int
		if err := rows.Scan(&channel, &n); err != nil {
			return counts, fmt.Errorf("failed to scan channel count: %w", err)
		}
		counts.ByChannel[channel] = n
		counts.Total += n
	}

	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("error iterating channel counts: %w", err)
	}
	return counts, nil
}

// Connect records a newly connected channel for the account.
func (r *PostgresChannelRepository) Connect(ctx context.Context, userID uuid.UUID, channel models.Channel) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO connected_channels (user_id, channel) VALUES ($1, $2) RETURNING id`,
		userID, channel,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to connect channel: %w", err)
	}
	return id, nil
}
