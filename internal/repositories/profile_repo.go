package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

type PostgresProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresProfileRepository(pool *pgxpool.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{pool: pool}
}

func (r *PostgresProfileRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	query := `SELECT user_id, plan_type, is_trial, payment_status, messages_sent_this_month,
	                 messages_limit, clients_limit, crm_level, has_statistics, updated_at
	          FROM profiles
	          WHERE user_id = $1`

	var profile models.Profile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.PlanType,
		&profile.IsTrial,
		&profile.PaymentStatus,
		&profile.MessagesSentThisMonth,
		&profile.MessagesLimit,
		&profile.ClientsLimit,
		&profile.CRMLevel,
		&profile.HasStatistics,
		&profile.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// Save writes the full profile snapshot. Only fixtures and administrative
// tooling write profiles; the entitlement path is read-only.
func (r *PostgresProfileRepository) Save(ctx context.Context, profile *models.Profile) error {
	query := `INSERT INTO profiles (user_id, plan_type, is_trial, payment_status, messages_sent_this_month,
	                                messages_limit, clients_limit, crm_level, has_statistics)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (user_id) DO UPDATE
	          SET plan_type = EXCLUDED.plan_type,
	              is_trial = EXCLUDED.is_trial,
	              payment_status = EXCLUDED.payment_status,
	              messages_sent_this_month = EXCLUDED.messages_sent_this_month,
	              messages_limit = EXCLUDED.messages_limit,
	              clients_limit = EXCLUDED.clients_limit,
	              crm_level = EXCLUDED.crm_level,
	              has_statistics = EXCLUDED.has_statistics,
	              updated_at = NOW()
	          RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		profile.UserID,
		profile.PlanType,
		profile.IsTrial,
		profile.PaymentStatus,
		profile.MessagesSentThisMonth,
		profile.MessagesLimit,
		profile.ClientsLimit,
		profile.CRMLevel,
		profile.HasStatistics,
	).Scan(&profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
