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

const conversationColumns = `id, user_id, channel, client_id, last_message_at, status, created_at`

type PostgresConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresConversationRepository(pool *pgxpool.Pool) *PostgresConversationRepository {
	return &PostgresConversationRepository{pool: pool}
}

func (r *PostgresConversationRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
	          FROM conversations
	          WHERE user_id = $1
	          ORDER BY last_message_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*models.Conversation{}
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conversation, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conversation, nil
}

// Upsert inserts the conversation or updates it in place. last_message_at
// only ever moves forward. A zero ID is generated by the database.
func (r *PostgresConversationRepository) Upsert(ctx context.Context, conversation *models.Conversation) error {
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	if conversation.Status == "" {
		conversation.Status = models.StatusUnread
	}

	query := `INSERT INTO conversations (id, user_id, channel, client_id, last_message_at, status)
	          VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), $6)
	          ON CONFLICT (id) DO UPDATE
	          SET client_id = EXCLUDED.client_id,
	              last_message_at = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
	              status = EXCLUDED.status
	          WHERE conversations.user_id = EXCLUDED.user_id
	          RETURNING last_message_at, created_at`

	var lastMessageAt any
	if !conversation.LastMessageAt.IsZero() {
		lastMessageAt = conversation.LastMessageAt
	}

	err := r.pool.QueryRow(ctx, query,
		conversation.ID,
		conversation.UserID,
		conversation.Channel,
		conversation.ClientID,
		lastMessageAt,
		conversation.Status,
	).Scan(&conversation.LastMessageAt, &conversation.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// The id exists but belongs to another account.
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

func (r *PostgresConversationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	query := `UPDATE conversations SET status = $1 WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Channel,
		&c.ClientID,
		&c.LastMessageAt,
		&c.Status,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var (
	_ ConversationRepository = (*PostgresConversationRepository)(nil)
	_ ProfileRepository      = (*PostgresProfileRepository)(nil)
	_ ChannelRepository      = (*PostgresChannelRepository)(nil)
	_ ClientRepository       = (*PostgresClientRepository)(nil)
	_ RoleRepository         = (*PostgresRoleRepository)(nil)
)
