package repositories

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

// Filter is one PostgREST column predicate, e.g. {"user_id", "eq", id}.
type Filter struct {
	Column   string
	Operator string
	Value    string
}

func Eq(column, value string) Filter {
	return Filter{Column: column, Operator: "eq", Value: value}
}

// Order is a PostgREST ordering clause.
type Order struct {
	Column     string
	Descending bool
}

func (o Order) String() string {
	if o.Descending {
		return o.Column + ".desc"
	}
	return o.Column + ".asc"
}

// PostgRESTError is a non-2xx response from the REST endpoint.
type PostgRESTError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *PostgRESTError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("postgrest: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("postgrest: status %d", e.StatusCode)
}

// PostgRESTClient is the query interface of a Supabase project exposed over
// its REST endpoint.
type PostgRESTClient struct {
	client *resty.Client
}

func NewPostgRESTClient(baseURL, apiKey string) *PostgRESTClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/rest/v1").
		SetHeader("apikey", apiKey).
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &PostgRESTClient{client: client}
}

// Select runs `select(table, filters, order)` and decodes the rows into out,
// which must be a pointer to a slice.
func (c *PostgRESTClient) Select(ctx context.Context, table string, filters []Filter, order *Order, out any) error {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("select", "*").
		SetResult(out).
		SetError(&PostgRESTError{})

	for _, f := range filters {
		req.SetQueryParam(f.Column, f.Operator+"."+f.Value)
	}
	if order != nil {
		req.SetQueryParam("order", order.String())
	}

	resp, err := req.Get("/" + table)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	if resp.IsError() {
		apiErr, _ := resp.Error().(*PostgRESTError)
		if apiErr == nil {
			apiErr = &PostgRESTError{}
		}
		apiErr.StatusCode = resp.StatusCode()
		return fmt.Errorf("failed to query %s: %w", table, apiErr)
	}
	return nil
}

// PostgRESTConversationSource lists conversations through PostgREST.
type PostgRESTConversationSource struct {
	client *PostgRESTClient
}

func NewPostgRESTConversationSource(client *PostgRESTClient) *PostgRESTConversationSource {
	return &PostgRESTConversationSource{client: client}
}

func (s *PostgRESTConversationSource) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	var rows []*models.Conversation
	err := s.client.Select(ctx, "conversations",
		[]Filter{Eq("user_id", userID.String())},
		&Order{Column: "last_message_at", Descending: true},
		&rows,
	)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*models.Conversation{}
	}
	return rows, nil
}

// PostgRESTProfileRepository reads profile snapshots through PostgREST.
type PostgRESTProfileRepository struct {
	client *PostgRESTClient
}

func NewPostgRESTProfileRepository(client *PostgRESTClient) *PostgRESTProfileRepository {
	return &PostgRESTProfileRepository{client: client}
}

func (r *PostgRESTProfileRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var rows []*models.Profile
	err := r.client.Select(ctx, "profiles", []Filter{Eq("user_id", userID.String())}, nil, &rows)
	if err != nil {
		var apiErr *PostgRESTError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// PostgRESTChannelRepository counts connected channels through PostgREST.
type PostgRESTChannelRepository struct {
	client *PostgRESTClient
}

func NewPostgRESTChannelRepository(client *PostgRESTClient) *PostgRESTChannelRepository {
	return &PostgRESTChannelRepository{client: client}
}

func (r *PostgRESTChannelRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (ChannelCounts, error) {
	var rows []struct {
		Channel models.Channel `json:"channel"`
	}
	counts := ChannelCounts{ByChannel: make(map[models.Channel]int)}
	err := r.client.Select(ctx, "connected_channels",
		[]Filter{Eq("user_id", userID.String()), Eq("is_active", "true")}, nil, &rows)
	if err != nil {
		return counts, err
	}
	for _, row := range rows {
		counts.ByChannel[row.Channel]++
		counts.Total++
	}
	return counts, nil
}

// PostgRESTClientRepository counts CRM clients through PostgREST.
type PostgRESTClientRepository struct {
	client *PostgRESTClient
}

func NewPostgRESTClientRepository(client *PostgRESTClient) *PostgRESTClientRepository {
	return &PostgRESTClientRepository{client: client}
}

func (r *PostgRESTClientRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	var rows []struct {
		ID uuid.UUID `json:"id"`
	}
	if err := r.client.Select(ctx, "clients", []Filter{Eq("user_id", userID.String())}, nil, &rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// PostgRESTRoleRepository reads role assignments through PostgREST.
type PostgRESTRoleRepository struct {
	client *PostgRESTClient
}

func NewPostgRESTRoleRepository(client *PostgRESTClient) *PostgRESTRoleRepository {
	return &PostgRESTRoleRepository{client: client}
}

func (r *PostgRESTRoleRepository) HasRole(ctx context.Context, userID uuid.UUID, role models.Role) (bool, error) {
	var rows []models.UserRole
	err := r.client.Select(ctx, "user_roles",
		[]Filter{Eq("user_id", userID.String()), Eq("role", string(role))}, nil, &rows)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

var (
	_ ConversationSource = (*PostgRESTConversationSource)(nil)
	_ ProfileRepository  = (*PostgRESTProfileRepository)(nil)
	_ ChannelRepository  = (*PostgRESTChannelRepository)(nil)
	_ ClientRepository   = (*PostgRESTClientRepository)(nil)
	_ RoleRepository     = (*PostgRESTRoleRepository)(nil)
)
