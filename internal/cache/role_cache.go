// Package cache holds short-lived, explicitly owned caches.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prudhvinik1/inboxsync/internal/models"
	"github.com/prudhvinik1/inboxsync/internal/repositories"
	"github.com/rs/zerolog/log"
)

const DefaultRoleTTL = 5 * time.Minute

// RoleCache remembers whether an account holds the admin role. Entries expire
// after the TTL; Invalidate and Clear drop them early, for example after a
// role is granted or revoked.
type RoleCache struct {
	roles repositories.RoleRepository
	items *gocache.Cache
	ttl   time.Duration
}

func NewRoleCache(roles repositories.RoleRepository, ttl time.Duration) *RoleCache {
	if ttl <= 0 {
		ttl = DefaultRoleTTL
	}
	return &RoleCache{
		roles: roles,
		items: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (c *RoleCache) TTL() time.Duration {
	return c.ttl
}

// IsAdmin answers from the cache and falls back to the repository on a miss.
// Lookup failures are not cached.
func (c *RoleCache) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := userID.String()
	if v, found := c.items.Get(key); found {
		return v.(bool), nil
	}

	isAdmin, err := c.roles.HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to load role: %w", err)
	}

	c.items.Set(key, isAdmin, gocache.DefaultExpiration)
	log.Debug().Str("user_id", key).Bool("is_admin", isAdmin).Msg("Cached role lookup")
	return isAdmin, nil
}

func (c *RoleCache) Invalidate(userID uuid.UUID) {
	c.items.Delete(userID.String())
}

func (c *RoleCache) Clear() {
	c.items.Flush()
}

func (c *RoleCache) Len() int {
	return c.items.ItemCount()
}
