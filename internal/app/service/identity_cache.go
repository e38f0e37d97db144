package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ikkim/account-backend/internal/app/model"
	"github.com/ikkim/account-backend/pkg/logger"
	appredis "github.com/ikkim/account-backend/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// IdentityCache holds recently resolved users for the protected-route gate.
// Implementations must be safe for concurrent use; failures are never fatal.
type IdentityCache interface {
	Get(ctx context.Context, id uint) (*model.User, bool)
	Set(ctx context.Context, user *model.User)
	Invalidate(ctx context.Context, id uint)
}

type noopIdentityCache struct{}

func NewNoopIdentityCache() IdentityCache {
	return noopIdentityCache{}
}

func (noopIdentityCache) Get(context.Context, uint) (*model.User, bool) { return nil, false }
func (noopIdentityCache) Set(context.Context, *model.User)              {}
func (noopIdentityCache) Invalidate(context.Context, uint)              {}

type redisIdentityCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisIdentityCache(client redis.Cmdable, ttl time.Duration) IdentityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisIdentityCache{client: client, ttl: ttl}
}

func identityCacheKey(id uint) string {
	return fmt.Sprintf("user:%d", id)
}

func (c *redisIdentityCache) Get(ctx context.Context, id uint) (*model.User, bool) {
	var user model.User
	if err := appredis.GetJSON(ctx, c.client, identityCacheKey(id), &user); err != nil {
		if !errors.Is(err, appredis.ErrCacheMiss) {
			logger.Warn("Identity cache read failed", map[string]interface{}{
				"user_id": id,
				"error":   err.Error(),
			})
		}
		return nil, false
	}
	return &user, true
}

func (c *redisIdentityCache) Set(ctx context.Context, user *model.User) {
	if err := appredis.SetJSON(ctx, c.client, identityCacheKey(user.ID), user, c.ttl); err != nil {
		logger.Warn("Identity cache write failed", map[string]interface{}{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}
}

func (c *redisIdentityCache) Invalidate(ctx context.Context, id uint) {
	if err := appredis.Delete(ctx, c.client, identityCacheKey(id)); err != nil {
		logger.Warn("Identity cache invalidation failed", map[string]interface{}{
			"user_id": id,
			"error":   err.Error(),
		})
	}
}
