package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSource memoises effective permissions in Redis. Cache failures fall
// through to the wrapped source.
type CachedSource struct {
	Source PermissionSource
	Client *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

func permissionsKey(userID int64) string {
	return "rbac:perms:" + strconv.FormatInt(userID, 10)
}

// EffectivePermissions implements PermissionSource.
func (c CachedSource) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	key := permissionsKey(userID)
	raw, err := c.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var perms []string
		if jsonErr := json.Unmarshal(raw, &perms); jsonErr == nil {
			return perms, nil
		}
	case !errors.Is(err, redis.Nil):
		c.warn("read permission cache", err)
	}

	perms, err := c.Source.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []string{}
	}
	if data, err := json.Marshal(perms); err == nil {
		if err := c.Client.Set(ctx, key, data, c.ttl()).Err(); err != nil {
			c.warn("write permission cache", err)
		}
	}
	return perms, nil
}

// Invalidate drops the cached permissions of a user after a role change.
func (c CachedSource) Invalidate(ctx context.Context, userID int64) error {
	return c.Client.Del(ctx, permissionsKey(userID)).Err()
}

func (c CachedSource) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return time.Minute
}

func (c CachedSource) warn(msg string, err error) {
	if c.Logger != nil {
		c.Logger.Warn(msg, slog.Any("error", err))
	}
}
