package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedModel memoizes successful completions in Redis keyed by a hash of the
// prompt, so re-running a crawl over unchanged input does not pay for the same call twice.
type CachedModel struct {
	next      Model
	rdb       redis.Cmdable
	ttl       time.Duration
	namespace string
	logger    *zap.Logger
}

func NewCachedModel(next Model, rdb redis.Cmdable, ttl time.Duration, namespace string, logger *zap.Logger) *CachedModel {
	return &CachedModel{
		next:      next,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
		logger:    logger.Named("cache"),
	}
}

func (c *CachedModel) key(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "grantpipe:completion:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedModel) Complete(ctx context.Context, prompt string) (string, error) {
	key := c.key(prompt)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		c.logger.Debug("completion cache hit", zap.String("key", key))
		return cached, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("completion cache read failed", zap.Error(err))
	}

	out, err := c.next.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	if err := c.rdb.Set(ctx, key, out, c.ttl).Err(); err != nil {
		c.logger.Warn("completion cache write failed", zap.Error(err))
	}
	return out, nil
}

// Forget drops a cached completion, used when the cached text turned out to be unparseable.
func (c *CachedModel) Forget(ctx context.Context, prompt string) {
	if err := c.rdb.Del(ctx, c.key(prompt)).Err(); err != nil {
		c.logger.Warn("completion cache delete failed", zap.Error(err))
	}
}
