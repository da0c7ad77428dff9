package flags

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const killSwitchKey = "ops:chat_disabled"

// Client is the subset of the redis client the kill switch uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// KillSwitch is the operator stop for the chat path. The runtime value
// lives in Redis so it can be flipped without a deploy; when Redis is
// unreachable or the key is unset, the static config default applies.
type KillSwitch struct {
	client   Client
	fallback bool
	logger   *zap.Logger
}

func NewKillSwitch(client Client, fallback bool, logger *zap.Logger) *KillSwitch {
	return &KillSwitch{client: client, fallback: fallback, logger: logger}
}

// Engaged reports whether the chat path is disabled.
func (k *KillSwitch) Engaged(ctx context.Context) bool {
	if k.client == nil {
		return k.fallback
	}

	val, err := k.client.Get(ctx, killSwitchKey).Result()
	if errors.Is(err, redis.Nil) {
		return k.fallback
	}
	if err != nil {
		k.logger.Warn("kill switch read failed, using config default", zap.Error(err))
		return k.fallback
	}

	return val == "1" || val == "true"
}

// Set flips the runtime flag.
func (k *KillSwitch) Set(ctx context.Context, engaged bool) error {
	if k.client == nil {
		return errors.New("kill switch has no redis backend")
	}

	val := "0"
	if engaged {
		val = "1"
	}
	return k.client.Set(ctx, killSwitchKey, val, 0).Err()
}
