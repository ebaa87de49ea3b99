package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key pattern:
// - ratelimit:send:{conv_id}:{user_id} - fixed-window send counter

// SendLimiter caps how many messages a user may send into one conversation
// per window. The limit itself comes from the conversation's feature flags,
// so it is an argument rather than configuration here.
type SendLimiter struct {
	client *goredis.Client
	window time.Duration
}

func NewSendLimiter(client *goredis.Client, window time.Duration) *SendLimiter {
	if window == 0 {
		window = time.Minute
	}
	return &SendLimiter{client: client, window: window}
}

var sendLimitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	if current >= limit then
		return 0
	end
	current = redis.call('INCR', key)
	if current == 1 then
		redis.call('EXPIRE', key, window)
	end
	return 1
`)

// Allow consumes one send slot. limit <= 0 disables limiting.
func (l *SendLimiter) Allow(ctx context.Context, conversationRef, userID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("ratelimit:send:%s:%s", conversationRef, userID)
	result, err := sendLimitScript.Run(ctx, l.client, []string{key}, limit, int(l.window.Seconds())).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
