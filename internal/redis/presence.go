package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Presence key layout:
// - presence:online          set of online user IDs
// - presence:conns:{id}      live connection count across instances
// - presence:last_seen:{id}  last-seen timestamp, kept after disconnect
const (
	presenceOnlineSet      = "presence:online"
	presenceConnsKey       = "presence:conns:"
	presenceLastSeenKey    = "presence:last_seen:"
	presenceLastSeenRetain = 24 * time.Hour
)

// PresenceStore tracks user presence in redis so that multiple gateway
// instances behind the same cache agree on who is online. A per-user
// connection counter keeps users with several open sockets online until
// the final one drops. It satisfies the gateway's PresenceRegistry
// contract.
type PresenceStore struct {
	client *goredis.Client
}

func NewPresenceStore(client *goredis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func (p *PresenceStore) SetOnline(ctx context.Context, userID string) error {
	conns, err := p.client.Incr(ctx, presenceConnsKey+userID).Result()
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	if conns == 1 {
		pipe.SAdd(ctx, presenceOnlineSet, userID)
	}
	pipe.Set(ctx, presenceLastSeenKey+userID, time.Now().UTC().Format(time.RFC3339), presenceLastSeenRetain)
	_, err = pipe.Exec(ctx)
	return err
}

func (p *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	conns, err := p.client.Decr(ctx, presenceConnsKey+userID).Result()
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	if conns <= 0 {
		// Guard against underflow when a stale disconnect replays.
		pipe.Del(ctx, presenceConnsKey+userID)
		pipe.SRem(ctx, presenceOnlineSet, userID)
	}
	pipe.Set(ctx, presenceLastSeenKey+userID, time.Now().UTC().Format(time.RFC3339), presenceLastSeenRetain)
	_, err = pipe.Exec(ctx)
	return err
}

func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.client.SIsMember(ctx, presenceOnlineSet, userID).Result()
}

// OnlineAmong filters the given user ids down to those currently online.
func (p *PresenceStore) OnlineAmong(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	results, err := p.client.SMIsMember(ctx, presenceOnlineSet, members...).Result()
	if err != nil {
		return nil, err
	}
	var online []string
	for i, ok := range results {
		if ok {
			online = append(online, userIDs[i])
		}
	}
	return online, nil
}
