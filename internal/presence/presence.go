// Package presence mirrors the chat roster into Redis so other processes can
// see who is online.
package presence

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat/internal/chat"
)

// DefaultKey is the hash holding one field per online connection.
const DefaultKey = "chat:presence"

// Config selects the Redis server.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Redis implements chat.Presence with a Redis hash keyed by connection id.
type Redis struct {
	rdb *redis.Client
	key string
}

var _ chat.Presence = (*Redis)(nil)

// Dial connects to Redis and verifies it answers a ping.
func Dial(ctx context.Context, c Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "presence: ping %s", c.Addr)
	}
	return New(rdb, c.Key), nil
}

// New wraps an existing client. An empty key selects DefaultKey.
func New(rdb *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{rdb: rdb, key: key}
}

// Online records e, replacing any earlier entry for the same connection.
func (p *Redis) Online(ctx context.Context, e chat.RosterEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "presence: encode entry")
	}
	return errors.Wrap(p.rdb.HSet(ctx, p.key, e.ID, b).Err(), "presence: hset")
}

// Offline drops the entry for id.
func (p *Redis) Offline(ctx context.Context, id string) error {
	return errors.Wrap(p.rdb.HDel(ctx, p.key, id).Err(), "presence: hdel")
}

// Lookup returns the entry for id and whether it exists.
func (p *Redis) Lookup(ctx context.Context, id string) (chat.RosterEntry, bool, error) {
	raw, err := p.rdb.HGet(ctx, p.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return chat.RosterEntry{}, false, nil
	}
	if err != nil {
		return chat.RosterEntry{}, false, errors.Wrap(err, "presence: hget")
	}
	var e chat.RosterEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return chat.RosterEntry{}, false, errors.Wrap(err, "presence: decode entry")
	}
	return e, true, nil
}

// Count reports how many connections are mirrored as online.
func (p *Redis) Count(ctx context.Context) (int64, error) {
	n, err := p.rdb.HLen(ctx, p.key).Result()
	return n, errors.Wrap(err, "presence: hlen")
}

// Reset clears the mirror. The server calls it on startup since no connection
// survives a restart.
func (p *Redis) Reset(ctx context.Context) error {
	return errors.Wrap(p.rdb.Del(ctx, p.key).Err(), "presence: reset")
}

// Close closes the client.
func (p *Redis) Close() error {
	return p.rdb.Close()
}
