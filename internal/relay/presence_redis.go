package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKey     = "relay:presence"
	presenceChannel = "relay:presence:events"
	presenceTimeout = 2 * time.Second
)

// PresenceStore mirrors registry membership to an external observer.
type PresenceStore interface {
	Announce(ctx context.Context, role Role, info PresenceInfo) error
	Withdraw(ctx context.Context, role Role) error
}

// PresenceInfo describes the connection holding a role.
type PresenceInfo struct {
	ConnID      string    `json:"conn_id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// PresenceEvent is published on every join and leave.
type PresenceEvent struct {
	Event string `json:"event"` // "join" or "leave"
	Role  string `json:"role"`
}

// RedisPresence keeps a Redis hash of connected roles and publishes join/leave events.
type RedisPresence struct {
	client *redis.Client
}

// constructor for RedisPresence, accepts redis:// URLs or a bare host:port
func NewRedisPresence(redisURL, password string) (*RedisPresence, error) {
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPresence{client: rdb}, nil
}

// Announce records role in the presence hash and publishes a join event.
func (r *RedisPresence) Announce(ctx context.Context, role Role, info PresenceInfo) error {
	if r == nil || r.client == nil {
		return nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	event, err := json.Marshal(PresenceEvent{Event: "join", Role: role.String()})
	if err != nil {
		return fmt.Errorf("failed to encode presence event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey, role.String(), data)
		pipe.Publish(ctx, presenceChannel, event)
		return nil
	})
	return err
}

// Withdraw deletes role from the presence hash and publishes a leave event.
func (r *RedisPresence) Withdraw(ctx context.Context, role Role) error {
	if r == nil || r.client == nil {
		return nil
	}
	event, err := json.Marshal(PresenceEvent{Event: "leave", Role: role.String()})
	if err != nil {
		return fmt.Errorf("failed to encode presence event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, presenceKey, role.String())
		pipe.Publish(ctx, presenceChannel, event)
		return nil
	})
	return err
}

// Snapshot returns the mirrored directory keyed by role string.
func (r *RedisPresence) Snapshot(ctx context.Context) (map[string]PresenceInfo, error) {
	if r == nil || r.client == nil {
		return map[string]PresenceInfo{}, nil
	}
	raw, err := r.client.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]PresenceInfo, len(raw))
	for role, value := range raw {
		var info PresenceInfo
		if err := json.Unmarshal([]byte(value), &info); err != nil {
			return nil, fmt.Errorf("corrupt presence entry for %s: %w", role, err)
		}
		out[role] = info
	}
	return out, nil
}

// Reset drops entries left behind by a previous process.
func (r *RedisPresence) Reset(ctx context.Context) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Del(ctx, presenceKey).Err()
}

func (r *RedisPresence) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
