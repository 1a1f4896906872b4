package sink

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
)

// SessionKeyPrefix prefixes the live session hash of every session.
const SessionKeyPrefix = "session:"

// Redis keeps a live aggregate of each session in a hash, refreshed by every
// signal and expired after the configured TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates the session aggregate sink
func NewRedis(cfg config.RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(rdb, cfg.SessionTTL)
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return SessionKeyPrefix + sessionID
}

func (r *Redis) EmitSessionUpdate(ctx context.Context, u signal.SessionUpdate) error {
	key := sessionKey(u.SessionID)
	active := 0
	if u.IsActive {
		active = 1
	}

	fields := []any{
		"started_at", u.StartedAt.UnixMilli(),
		"last_activity", u.LastActivity.UnixMilli(),
		"is_active", active,
		"page_views", u.PageViews,
	}
	// Empty identity fields never overwrite what an earlier update stored
	for _, f := range [...][2]string{
		{"project_id", u.ProjectID},
		{"user_id", u.UserID},
		{"current_page", u.Page},
		{"source", u.Source},
		{"browser", u.Client.Browser},
		{"os", u.Client.OS},
		{"device_type", u.Client.Device},
		{"country", u.Country},
		{"city", u.City},
	} {
		if f[1] != "" {
			fields = append(fields, f[0], f[1])
		}
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields...)
	if u.EntryPage != "" {
		pipe.HSetNX(ctx, key, "entry_page", u.EntryPage)
	}
	pipe.Expire(ctx, key, r.ttl)

	return r.exec(ctx, pipe, u.SessionID)
}

func (r *Redis) EmitPageView(ctx context.Context, v signal.PageView) error {
	key := sessionKey(v.SessionID)

	pipe := r.client.Pipeline()
	pipe.HSetNX(ctx, key, "entry_page", v.Page)
	pipe.HSet(ctx, key, "exit_page", v.Page)
	if v.Final {
		pipe.HIncrBy(ctx, key, "dwell_seconds", int64(v.DwellSeconds))
	}
	pipe.Expire(ctx, key, r.ttl)

	return r.exec(ctx, pipe, v.SessionID)
}

func (r *Redis) EmitEvent(ctx context.Context, e signal.Event) error {
	key := sessionKey(e.SessionID)

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, "events_count", 1)
	pipe.HIncrBy(ctx, key, string(e.Type)+"_count", 1)
	if sub, ok := e.Data["type"].(string); ok && sub != "" {
		pipe.HIncrBy(ctx, key, sub+"_count", 1)
	}
	pipe.Expire(ctx, key, r.ttl)

	return r.exec(ctx, pipe, e.SessionID)
}

func (r *Redis) exec(ctx context.Context, pipe redis.Pipeliner, sessionID string) error {
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to update session in Redis")
	}
	return err
}

// Session returns the live aggregate of a session.
func (r *Redis) Session(ctx context.Context, sessionID string) (map[string]string, error) {
	return r.client.HGetAll(ctx, sessionKey(sessionID)).Result()
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.client.Close()
}
