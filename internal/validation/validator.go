package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/config"
)

var (
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrInvalidKey       = errors.New("invalid API key")
)

const (
	keyPrefixLen = 12
	keyCacheTTL  = 5 * time.Minute
)

// KeyStore resolves hashed API keys to project ids.
type KeyStore interface {
	ProjectForKey(ctx context.Context, keyHash string) (string, error)
	MarkUsed(ctx context.Context, keyHash string)
}

type Validator struct {
	keys  KeyStore
	redis *redis.Client
	limit int
}

func NewValidator(cfg *config.Config) (*Validator, error) {
	// Connect to PostgreSQL
	db, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}

	// Connect to Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return New(&PostgresKeys{db: db}, rdb, cfg.RateLimit), nil
}

// New builds a validator from its parts.
func New(keys KeyStore, rdb *redis.Client, rl config.RateLimitConfig) *Validator {
	limit := rl.RequestsPerSecond
	if limit <= 0 {
		limit = 100
	}
	return &Validator{keys: keys, redis: rdb, limit: limit}
}

// ValidateAPIKey returns the project the key belongs to. Successful lookups
// are cached in Redis.
func (v *Validator) ValidateAPIKey(ctx context.Context, apiKey string) (string, error) {
	if len(apiKey) < keyPrefixLen {
		return "", ErrInvalidKeyFormat
	}

	// Check cache first
	cacheKey := "apikey:" + apiKey[:keyPrefixLen]
	projectID, err := v.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		return projectID, nil
	}

	// Hash the key
	hash := sha256.Sum256([]byte(apiKey))
	keyHash := hex.EncodeToString(hash[:])

	id, err := v.keys.ProjectForKey(ctx, keyHash)
	if err != nil {
		log.Debug().Err(err).Msg("API key lookup failed")
		return "", ErrInvalidKey
	}

	v.redis.Set(ctx, cacheKey, id, keyCacheTTL)

	// Update last used
	go v.keys.MarkUsed(context.Background(), keyHash)

	return id, nil
}

// CheckRateLimit counts a request against the project's per-second budget.
// Redis failures allow the request.
func (v *Validator) CheckRateLimit(ctx context.Context, projectID string) bool {
	key := "ratelimit:" + projectID

	// Increment counter
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return true // Allow on error
	}

	// Set expiry on first request
	if count == 1 {
		v.redis.Expire(ctx, key, time.Second)
	}

	return count <= int64(v.limit)
}

func (v *Validator) Close() {
	if c, ok := v.keys.(interface{ Close() }); ok {
		c.Close()
	}
	if v.redis != nil {
		v.redis.Close()
	}
}

// PostgresKeys looks keys up in the api_keys table.
type PostgresKeys struct {
	db *pgxpool.Pool
}

func (p *PostgresKeys) ProjectForKey(ctx context.Context, keyHash string) (string, error) {
	var id string
	err := p.db.QueryRow(ctx, `
		SELECT project_id::text FROM api_keys
		WHERE key_hash = $1 AND is_active = true
		AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(&id)
	return id, err
}

func (p *PostgresKeys) MarkUsed(ctx context.Context, keyHash string) {
	_, err := p.db.Exec(ctx, `
		UPDATE api_keys
		SET last_used_at = NOW(), request_count = request_count + 1
		WHERE key_hash = $1
	`, keyHash)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to update API key usage")
	}
}

func (p *PostgresKeys) Close() {
	p.db.Close()
}
