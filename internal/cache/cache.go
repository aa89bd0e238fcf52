// Package cache keeps extraction results in Redis, keyed by the SHA-256 of
// the submitted document, so a worksheet is only extracted once.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/abhisek/sheetsolver/internal/worksheet"
)

const (
	defaultPrefix = "sheetsolver:extraction:v1:"
	defaultTTL    = 7 * 24 * time.Hour
)

// Config holds the Redis connection settings.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL    string
	TTL    time.Duration
	Prefix string
}

// ConfigFromEnv reads SHEETSOLVER_REDIS_URL.
func ConfigFromEnv() Config {
	return Config{URL: os.Getenv("SHEETSOLVER_REDIS_URL")}
}

// Enabled reports whether a Redis URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Redis is a problem cache backed by Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedis(client, cfg, log), nil
}

func newRedis(client *redis.Client, cfg Config, log zerolog.Logger) *Redis {
	r := &Redis{
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		log:    log.With().Str("component", "cache").Logger(),
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.prefix == "" {
		r.prefix = defaultPrefix
	}
	return r
}

// Key fingerprints a document.
func Key(document []byte) string {
	sum := sha256.Sum256(document)
	return hex.EncodeToString(sum[:])
}

// entry keeps the routing hint, which ProblemRecord leaves out of its JSON.
type entry struct {
	worksheet.ProblemRecord
	DiagramDetected bool `json:"diagram_detected,omitempty"`
}

// Load returns the cached problems of document. A miss is (nil, false, nil).
func (r *Redis) Load(ctx context.Context, document []byte) ([]worksheet.ProblemRecord, bool, error) {
	key := r.prefix + Key(document)
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.log.Debug().Str("key", key).Msg("cache.miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entries []entry
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, false, fmt.Errorf("decode cached problems: %w", err)
	}
	problems := make([]worksheet.ProblemRecord, len(entries))
	for i, e := range entries {
		problems[i] = e.ProblemRecord
		problems[i].DiagramDetected = e.DiagramDetected
	}
	r.log.Debug().Str("key", key).Int("problems", len(problems)).Msg("cache.hit")
	return problems, true, nil
}

// Store caches problems for document.
func (r *Redis) Store(ctx context.Context, document []byte, problems []worksheet.ProblemRecord) error {
	b, err := encode(problems)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+Key(document), string(b), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Forget drops the cached problems of document.
func (r *Redis) Forget(ctx context.Context, document []byte) error {
	if err := r.client.Del(ctx, r.prefix+Key(document)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func encode(problems []worksheet.ProblemRecord) ([]byte, error) {
	entries := make([]entry, len(problems))
	for i, p := range problems {
		entries[i] = entry{ProblemRecord: p, DiagramDetected: p.DiagramDetected}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode problems: %w", err)
	}
	return b, nil
}
