// Package idempotency implements the Idempotency Service (spec §4.9):
// Check/Save over a replay-safe Idempotency-Key, backed by Redis exactly as
// spec.md's IdempotencyKey (§3) wants — a TTL-bounded cache entry, not a
// durable row — ported from original_source's
// pkgs/bay/app/router/idempotency.py SET-NX-EX discipline.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"crypto/sha256"
	"encoding/hex"

	"github.com/shipyard/sandboxd/internal/apperr"
)

// Record is the cached outcome of a request made under a given key.
type Record struct {
	BodyHash       string    `json:"body_hash"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"response_body"`
	CreatedAt      time.Time `json:"created_at"`
}

type Service struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Service {
	return &Service{rdb: rdb}
}

// HashBody returns the canonical body hash Check/Save compare against.
// crypto/sha256 is stdlib by necessity: no hashing library appears
// anywhere in the example corpus to prefer over it (see DESIGN.md).
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if unicode.IsSpace(r) || !unicode.IsGraphic(r) {
			return false
		}
	}
	return true
}

func redisKey(owner, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", owner, key)
}

// Check looks up key for owner. Returns (nil, nil) on a clean miss, the
// cached Record on a hit with a matching body hash, or a Conflict error on
// a hit with a differing body hash or a malformed key (spec §4.9).
func (s *Service) Check(ctx context.Context, owner, key, bodyHash string) (*Record, error) {
	if !validKey(key) {
		return nil, apperr.Conflict("idempotency key must be non-empty, printable, and contain no whitespace")
	}

	raw, err := s.rdb.Get(ctx, redisKey(owner, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.RuntimeError("idempotency store unavailable", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("idempotency: decode cached record: %w", err)
	}
	if rec.BodyHash != bodyHash {
		return nil, apperr.Conflict("idempotency key reused with a different request body")
	}
	return &rec, nil
}

// Save stores the entry with the given ttl. Uses SET NX so a racing
// duplicate Save (two requests losing the Check race simultaneously) never
// clobbers whichever write landed first.
func (s *Service) Save(ctx context.Context, owner, key, bodyHash string, status int, responseBody []byte, ttl time.Duration) error {
	rec := Record{
		BodyHash:       bodyHash,
		ResponseStatus: status,
		ResponseBody:   responseBody,
		CreatedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.rdb.SetNX(ctx, redisKey(owner, key), data, ttl).Err(); err != nil {
		return apperr.RuntimeError("idempotency store unavailable", err)
	}
	return nil
}
