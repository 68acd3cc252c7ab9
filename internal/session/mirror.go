package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/redis"

	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix   = "chatrelay:session:"
	defaultMirrorTTL = 24 * time.Hour
)

// RedisMirror stores session snapshots as JSON under chatrelay:session:<id>.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &RedisMirror{client: client, ttl: ttl}
}

func mirrorKey(id string) string {
	return redisKeyPrefix + id
}

// Save writes the snapshot and refreshes its TTL.
func (r *RedisMirror) Save(ctx context.Context, snap models.Snapshot) error {
	if r == nil || r.client == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Put(ctx, mirrorKey(snap.ID), data, r.ttl); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot; misses and decode failures report false.
func (r *RedisMirror) Load(ctx context.Context, id string) (*models.Snapshot, bool) {
	if r == nil || r.client == nil {
		return nil, false
	}
	raw, err := r.client.Fetch(ctx, mirrorKey(id))
	if err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			log.Warn().Err(err).Str("session_id", id).Msg("session mirror load failed")
		}
		return nil, false
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("session mirror decode failed")
		return nil, false
	}
	return &snap, true
}
