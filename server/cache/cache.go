// Package cache stores derived results (stress predictions, chat answers)
// behind a backend-neutral interface. Values are JSON encoded so both
// backends decode into the caller's destination the same way.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Set(ctx context.Context, key string, value interface{}) error

	// Get decodes the stored value into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest interface{}) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Backend   string `json:"backend"`
	Connected bool   `json:"connected"`
	Info      string `json:"info"`
}

// GenerateCacheKey hashes components into a fixed-length key under prefix.
// Components are length-delimited so ("ab","c") and ("a","bc") differ.
func GenerateCacheKey(prefix string, components ...string) string {
	h := sha256.New()
	for _, component := range components {
		h.Write([]byte(component))
		h.Write([]byte{0})
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
