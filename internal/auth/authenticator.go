package auth

import (
	"context"
	"sync"
	"time"

	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/store"
)

type cacheEntry struct {
	vehicleID string
	expiresAt time.Time
}

// Authenticator resolves ingestion API keys in three levels: static config
// keys, an in-memory TTL cache, then redis.
type Authenticator struct {
	localCache sync.Map
	redis      *store.RedisStore
	ttl        time.Duration
	staticKeys map[string]bool
}

func NewAuthenticator(cfg *config.Config, redis *store.RedisStore) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		redis:      redis,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
	}
}

// Validate reports whether apiKey may ingest telemetry. For redis-backed
// keys it also returns the vehicle id the key is bound to; static config
// keys are fleet-wide and return an empty binding.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) (string, bool) {
	if a.staticKeys[apiKey] {
		return "", true
	}

	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.vehicleID, true
		}
		a.localCache.Delete(apiKey)
	}

	vehicleID, err := a.redis.GetAPIKey(ctx, apiKey)
	if err != nil || vehicleID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		vehicleID: vehicleID,
		expiresAt: time.Now().Add(a.ttl),
	})

	return vehicleID, true
}
