package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/domain"
)

// RedisStore keeps the live per-vehicle state view and fans violations out to
// subscribers. Everything here is a side channel: failures are reported, never
// allowed to abort the telemetry write that triggered them.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// UpdateVehicleState refreshes the vehicle state hash and the fleet geo set,
// and publishes the accepted point on the fleet telemetry channel.
func (r *RedisStore) UpdateVehicleState(ctx context.Context, fleetID string, p *domain.GpsPoint) error {
	stateData := map[string]interface{}{
		"vehicle_id": p.VehicleID,
		"fleet_id":   fleetID,
		"lat":        p.Latitude,
		"lng":        p.Longitude,
		"is_key":     p.IsKey,
		"timestamp":  p.Timestamp.Unix(),
	}
	if p.SpeedKmh != nil {
		stateData["speed_kmh"] = *p.SpeedKmh
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	vehicleStateKey := fmt.Sprintf("vehicle:%s:state", p.VehicleID)
	geoKey := fmt.Sprintf("fleet:%s:geo", fleetID)
	pubChannel := fmt.Sprintf("fleet:%s:telemetry", fleetID)

	pipe := r.client.Pipeline()

	pipe.HSet(ctx, vehicleStateKey, stateData)
	pipe.Expire(ctx, vehicleStateKey, 30*time.Second)
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      p.VehicleID,
		Longitude: p.Longitude,
		Latitude:  p.Latitude,
	})
	pipe.Publish(ctx, pubChannel, pubPayload)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// PublishViolation pushes a violation onto the fleet alert channel for live
// consumers (websocket feed, dashboards).
func (r *RedisStore) PublishViolation(ctx context.Context, fleetID string, v *domain.Violation) error {
	payload, err := json.Marshal(map[string]interface{}{
		"violation_id": v.ID,
		"vehicle_id":   v.VehicleID,
		"type":         string(v.Type),
		"description":  v.Description,
		"context":      v.Context,
		"created_at":   v.CreatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}
	channel := fmt.Sprintf("fleet:%s:violations", fleetID)
	return r.client.Publish(ctx, channel, payload).Err()
}

// SubscribeViolations opens a pub/sub subscription on a fleet's violation
// channel. The caller owns the returned subscription.
func (r *RedisStore) SubscribeViolations(ctx context.Context, fleetID string) *redis.PubSub {
	channel := fmt.Sprintf("fleet:%s:violations", fleetID)
	return r.client.Subscribe(ctx, channel)
}

// GetAPIKey resolves an ingestion API key to the vehicle it is bound to.
// An unknown key resolves to the empty string without error.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("vehicle:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}
