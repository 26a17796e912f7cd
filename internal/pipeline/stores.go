package pipeline

import (
	"context"

	"fleet-telemetry/internal/domain"
)

// The ingestion core is handed its persistence collaborators as interfaces;
// internal/store provides the Postgres and Redis implementations.

type VehicleStore interface {
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	CreateVehicle(ctx context.Context, v *domain.Vehicle) error
	UpdateVehicle(ctx context.Context, id string, patch domain.VehiclePatch) error
}

type GpsStore interface {
	CreateGpsPoint(ctx context.Context, p *domain.GpsPoint) error
	FindMostRecentGps(ctx context.Context, vehicleID string) (*domain.GpsPoint, error)
	FindRecentGps(ctx context.Context, vehicleID string, n int) ([]*domain.GpsPoint, error)
	CountNonKeyGps(ctx context.Context, vehicleID string) (int, error)
	DeleteOldestNonKeyGps(ctx context.Context, vehicleID string) error
}

type RouteStore interface {
	GetRoute(ctx context.Context, id string) (*domain.Route, error)
}

type ViolationStore interface {
	CreateViolation(ctx context.Context, v *domain.Violation) error
}

type CounterStore interface {
	FindCountersByVehicle(ctx context.Context, vehicleID string) ([]*domain.Counter, error)
	UpdateCounterNextDistance(ctx context.Context, id string, nextDistanceKm float64) error
}

type ObdStore interface {
	CreateObdSample(ctx context.Context, o *domain.ObdSample) error
}

type FuelStore interface {
	CreateFuelSample(ctx context.Context, f *domain.ObdFuelSample) error
	FindMostRecentFuelSample(ctx context.Context, vehicleID string) (*domain.ObdFuelSample, error)
}

// StatePublisher is the live side channel (redis): last-known state view and
// violation fan-out. Both are fire-and-forget relative to ingestion.
type StatePublisher interface {
	UpdateVehicleState(ctx context.Context, fleetID string, p *domain.GpsPoint) error
	PublishViolation(ctx context.Context, fleetID string, v *domain.Violation) error
}

// Stores bundles every collaborator the orchestrator needs.
type Stores struct {
	Vehicles   VehicleStore
	Gps        GpsStore
	Routes     RouteStore
	Violations ViolationStore
	Counters   CounterStore
	Obd        ObdStore
	Fuel       FuelStore
}
