// Package pipeline implements the telemetry ingestion core: per-vehicle
// serialized processing of GPS points and OBD samples, motion-signal
// derivation, the violation rule set, and bounded-history eviction.
package pipeline

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"fleet-telemetry/internal/domain"
	"fleet-telemetry/internal/metrics"
	"fleet-telemetry/internal/track"
)

// Options carries the rule thresholds. Zero values are replaced by the
// defaults the rules were specified with.
type Options struct {
	GpsRetentionLimit  int
	SpeedLimitKmh      float64
	IdleWindow         time.Duration
	IdleSpeedKmh       float64
	FuelTheftTolerance float64
}

func (o Options) withDefaults() Options {
	if o.GpsRetentionLimit == 0 {
		o.GpsRetentionLimit = 10
	}
	if o.SpeedLimitKmh == 0 {
		o.SpeedLimitKmh = 90
	}
	if o.IdleWindow == 0 {
		o.IdleWindow = 5 * time.Minute
	}
	if o.IdleSpeedKmh == 0 {
		o.IdleSpeedKmh = 5
	}
	if o.FuelTheftTolerance == 0 {
		o.FuelTheftTolerance = 1.2
	}
	return o
}

// Orchestrator sequences the ingestion pipeline. All stateful steps for one
// vehicle run inside that vehicle's serialization domain; vehicles do not
// contend with each other.
type Orchestrator struct {
	stores Stores
	state  StatePublisher
	opts   Options
	locks  *keyedMutex
}

func NewOrchestrator(stores Stores, state StatePublisher, opts Options) *Orchestrator {
	return &Orchestrator{
		stores: stores,
		state:  state,
		opts:   opts.withDefaults(),
		locks:  newKeyedMutex(),
	}
}

// GpsInput is a raw position sample at the ingestion boundary.
type GpsInput struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Timestamp time.Time
}

func (in GpsInput) validate() error {
	if math.IsNaN(in.Latitude) || math.IsInf(in.Latitude, 0) ||
		math.IsNaN(in.Longitude) || math.IsInf(in.Longitude, 0) {
		return domain.ErrInvalidInput
	}
	if in.Latitude < -90 || in.Latitude > 90 || in.Longitude < -180 || in.Longitude > 180 {
		return domain.ErrInvalidInput
	}
	if in.Timestamp.IsZero() {
		return domain.ErrInvalidInput
	}
	return nil
}

// IngestGps runs the full GPS sequence: previous-point lookup, speed
// derivation, conformance and idle checks, rule evaluation, key-point
// flagging, persistence, last-location update and eviction.
//
// An InvalidRouteGeometry failure aborts before any write; a storage failure
// on the point itself aborts the call. Violation and live-state writes are
// fire-and-forget.
func (o *Orchestrator) IngestGps(ctx context.Context, vehicleID string, in GpsInput, routeID *string) (*domain.GpsPoint, error) {
	if vehicleID == "" {
		return nil, domain.ErrInvalidInput
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(vehicleID)
	defer unlock()

	vehicle, err := o.ensureVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}

	previous, err := o.stores.Gps.FindMostRecentGps(ctx, vehicleID)
	if err != nil {
		return nil, domain.NewStorageError("gps.findMostRecent", err)
	}

	point := &domain.GpsPoint{
		ID:        uuid.NewString(),
		VehicleID: vehicleID,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Altitude:  in.Altitude,
		Timestamp: in.Timestamp,
	}
	point.SpeedKmh = track.Speed(previous, point)
	if routeID != nil {
		point.RouteID = routeID
	} else {
		point.RouteID = vehicle.CurrentRouteID
	}

	conformant, err := o.checkConformance(ctx, vehicle, in.Latitude, in.Longitude)
	if err != nil {
		return nil, err
	}

	recent, err := o.stores.Gps.FindRecentGps(ctx, vehicleID, track.IdleWindowSize)
	if err != nil {
		return nil, domain.NewStorageError("gps.findRecent", err)
	}
	idle := track.IsIdle(recent, o.opts.IdleSpeedKmh)

	o.evaluateGpsRules(ctx, vehicle, point, conformant, idle)

	point.IsKey = track.IsKeyPoint(previous, point)

	if err := o.stores.Gps.CreateGpsPoint(ctx, point); err != nil {
		metrics.PrimaryWriteFailures.Add(1)
		return nil, domain.NewStorageError("gps.create", err)
	}
	metrics.GpsPointsIngested.Add(1)

	patch := domain.VehiclePatch{
		LastLocationID: &point.ID,
		LastLocationAt: &point.Timestamp,
	}
	if err := o.stores.Vehicles.UpdateVehicle(ctx, vehicleID, patch); err != nil {
		return nil, domain.NewStorageError("vehicle.update", err)
	}

	if err := o.enforceRetention(ctx, vehicleID); err != nil {
		return nil, err
	}

	if o.state != nil {
		if err := o.state.UpdateVehicleState(ctx, vehicle.FleetID, point); err != nil {
			metrics.StateUpdateFailures.Add(1)
			log.Printf("state update failed for %s: %v", vehicleID, err)
		}
	}

	return point, nil
}

// ObdInput is a raw onboard-diagnostics sample at the ingestion boundary.
type ObdInput struct {
	EngineRpm             *float64
	FuelLevel             *float64
	EngineLoad            *float64
	MassAirFlow           *float64
	FuelPressure          *float64
	FuelConsumptionRate   *float64
	DiagnosticTroubleCode *string
	DistanceTraveledKm    float64
	Timestamp             time.Time
}

// IngestObdMetric evaluates maintenance counters against the sample, persists
// it, then derives a fuel-sample view and runs the fuel anomaly detector on
// that view.
func (o *Orchestrator) IngestObdMetric(ctx context.Context, vehicleID string, in ObdInput) (*domain.ObdSample, error) {
	if vehicleID == "" {
		return nil, domain.ErrInvalidInput
	}
	if in.Timestamp.IsZero() {
		return nil, domain.ErrInvalidInput
	}

	unlock := o.locks.Lock(vehicleID)
	defer unlock()

	vehicle, err := o.ensureVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}

	sample := &domain.ObdSample{
		ID:                    uuid.NewString(),
		VehicleID:             vehicleID,
		EngineRpm:             in.EngineRpm,
		FuelLevel:             in.FuelLevel,
		EngineLoad:            in.EngineLoad,
		MassAirFlow:           in.MassAirFlow,
		FuelPressure:          in.FuelPressure,
		FuelConsumptionRate:   in.FuelConsumptionRate,
		DiagnosticTroubleCode: in.DiagnosticTroubleCode,
		DistanceTraveledKm:    in.DistanceTraveledKm,
		Timestamp:             in.Timestamp,
	}

	if err := o.ratchetCounters(ctx, vehicle, sample); err != nil {
		return nil, err
	}

	if err := o.stores.Obd.CreateObdSample(ctx, sample); err != nil {
		metrics.PrimaryWriteFailures.Add(1)
		return nil, domain.NewStorageError("obd.create", err)
	}
	metrics.ObdSamplesIngested.Add(1)

	if _, err := o.ingestFuelLocked(ctx, vehicle, fuelView(sample)); err != nil {
		return nil, err
	}

	return sample, nil
}

// IngestFuelSample runs the fuel anomaly detector against the previous sample
// and persists the new one.
func (o *Orchestrator) IngestFuelSample(ctx context.Context, f *domain.ObdFuelSample) (*domain.ObdFuelSample, error) {
	if f == nil || f.VehicleID == "" {
		return nil, domain.ErrInvalidInput
	}
	if f.Timestamp.IsZero() {
		return nil, domain.ErrInvalidInput
	}

	unlock := o.locks.Lock(f.VehicleID)
	defer unlock()

	vehicle, err := o.ensureVehicle(ctx, f.VehicleID)
	if err != nil {
		return nil, err
	}
	return o.ingestFuelLocked(ctx, vehicle, f)
}

func (o *Orchestrator) ingestFuelLocked(ctx context.Context, vehicle *domain.Vehicle, f *domain.ObdFuelSample) (*domain.ObdFuelSample, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	o.checkFuelAnomaly(ctx, vehicle, f)

	if err := o.stores.Fuel.CreateFuelSample(ctx, f); err != nil {
		metrics.PrimaryWriteFailures.Add(1)
		return nil, domain.NewStorageError("fuel.create", err)
	}
	metrics.FuelSamplesIngested.Add(1)
	return f, nil
}

// fuelView derives the fuel-focused sample the anomaly detector operates on.
// Gauge-style fields are rounded to whole units, matching the granularity the
// hardware reports.
func fuelView(o *domain.ObdSample) *domain.ObdFuelSample {
	f := &domain.ObdFuelSample{
		VehicleID:          o.VehicleID,
		DistanceTraveledKm: o.DistanceTraveledKm,
		Timestamp:          o.Timestamp,
	}
	if o.FuelLevel != nil {
		f.FuelLevel = math.Round(*o.FuelLevel)
	}
	if o.FuelConsumptionRate != nil {
		f.FuelConsumptionRate = *o.FuelConsumptionRate
	}
	return f
}

// ensureVehicle looks the vehicle up and auto-registers a minimal record when
// telemetry arrives for one we have never seen.
func (o *Orchestrator) ensureVehicle(ctx context.Context, vehicleID string) (*domain.Vehicle, error) {
	vehicle, err := o.stores.Vehicles.GetVehicle(ctx, vehicleID)
	if err == nil {
		return vehicle, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewStorageError("vehicle.get", err)
	}

	vehicle = &domain.Vehicle{ID: vehicleID, CreatedAt: time.Now().UTC()}
	if err := o.stores.Vehicles.CreateVehicle(ctx, vehicle); err != nil {
		return nil, domain.NewStorageError("vehicle.create", err)
	}
	return vehicle, nil
}

// enforceRetention bounds stored non-key history: when the count exceeds the
// limit, exactly the single oldest non-key point is deleted. Key points are
// the durable route skeleton and are never touched.
func (o *Orchestrator) enforceRetention(ctx context.Context, vehicleID string) error {
	count, err := o.stores.Gps.CountNonKeyGps(ctx, vehicleID)
	if err != nil {
		return domain.NewStorageError("gps.count", err)
	}
	if count <= o.opts.GpsRetentionLimit {
		return nil
	}
	if err := o.stores.Gps.DeleteOldestNonKeyGps(ctx, vehicleID); err != nil {
		return domain.NewStorageError("gps.deleteOldest", err)
	}
	metrics.PointsEvicted.Add(1)
	return nil
}
