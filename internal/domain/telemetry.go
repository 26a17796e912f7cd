package domain

import "time"

// Vehicle is the per-vehicle record the ingestion core keeps current.
// CurrentRouteID and LastLocationID are nullable references.
type Vehicle struct {
	ID             string
	LicensePlate   string
	FleetID        string
	VehicleType    string
	CurrentRouteID *string
	LastLocationID *string
	LastLocationAt *time.Time
	CreatedAt      time.Time
}

// VehiclePatch carries the mutable fields of a vehicle. Nil means unchanged.
type VehiclePatch struct {
	CurrentRouteID *string
	LastLocationID *string
	LastLocationAt *time.Time
}

// GpsPoint is a single accepted position sample. SpeedKmh is nil when no
// chronologically prior point exists or the elapsed time to it is <= 0.
type GpsPoint struct {
	ID        string
	VehicleID string
	Latitude  float64
	Longitude float64
	Altitude  *float64
	SpeedKmh  *float64
	IsKey     bool
	RouteID   *string
	Timestamp time.Time
}

// Route is a precomputed route geometry assigned to a vehicle. The core only
// consumes it; fetching directions from a provider happens upstream.
type Route struct {
	ID               string
	VehicleID        string
	StartingLocation Location
	EndingLocation   Location
	Geometry         *FeatureCollection
	SummaryDistanceM float64
	StartedAt        time.Time
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type ViolationType string

const (
	ViolationOutOfRoute        ViolationType = "OUT_OF_ROUTE"
	ViolationIdle              ViolationType = "IDLE"
	ViolationSpeeding          ViolationType = "SPEEDING"
	ViolationThresholdExceeded ViolationType = "ThresholdExceeded"
	ViolationFuelTheft         ViolationType = "FUEL_THEFT"
)

// Violation is an append-only record. The core never mutates or deletes one.
type Violation struct {
	ID          string
	VehicleID   string
	Type        ViolationType
	Description string
	Context     map[string]any
	CreatedAt   time.Time
}

// Counter is a maintenance ratchet: NextDistanceKm only ever advances, by
// NeedDistanceKm, each time an OBD sample's cumulative distance crosses it.
type Counter struct {
	ID             string
	VehicleID      string
	Title          string
	Description    string
	NextDistanceKm float64
	NeedDistanceKm float64
}

// ObdSample is a raw onboard-diagnostics reading.
type ObdSample struct {
	ID                    string
	VehicleID             string
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

// ObdFuelSample is the fuel-focused view derived from an ObdSample; the fuel
// anomaly detector operates on consecutive pairs of these.
type ObdFuelSample struct {
	ID                  string
	VehicleID           string
	FuelLevel           float64
	FuelConsumptionRate float64
	DistanceTraveledKm  float64
	Timestamp           time.Time
}
