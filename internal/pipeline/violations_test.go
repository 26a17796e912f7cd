package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-telemetry/internal/domain"
)

func lineRoute(id string, coords ...domain.Position) *domain.Route {
	return &domain.Route{
		ID: id,
		Geometry: &domain.FeatureCollection{Features: []domain.Feature{{
			Geometry: domain.Geometry{Type: domain.GeometryLineString, LineString: coords},
		}}},
	}
}

func assignRoute(t *testing.T, mem *memStore, vehicleID string, route *domain.Route) {
	t.Helper()
	mem.routes[route.ID] = route
	require.NoError(t, mem.CreateVehicle(context.Background(), &domain.Vehicle{
		ID:             vehicleID,
		CurrentRouteID: &route.ID,
	}))
}

func TestOutOfRouteViolation(t *testing.T) {
	orc, mem, pub := newTestOrchestrator(Options{})
	ctx := context.Background()
	// Route runs along the prime meridian; the point is nowhere near it.
	assignRoute(t, mem, "veh-1", lineRoute("route-1", domain.Position{0, 0}, domain.Position{0, 0.01}))

	point, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.0, Longitude: 74.0, Timestamp: time.Now()}, nil)
	require.NoError(t, err)
	require.NotNil(t, point)

	got := mem.violationsOfType(domain.ViolationOutOfRoute)
	require.Len(t, got, 1)
	assert.Equal(t, "veh-1", got[0].VehicleID)
	assert.Equal(t, 42.0, got[0].Context["latitude"])
	assert.Equal(t, 74.0, got[0].Context["longitude"])
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	// Published on the live channel too.
	require.Len(t, pub.violations, 1)
	assert.Equal(t, got[0].ID, pub.violations[0].ID)
}

func TestConformantPointEmitsNothing(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	assignRoute(t, mem, "veh-1", lineRoute("route-1", domain.Position{74.0, 42.0}, domain.Position{74.0, 42.01}))

	_, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.005, Longitude: 74.0, Timestamp: time.Now()}, nil)
	require.NoError(t, err)
	assert.Empty(t, mem.emitted)
}

func TestNoAssignedRouteNeverOutOfRoute(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()

	_, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.0, Longitude: 74.0, Timestamp: time.Now()}, nil)
	require.NoError(t, err)
	assert.Empty(t, mem.violationsOfType(domain.ViolationOutOfRoute))
}

func TestStaleRoutePointerTreatedAsUnassigned(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	gone := "route-deleted"
	require.NoError(t, mem.CreateVehicle(ctx, &domain.Vehicle{ID: "veh-1", CurrentRouteID: &gone}))

	_, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.0, Longitude: 74.0, Timestamp: time.Now()}, nil)
	require.NoError(t, err)
	assert.Empty(t, mem.emitted)
}

func TestInvalidRouteGeometryAbortsIngestion(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	badRoute := &domain.Route{
		ID: "route-bad",
		Geometry: &domain.FeatureCollection{Features: []domain.Feature{{
			Geometry: domain.Geometry{Type: domain.GeometryPoint, Point: domain.Position{74.0, 42.0}},
		}}},
	}
	assignRoute(t, mem, "veh-1", badRoute)

	_, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.0, Longitude: 74.0, Timestamp: time.Now()}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidRouteGeometry)

	// Nothing was written: not the point, not a violation.
	assert.Empty(t, mem.points)
	assert.Empty(t, mem.emitted)
}

func TestSpeedingViolation(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{SpeedLimitKmh: 90})
	ctx := context.Background()
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	_, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.0, Longitude: 74.0, Timestamp: ts}, nil)
	require.NoError(t, err)
	assert.Empty(t, mem.emitted)

	// ~13.9 km in one minute.
	point, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.1, Longitude: 74.1, Timestamp: ts.Add(time.Minute)}, nil)
	require.NoError(t, err)

	got := mem.violationsOfType(domain.ViolationSpeeding)
	require.Len(t, got, 1)
	assert.Equal(t, *point.SpeedKmh, got[0].Context["speed"])
	loc, ok := got[0].Context["location"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 42.1, loc["latitude"])
}

func TestNoSpeedingAtTheLimit(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{SpeedLimitKmh: 90})
	ctx := context.Background()
	vehicle := &domain.Vehicle{ID: "veh-1"}
	require.NoError(t, mem.CreateVehicle(ctx, vehicle))

	// Exactly at the limit: the rule is strictly greater-than.
	atLimit := 90.0
	orc.evaluateGpsRules(ctx, vehicle, &domain.GpsPoint{
		VehicleID: "veh-1",
		Latitude:  42.0,
		Longitude: 74.0,
		SpeedKmh:  &atLimit,
	}, true, false)
	assert.Empty(t, mem.violationsOfType(domain.ViolationSpeeding))

	// Unknown speed never fires either.
	orc.evaluateGpsRules(ctx, vehicle, &domain.GpsPoint{VehicleID: "veh-1"}, true, false)
	assert.Empty(t, mem.emitted)
}

func TestIdleViolation(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{IdleSpeedKmh: 5, GpsRetentionLimit: 50})
	ctx := context.Background()
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	slow := 0.5

	// A stationary window already in the store.
	for i := 0; i < 10; i++ {
		require.NoError(t, mem.CreateGpsPoint(ctx, &domain.GpsPoint{
			ID:        string(rune('a' + i)),
			VehicleID: "veh-1",
			Latitude:  42.0,
			Longitude: 74.0,
			SpeedKmh:  &slow,
			Timestamp: ts.Add(time.Duration(i) * 30 * time.Second),
		}))
	}
	require.NoError(t, mem.CreateVehicle(ctx, &domain.Vehicle{ID: "veh-1"}))

	_, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.0, Longitude: 74.0, Timestamp: ts.Add(10 * 30 * time.Second)}, nil)
	require.NoError(t, err)

	got := mem.violationsOfType(domain.ViolationIdle)
	require.Len(t, got, 1)
	loc, ok := got[0].Context["lastKnownLocation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 42.0, loc["latitude"])
	assert.Equal(t, 74.0, loc["longitude"])
}

func TestNoIdleWhileMoving(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{IdleSpeedKmh: 5, GpsRetentionLimit: 50, SpeedLimitKmh: 1e9})
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	northboundTrail(t, orc, "veh-1", 12, start)
	assert.Empty(t, mem.violationsOfType(domain.ViolationIdle))
}

func TestViolationWriteFailureDoesNotAbortIngestion(t *testing.T) {
	orc, mem, pub := newTestOrchestrator(Options{})
	mem.failCreateViolation = errors.New("violations table unavailable")
	ctx := context.Background()
	assignRoute(t, mem, "veh-1", lineRoute("route-1", domain.Position{0, 0}, domain.Position{0, 0.01}))

	point, err := orc.IngestGps(ctx, "veh-1", GpsInput{Latitude: 42.0, Longitude: 74.0, Timestamp: time.Now()}, nil)
	require.NoError(t, err)
	require.NotNil(t, point)

	// The point landed even though the violation record did not, and the
	// failed record was not published either.
	assert.Len(t, mem.points, 1)
	assert.Empty(t, mem.emitted)
	assert.Empty(t, pub.violations)
}

func TestCounterRatchet(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	require.NoError(t, mem.CreateVehicle(ctx, &domain.Vehicle{ID: "veh-1"}))
	mem.counters = append(mem.counters, &domain.Counter{
		ID:             "ctr-1",
		VehicleID:      "veh-1",
		Title:          "Oil change",
		NextDistanceKm: 5000,
		NeedDistanceKm: 5000,
	})
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	// Crossing the threshold fires once and advances it.
	_, err := orc.IngestObdMetric(ctx, "veh-1", ObdInput{DistanceTraveledKm: 6000, Timestamp: ts})
	require.NoError(t, err)

	got := mem.violationsOfType(domain.ViolationThresholdExceeded)
	require.Len(t, got, 1)
	assert.Equal(t, 6000.0, got[0].Context["currentDistance"])
	assert.Equal(t, 5000.0, got[0].Context["threshold"])
	assert.Equal(t, "Oil change", got[0].Context["counterTitle"])
	assert.Equal(t, "ctr-1", got[0].Context["counterId"])
	assert.Equal(t, 10000.0, mem.counters[0].NextDistanceKm)

	// Below the advanced threshold: quiet.
	_, err = orc.IngestObdMetric(ctx, "veh-1", ObdInput{DistanceTraveledKm: 7000, Timestamp: ts.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, mem.violationsOfType(domain.ViolationThresholdExceeded), 1)

	// Crossing again fires again.
	_, err = orc.IngestObdMetric(ctx, "veh-1", ObdInput{DistanceTraveledKm: 12000, Timestamp: ts.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, mem.violationsOfType(domain.ViolationThresholdExceeded), 2)
	assert.Equal(t, 15000.0, mem.counters[0].NextDistanceKm)
}

func TestCounterExactlyAtThresholdDoesNotFire(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	require.NoError(t, mem.CreateVehicle(ctx, &domain.Vehicle{ID: "veh-1"}))
	mem.counters = append(mem.counters, &domain.Counter{
		ID: "ctr-1", VehicleID: "veh-1", NextDistanceKm: 5000, NeedDistanceKm: 5000,
	})

	_, err := orc.IngestObdMetric(ctx, "veh-1", ObdInput{DistanceTraveledKm: 5000, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, mem.emitted)
	assert.Equal(t, 5000.0, mem.counters[0].NextDistanceKm)
}

func TestCounterUpdateFailureAbortsObdIngestion(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	require.NoError(t, mem.CreateVehicle(ctx, &domain.Vehicle{ID: "veh-1"}))
	mem.counters = append(mem.counters, &domain.Counter{
		ID: "ctr-1", VehicleID: "veh-1", NextDistanceKm: 5000, NeedDistanceKm: 5000,
	})
	mem.failUpdateCounter = errors.New("write timeout")

	_, err := orc.IngestObdMetric(ctx, "veh-1", ObdInput{DistanceTraveledKm: 6000, Timestamp: time.Now()})
	var serr *domain.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "counter.update", serr.Op)
	assert.Empty(t, mem.obd)
}

func fuelSample(vehicleID string, level, rate float64, ts time.Time) *domain.ObdFuelSample {
	return &domain.ObdFuelSample{
		VehicleID:           vehicleID,
		FuelLevel:           level,
		FuelConsumptionRate: rate,
		Timestamp:           ts,
	}
}

func TestFuelTheftDetection(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{FuelTheftTolerance: 1.2})
	ctx := context.Background()
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	_, err := orc.IngestFuelSample(ctx, fuelSample("veh-1", 80, 2, ts))
	require.NoError(t, err)
	assert.Empty(t, mem.emitted, "first sample has nothing to compare against")

	// 30 units gone in an hour against an expected burn of 2.
	_, err = orc.IngestFuelSample(ctx, fuelSample("veh-1", 50, 2, ts.Add(time.Hour)))
	require.NoError(t, err)

	got := mem.violationsOfType(domain.ViolationFuelTheft)
	require.Len(t, got, 1)
	assert.Equal(t, 30.0, got[0].Context["fuelLevelDrop"])
	assert.Equal(t, 2.0, got[0].Context["expectedDrop"])
	assert.Equal(t, 2.0, got[0].Context["fuelConsumptionRate"])
	assert.Equal(t, 1.0, got[0].Context["timeDifference"])
	assert.Len(t, mem.fuel, 2)
}

func TestFuelDropWithinToleranceIsQuiet(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{FuelTheftTolerance: 1.2})
	ctx := context.Background()
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	_, err := orc.IngestFuelSample(ctx, fuelSample("veh-1", 80, 2, ts))
	require.NoError(t, err)

	// Expected burn 2, tolerance 1.2: anything up to 2.4 is normal.
	_, err = orc.IngestFuelSample(ctx, fuelSample("veh-1", 77.8, 2, ts.Add(time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, mem.emitted)
}

func TestRefuelNeverFires(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	_, err := orc.IngestFuelSample(ctx, fuelSample("veh-1", 20, 2, ts))
	require.NoError(t, err)

	_, err = orc.IngestFuelSample(ctx, fuelSample("veh-1", 95, 2, ts.Add(10*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, mem.emitted)
}

func TestFuelTheftViaObdSamples(t *testing.T) {
	orc, mem, _ := newTestOrchestrator(Options{})
	ctx := context.Background()
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	rate := 2.0

	first, second := 80.0, 50.0
	_, err := orc.IngestObdMetric(ctx, "veh-1", ObdInput{FuelLevel: &first, FuelConsumptionRate: &rate, Timestamp: ts})
	require.NoError(t, err)
	_, err = orc.IngestObdMetric(ctx, "veh-1", ObdInput{FuelLevel: &second, FuelConsumptionRate: &rate, Timestamp: ts.Add(time.Hour)})
	require.NoError(t, err)

	assert.Len(t, mem.violationsOfType(domain.ViolationFuelTheft), 1)
}
