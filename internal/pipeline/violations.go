package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"fleet-telemetry/internal/domain"
	"fleet-telemetry/internal/geo"
	"fleet-telemetry/internal/metrics"
)

// checkConformance tests a coordinate against the vehicle's current route.
// No assigned route, or a route without geometry, trivially conforms — the
// absence of a route is not itself a violation. A first feature that is not a
// LineString is a data-integrity error and is surfaced, never swallowed as
// "conformant".
func (o *Orchestrator) checkConformance(ctx context.Context, vehicle *domain.Vehicle, lat, lng float64) (bool, error) {
	if vehicle.CurrentRouteID == nil {
		return true, nil
	}

	route, err := o.stores.Routes.GetRoute(ctx, *vehicle.CurrentRouteID)
	if errors.Is(err, domain.ErrNotFound) {
		// Stale route pointer: treat as unassigned.
		return true, nil
	}
	if err != nil {
		return false, domain.NewStorageError("route.get", err)
	}
	if route.Geometry == nil {
		return true, nil
	}

	line, err := route.Geometry.FirstLineString()
	if err != nil {
		return false, err
	}

	coords := make([][2]float64, len(line))
	for i, p := range line {
		coords[i] = [2]float64(p)
	}
	return geo.PointOnLine(coords, lat, lng), nil
}

// evaluateGpsRules runs the per-point rule set in order: OUT_OF_ROUTE, IDLE,
// SPEEDING. Rules are independent; each fires at most once per ingested
// point, and emission is fire-and-forget.
func (o *Orchestrator) evaluateGpsRules(ctx context.Context, vehicle *domain.Vehicle, point *domain.GpsPoint, conformant, idle bool) {
	if !conformant {
		o.emitViolation(ctx, vehicle, &domain.Violation{
			VehicleID:   vehicle.ID,
			Type:        domain.ViolationOutOfRoute,
			Description: fmt.Sprintf("%s is out of route at location (%v, %v).", vehicle.ID, point.Latitude, point.Longitude),
			Context: map[string]any{
				"latitude":  point.Latitude,
				"longitude": point.Longitude,
			},
		})
	}

	if idle {
		o.emitViolation(ctx, vehicle, &domain.Violation{
			VehicleID:   vehicle.ID,
			Type:        domain.ViolationIdle,
			Description: fmt.Sprintf("Vehicle %s has been idle for more than %v.", vehicle.ID, o.opts.IdleWindow),
			Context: map[string]any{
				"lastKnownLocation": map[string]any{
					"latitude":  point.Latitude,
					"longitude": point.Longitude,
				},
			},
		})
	}

	if point.SpeedKmh != nil && *point.SpeedKmh > o.opts.SpeedLimitKmh {
		o.emitViolation(ctx, vehicle, &domain.Violation{
			VehicleID:   vehicle.ID,
			Type:        domain.ViolationSpeeding,
			Description: fmt.Sprintf("Vehicle %s exceeded the speed limit of %v km/h.", vehicle.ID, o.opts.SpeedLimitKmh),
			Context: map[string]any{
				"speed": *point.SpeedKmh,
				"location": map[string]any{
					"latitude":  point.Latitude,
					"longitude": point.Longitude,
				},
			},
		})
	}
}

// ratchetCounters fires a ThresholdExceeded violation for every counter whose
// threshold the sample's cumulative distance has crossed, then advances that
// counter by its increment. Thresholds only ever move up.
func (o *Orchestrator) ratchetCounters(ctx context.Context, vehicle *domain.Vehicle, sample *domain.ObdSample) error {
	counters, err := o.stores.Counters.FindCountersByVehicle(ctx, vehicle.ID)
	if err != nil {
		return domain.NewStorageError("counter.findByVehicle", err)
	}

	for _, c := range counters {
		if sample.DistanceTraveledKm <= c.NextDistanceKm {
			continue
		}

		o.emitViolation(ctx, vehicle, &domain.Violation{
			VehicleID:   vehicle.ID,
			Type:        domain.ViolationThresholdExceeded,
			Description: fmt.Sprintf("Vehicle has exceeded the threshold for counter: %s.", c.Title),
			Context: map[string]any{
				"currentDistance":    sample.DistanceTraveledKm,
				"threshold":          c.NextDistanceKm,
				"counterTitle":       c.Title,
				"counterDescription": c.Description,
				"counterId":          c.ID,
			},
		})

		next := c.NextDistanceKm + c.NeedDistanceKm
		if err := o.stores.Counters.UpdateCounterNextDistance(ctx, c.ID, next); err != nil {
			return domain.NewStorageError("counter.update", err)
		}
	}
	return nil
}

// checkFuelAnomaly compares the new fuel sample against the most recent prior
// one: a level drop beyond the expected consumption (with tolerance) is
// flagged as potential theft. A rising level is a refuel and never fires.
func (o *Orchestrator) checkFuelAnomaly(ctx context.Context, vehicle *domain.Vehicle, current *domain.ObdFuelSample) {
	prior, err := o.stores.Fuel.FindMostRecentFuelSample(ctx, current.VehicleID)
	if err != nil {
		log.Printf("fuel lookback failed for %s: %v", current.VehicleID, err)
		return
	}
	if prior == nil {
		return
	}

	elapsedHours := current.Timestamp.Sub(prior.Timestamp).Hours()
	expectedDecrease := prior.FuelConsumptionRate * elapsedHours
	actualDecrease := prior.FuelLevel - current.FuelLevel

	if actualDecrease <= 0 {
		return
	}
	if actualDecrease <= expectedDecrease*o.opts.FuelTheftTolerance {
		return
	}

	o.emitViolation(ctx, vehicle, &domain.Violation{
		VehicleID:   current.VehicleID,
		Type:        domain.ViolationFuelTheft,
		Description: fmt.Sprintf("potential fuel theft detected for vehicle %s. Fuel level drop exceeds expected consumption.", current.VehicleID),
		Context: map[string]any{
			"fuelLevelDrop":       actualDecrease,
			"expectedDrop":        expectedDecrease,
			"fuelConsumptionRate": prior.FuelConsumptionRate,
			"timeDifference":      elapsedHours,
		},
	})
}

// emitViolation persists and publishes a violation record. Both writes are
// fire-and-forget relative to the triggering telemetry: failures go to the
// log and the failure counter, never back up the ingestion call.
func (o *Orchestrator) emitViolation(ctx context.Context, vehicle *domain.Vehicle, v *domain.Violation) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	if err := o.stores.Violations.CreateViolation(ctx, v); err != nil {
		metrics.ViolationWriteFailures.Add(1)
		log.Printf("violation write failed for %s (%s): %v", v.VehicleID, v.Type, err)
		return
	}
	metrics.ViolationsEmitted.Add(1)

	if o.state != nil {
		if err := o.state.PublishViolation(ctx, vehicle.FleetID, v); err != nil {
			log.Printf("violation publish failed for %s (%s): %v", v.VehicleID, v.Type, err)
		}
	}
}
