// Package analytics answers read-side questions over stored telemetry: fuel
// filled/used over a window, per-vehicle totals, and route progress against
// the provider geometry.
package analytics

import (
	"context"
	"math"
	"time"

	"fleet-telemetry/internal/domain"
	"fleet-telemetry/internal/geo"
)

type FuelSampleReader interface {
	FindFuelSamplesSince(ctx context.Context, vehicleID string, since time.Time) ([]*domain.ObdFuelSample, error)
}

type RouteReader interface {
	GetRoute(ctx context.Context, id string) (*domain.Route, error)
}

type KeyPointReader interface {
	FindKeyPointsByRoute(ctx context.Context, routeID string) ([]*domain.GpsPoint, error)
}

type Service struct {
	fuel      FuelSampleReader
	routes    RouteReader
	keyPoints KeyPointReader
}

func NewService(fuel FuelSampleReader, routes RouteReader, keyPoints KeyPointReader) *Service {
	return &Service{fuel: fuel, routes: routes, keyPoints: keyPoints}
}

// FuelReport sums level increases (refuels) and decreases (consumption)
// across consecutive samples in the window.
type FuelReport struct {
	FuelFilled float64 `json:"fuelFilled"`
	FuelUsed   float64 `json:"fuelUsed"`
}

// FuelAnalytics reports fuel filled and used over the trailing window. Fewer
// than two samples yields a zero report.
func (s *Service) FuelAnalytics(ctx context.Context, vehicleID string, window time.Duration) (*FuelReport, error) {
	since := time.Now().UTC().Add(-window)
	samples, err := s.fuel.FindFuelSamplesSince(ctx, vehicleID, since)
	if err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return &FuelReport{}, nil
	}

	var filled, used float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		switch {
		case cur.FuelLevel > prev.FuelLevel:
			filled += cur.FuelLevel - prev.FuelLevel
		case cur.FuelLevel < prev.FuelLevel:
			used += prev.FuelLevel - cur.FuelLevel
		}
	}

	return &FuelReport{
		FuelFilled: round2(filled),
		FuelUsed:   round2(used),
	}, nil
}

// VehicleReport holds lifetime totals derived from fuel samples.
type VehicleReport struct {
	TotalDistanceKm float64 `json:"totalDistance"`
	TotalFuelUsed   float64 `json:"totalFuelUsed"`
}

// VehicleAnalytics totals distance traveled and fuel consumed across all of
// a vehicle's fuel samples.
func (s *Service) VehicleAnalytics(ctx context.Context, vehicleID string) (*VehicleReport, error) {
	samples, err := s.fuel.FindFuelSamplesSince(ctx, vehicleID, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return &VehicleReport{}, nil
	}

	var distance, fuelUsed float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		if cur.DistanceTraveledKm > 0 && prev.DistanceTraveledKm > 0 {
			distance += cur.DistanceTraveledKm - prev.DistanceTraveledKm
		}
		if cur.FuelLevel > 0 && prev.FuelLevel > 0 {
			fuelUsed += prev.FuelLevel - cur.FuelLevel
		}
	}

	return &VehicleReport{
		TotalDistanceKm: round2(distance),
		TotalFuelUsed:   round2(fuelUsed),
	}, nil
}

// RouteProgress compares the driven key-point trail against the provider
// geometry for one route.
type RouteProgress struct {
	Geometry       []domain.Position `json:"geojson"`
	Trail          [][2]float64      `json:"gps"`
	GpsDistanceM   float64           `json:"gpsDistance"`
	RouteDistanceM float64           `json:"geojsonDistance"`
}

// RouteProgressFor returns the route's geometry, the vehicle's key-point
// trail, the trail's haversine length and the provider summary distance.
func (s *Service) RouteProgressFor(ctx context.Context, routeID string) (*RouteProgress, error) {
	route, err := s.routes.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}

	var geometry []domain.Position
	if route.Geometry != nil {
		if line, err := route.Geometry.FirstLineString(); err == nil {
			geometry = line
		}
	}

	points, err := s.keyPoints.FindKeyPointsByRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}

	trail := make([][2]float64, len(points))
	for i, p := range points {
		trail[i] = [2]float64{p.Longitude, p.Latitude}
	}

	return &RouteProgress{
		Geometry:       geometry,
		Trail:          trail,
		GpsDistanceM:   geo.LineLength(trail),
		RouteDistanceM: route.SummaryDistanceM,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
