// Package track derives motion signals from stored GPS history: per-point
// speed, key-point (shape vertex) detection and idle detection.
package track

import (
	"fleet-telemetry/internal/domain"
	"fleet-telemetry/internal/geo"
)

const (
	// keyPointBearingDeg is the direction change above which a point is
	// retained permanently as a shape vertex.
	keyPointBearingDeg = 15.0

	// idleDisplacementFloorM separates GPS jitter while stationary from
	// genuine slow creeping. Low instantaneous speed alone is not enough.
	idleDisplacementFloorM = 5.0

	// IdleWindowSize is how many recent points idle detection looks at.
	IdleWindowSize = 10
)

// Speed derives the speed in km/h between two consecutive points. It returns
// nil when there is no previous point or the elapsed time is not positive.
func Speed(previous, current *domain.GpsPoint) *float64 {
	if previous == nil {
		return nil
	}
	elapsed := current.Timestamp.Sub(previous.Timestamp)
	if elapsed <= 0 {
		return nil
	}
	meters := geo.Haversine(previous.Latitude, previous.Longitude, current.Latitude, current.Longitude)
	kmh := meters / elapsed.Seconds() * 3.6
	return &kmh
}

// IsKeyPoint reports whether current is a shape-defining point. The first
// point of a trail is always key; after that a bearing change beyond the
// threshold marks a vertex worth keeping.
func IsKeyPoint(previous, current *domain.GpsPoint) bool {
	if previous == nil {
		return true
	}
	bearing := geo.Bearing(previous.Latitude, previous.Longitude, current.Latitude, current.Longitude)
	return bearing > keyPointBearingDeg
}

// IsIdle evaluates an idle window of recent points, ordered newest-first.
// The vehicle is idle only when every point's speed is known and below
// speedThresholdKmh AND the cumulative point-to-point displacement across
// the window stays under the displacement floor. Fewer than 2 points is
// never idle.
func IsIdle(recent []*domain.GpsPoint, speedThresholdKmh float64) bool {
	if len(recent) < 2 {
		return false
	}

	for _, p := range recent {
		if p.SpeedKmh == nil || *p.SpeedKmh >= speedThresholdKmh {
			return false
		}
	}

	var displacement float64
	for i := 1; i < len(recent); i++ {
		prev := recent[i-1]
		cur := recent[i]
		displacement += geo.Haversine(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	}

	return displacement < idleDisplacementFloorM
}
