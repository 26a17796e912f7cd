// Package geo holds the pure spherical-geometry primitives used by the
// ingestion pipeline. All angles are degrees, all distances meters.
package geo

import "math"

const earthRadiusMeters = 6371000

// onLineEpsilon bounds the cross-product magnitude, in squared degrees, under
// which a point is considered collinear with a segment.
const onLineEpsilon = 1e-9

// Haversine calculates the great-circle distance between two points in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Bearing calculates the initial bearing from point 1 to point 2 in degrees [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(deltaLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	bearing := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// PointOnLine reports whether the point lies on the polyline, within
// floating-point tolerance of a point-on-segment test. Coordinates in line
// are [lng, lat] pairs; the target point is given as (lat, lng).
func PointOnLine(line [][2]float64, lat, lng float64) bool {
	for i := 1; i < len(line); i++ {
		if pointOnSegment(line[i-1], line[i], lng, lat) {
			return true
		}
	}
	return false
}

// pointOnSegment tests collinearity via the planar cross product and then
// containment within the segment's bounding box. Segments produced by routing
// providers are short enough that the planar approximation holds.
func pointOnSegment(a, b [2]float64, x, y float64) bool {
	cross := (b[0]-a[0])*(y-a[1]) - (b[1]-a[1])*(x-a[0])
	if math.Abs(cross) > onLineEpsilon {
		return false
	}
	if x < math.Min(a[0], b[0])-onLineEpsilon || x > math.Max(a[0], b[0])+onLineEpsilon {
		return false
	}
	if y < math.Min(a[1], b[1])-onLineEpsilon || y > math.Max(a[1], b[1])+onLineEpsilon {
		return false
	}
	return true
}

// LineLength calculates the total length of a polyline in meters.
// Coordinates are [lng, lat] pairs.
func LineLength(coords [][2]float64) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Haversine(
			coords[i-1][1], coords[i-1][0],
			coords[i][1], coords[i][0],
		)
	}
	return total
}
