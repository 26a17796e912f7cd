package domain

import (
	"encoding/json"
	"fmt"
)

// Route geometries arrive as GeoJSON from the routing provider. Rather than
// probing an untyped blob at use time, the payload is decoded into a tagged
// Geometry variant here at the boundary and unsupported types are rejected
// immediately.

type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
)

// Position is a single [longitude, latitude] pair.
type Position [2]float64

func (p Position) Longitude() float64 { return p[0] }
func (p Position) Latitude() float64  { return p[1] }

// Geometry is a decoded GeoJSON geometry. Exactly one of the coordinate
// fields is populated, selected by Type.
type Geometry struct {
	Type       GeometryType
	Point      Position
	LineString []Position
	Polygon    [][]Position
}

type FeatureProperties struct {
	Summary *RouteSummary `json:"summary,omitempty"`
}

// RouteSummary is the provider-computed distance/duration for a route leg.
type RouteSummary struct {
	DistanceM float64 `json:"distance"`
	DurationS float64 `json:"duration"`
}

type Feature struct {
	Geometry   Geometry          `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

type FeatureCollection struct {
	Features []Feature `json:"features"`
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        GeometryType    `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}

	g.Type = raw.Type
	switch raw.Type {
	case GeometryPoint:
		if err := json.Unmarshal(raw.Coordinates, &g.Point); err != nil {
			return fmt.Errorf("decode Point coordinates: %w", err)
		}
	case GeometryLineString:
		if err := json.Unmarshal(raw.Coordinates, &g.LineString); err != nil {
			return fmt.Errorf("decode LineString coordinates: %w", err)
		}
	case GeometryPolygon:
		if err := json.Unmarshal(raw.Coordinates, &g.Polygon); err != nil {
			return fmt.Errorf("decode Polygon coordinates: %w", err)
		}
	default:
		return fmt.Errorf("unsupported geometry type %q", raw.Type)
	}
	return nil
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	var coords any
	switch g.Type {
	case GeometryPoint:
		coords = g.Point
	case GeometryLineString:
		coords = g.LineString
	case GeometryPolygon:
		coords = g.Polygon
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	return json.Marshal(struct {
		Type        GeometryType `json:"type"`
		Coordinates any          `json:"coordinates"`
	}{g.Type, coords})
}

// ParseFeatureCollection decodes raw GeoJSON into a FeatureCollection,
// rejecting unsupported geometry variants.
func ParseFeatureCollection(raw []byte) (*FeatureCollection, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// FirstLineString returns the coordinates of the collection's first feature.
// A missing first feature or a non-LineString geometry is a data-integrity
// failure in upstream route data.
func (fc *FeatureCollection) FirstLineString() ([]Position, error) {
	if fc == nil || len(fc.Features) == 0 {
		return nil, fmt.Errorf("%w: route has no features", ErrInvalidRouteGeometry)
	}
	geom := fc.Features[0].Geometry
	if geom.Type != GeometryLineString {
		return nil, fmt.Errorf("%w: first feature is %s, want LineString", ErrInvalidRouteGeometry, geom.Type)
	}
	return geom.LineString, nil
}
