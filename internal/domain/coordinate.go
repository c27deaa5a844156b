// Package domain contains the core entities and value objects of the feature index.
package domain

import (
	"fmt"
	"math"
)

// Coordinate represents a position in a spatial reference system.
type Coordinate struct {
	X    float64 // Longitude or Easting
	Y    float64 // Latitude or Northing
	SRID int     // Spatial Reference ID
}

// NewCoordinate creates a coordinate with the specified SRID.
func NewCoordinate(x, y float64, srid int) Coordinate {
	return Coordinate{X: x, Y: y, SRID: srid}
}

// String returns a string representation of the coordinate.
func (c Coordinate) String() string {
	return fmt.Sprintf("POINT(%f %f) SRID=%d", c.X, c.Y, c.SRID)
}

// Common SRID constants.
const (
	SRIDUndefined   = 0
	SRIDWGS84       = 4326 // WGS 84
	SRIDWebMercator = 3857 // Web Mercator
)

// Envelope is an axis-aligned bounding box. It is the predicate unit accepted by
// every index backend and by the manual scanner.
type Envelope struct {
	MinX float64
	MaxX float64
	MinY float64
	MaxY float64
	SRID int
}

// NewEnvelope creates an envelope from its bounds.
func NewEnvelope(minX, maxX, minY, maxY float64, srid int) Envelope {
	return Envelope{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY, SRID: srid}
}

// IsValid checks if the envelope has valid dimensions.
func (e Envelope) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Intersects reports whether two envelopes share at least one point.
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && e.MaxX >= o.MinX && e.MinY <= o.MaxY && e.MaxY >= o.MinY
}

// Union returns the smallest envelope covering both e and o. The SRID of e is kept.
func (e Envelope) Union(o Envelope) Envelope {
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxY: math.Max(e.MaxY, o.MaxY),
		SRID: e.SRID,
	}
}

// Corners returns the four corners counter-clockwise from (MinX, MinY).
func (e Envelope) Corners() [4]Coordinate {
	return [4]Coordinate{
		{X: e.MinX, Y: e.MinY, SRID: e.SRID},
		{X: e.MaxX, Y: e.MinY, SRID: e.SRID},
		{X: e.MaxX, Y: e.MaxY, SRID: e.SRID},
		{X: e.MinX, Y: e.MaxY, SRID: e.SRID},
	}
}

// EnvelopeFromCoordinates returns the envelope covering all coordinates.
func EnvelopeFromCoordinates(srid int, coords ...Coordinate) Envelope {
	env := Envelope{
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
		SRID: srid,
	}
	for _, c := range coords {
		env.MinX = math.Min(env.MinX, c.X)
		env.MaxX = math.Max(env.MaxX, c.X)
		env.MinY = math.Min(env.MinY, c.Y)
		env.MaxY = math.Max(env.MaxY, c.Y)
	}
	return env
}

// String returns the envelope as "minx,miny,maxx,maxy".
func (e Envelope) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", e.MinX, e.MinY, e.MaxX, e.MaxY)
}
