// Package projection provides coordinate transformers that need no database.
package projection

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// srid 900913 is the legacy code of Web Mercator.
const sridGoogleMercator = 900913

// Mercator transforms between WGS84 and Web Mercator.
type Mercator struct{}

// NewMercator creates a WGS84 / Web Mercator transformer.
func NewMercator() *Mercator {
	return &Mercator{}
}

// Transform implements output.CoordinateTransformer.
func (m *Mercator) Transform(_ context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	src, dst := normalize(coord.SRID), normalize(targetSRID)
	if src == dst {
		return domain.NewCoordinate(coord.X, coord.Y, targetSRID), nil
	}

	var proj orb.Projection
	switch {
	case src == domain.SRIDWGS84 && dst == domain.SRIDWebMercator:
		proj = project.WGS84.ToMercator
	case src == domain.SRIDWebMercator && dst == domain.SRIDWGS84:
		proj = project.Mercator.ToWGS84
	default:
		return domain.Coordinate{}, fmt.Errorf("%w: EPSG:%d to EPSG:%d", domain.ErrUnsupportedProjection, coord.SRID, targetSRID)
	}

	p := proj(orb.Point{coord.X, coord.Y})
	return domain.NewCoordinate(p[0], p[1], targetSRID), nil
}

// IsSupported implements output.CoordinateTransformer.
func (m *Mercator) IsSupported(sourceSRID, targetSRID int) bool {
	src, dst := normalize(sourceSRID), normalize(targetSRID)
	if src == dst {
		return true
	}
	known := func(srid int) bool {
		return srid == domain.SRIDWGS84 || srid == domain.SRIDWebMercator
	}
	return known(src) && known(dst)
}

func normalize(srid int) int {
	if srid == sridGoogleMercator {
		return domain.SRIDWebMercator
	}
	return srid
}

// Chain tries transformers in order and uses the first that supports a pair.
type Chain struct {
	transformers []output.CoordinateTransformer
}

// NewChain creates a chain of transformers. Nil entries are skipped.
func NewChain(transformers ...output.CoordinateTransformer) *Chain {
	c := &Chain{}
	for _, t := range transformers {
		if t != nil {
			c.transformers = append(c.transformers, t)
		}
	}
	return c
}

// Transform implements output.CoordinateTransformer.
func (c *Chain) Transform(ctx context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	if coord.SRID == targetSRID {
		return coord, nil
	}
	for _, t := range c.transformers {
		if t.IsSupported(coord.SRID, targetSRID) {
			return t.Transform(ctx, coord, targetSRID)
		}
	}
	return domain.Coordinate{}, fmt.Errorf("%w: EPSG:%d to EPSG:%d", domain.ErrUnsupportedProjection, coord.SRID, targetSRID)
}

// IsSupported implements output.CoordinateTransformer.
func (c *Chain) IsSupported(sourceSRID, targetSRID int) bool {
	if sourceSRID == targetSRID {
		return true
	}
	for _, t := range c.transformers {
		if t.IsSupported(sourceSRID, targetSRID) {
			return true
		}
	}
	return false
}
