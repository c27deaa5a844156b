package geopackage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/gpkgindex/internal/domain"
)

// GeoPackage binary header layout.
const (
	headerMagic   = "GP"
	headerSize    = 8
	flagLittle    = 0x01
	flagEmpty     = 0x10
	flagEnvShift  = 1
	flagEnvMask   = 0x0e
	envelopeXY    = 1
	envelopeXYZ   = 2
	envelopeXYM   = 3
	envelopeXYZM  = 4
	envelopeBytes = 8
)

// envelopeLength returns the number of envelope doubles for an indicator.
func envelopeLength(indicator int) (int, error) {
	switch indicator {
	case 0:
		return 0, nil
	case envelopeXY:
		return 4, nil
	case envelopeXYZ, envelopeXYM:
		return 6, nil
	case envelopeXYZM:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: envelope indicator %d", domain.ErrInvalidGeometry, indicator)
	}
}

// DecodeGeometry decodes a GeoPackage geometry blob. The envelope comes from
// the header when present and is computed from the WKB body otherwise.
func DecodeGeometry(data []byte) (*domain.Geometry, error) {
	if len(data) < headerSize || string(data[:2]) != headerMagic {
		return nil, fmt.Errorf("%w: missing GeoPackage header", domain.ErrInvalidGeometry)
	}

	flags := data[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittle != 0 {
		order = binary.LittleEndian
	}

	n, err := envelopeLength(int(flags&flagEnvMask) >> flagEnvShift)
	if err != nil {
		return nil, err
	}
	bodyStart := headerSize + n*envelopeBytes
	if len(data) < bodyStart {
		return nil, fmt.Errorf("%w: truncated envelope", domain.ErrInvalidGeometry)
	}

	srid := int(int32(order.Uint32(data[4:8])))
	geom := &domain.Geometry{
		SRID:  srid,
		Empty: flags&flagEmpty != 0,
		Data:  data,
	}

	if n > 0 {
		v := make([]float64, 4)
		for i := range v {
			off := headerSize + i*envelopeBytes
			v[i] = math.Float64frombits(order.Uint64(data[off : off+envelopeBytes]))
		}
		geom.Envelope = domain.NewEnvelope(v[0], v[1], v[2], v[3], srid)
	}

	body := data[bodyStart:]
	if len(body) == 0 {
		if !geom.Empty {
			return nil, fmt.Errorf("%w: empty body", domain.ErrInvalidGeometry)
		}
		return geom, nil
	}

	g, err := wkb.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidGeometry, err)
	}
	geom.Type = g.GeoJSONType()

	if n == 0 && !geom.Empty {
		if isEmptyGeometry(g) {
			geom.Empty = true
			return geom, nil
		}
		b := g.Bound()
		geom.Envelope = domain.NewEnvelope(b.Min[0], b.Max[0], b.Min[1], b.Max[1], srid)
	}

	return geom, nil
}

// EncodeGeometry encodes g as a little endian GeoPackage blob with an XY envelope.
func EncodeGeometry(g orb.Geometry, srid int) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encoding wkb: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(headerMagic)
	buf.WriteByte(0)

	if isEmptyGeometry(g) {
		buf.WriteByte(flagLittle | flagEmpty)
		_ = binary.Write(&buf, binary.LittleEndian, int32(srid))
		buf.Write(body)
		return buf.Bytes(), nil
	}

	buf.WriteByte(flagLittle | envelopeXY<<flagEnvShift)
	_ = binary.Write(&buf, binary.LittleEndian, int32(srid))

	b := g.Bound()
	for _, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write(body)

	return buf.Bytes(), nil
}

// isEmptyGeometry reports whether g has no coordinates.
func isEmptyGeometry(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Point:
		return math.IsNaN(v[0]) || math.IsNaN(v[1])
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Ring:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	default:
		return false
	}
}
