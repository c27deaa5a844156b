package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Feature represents a row of a feature table.
type Feature struct {
	ID         int64                  // Primary key value
	Table      string                 // Feature table name
	Geometry   *Geometry              // Geometry, nil when the row has none
	Properties map[string]interface{} // Attribute data
}

// HasGeometry reports whether the feature carries a non-empty geometry.
func (f *Feature) HasGeometry() bool {
	return f.Geometry != nil && !f.Geometry.Empty
}

// Envelope returns the envelope of the feature geometry.
func (f *Feature) Envelope() (Envelope, bool) {
	if !f.HasGeometry() {
		return Envelope{}, false
	}
	return f.Geometry.Envelope, true
}

// Geometry is the decoded header of a stored geometry. Only the envelope is
// needed for indexing; the encoded bytes are kept for callers that want more.
type Geometry struct {
	Type     string   // WKB type name (Point, Polygon, ...)
	SRID     int      // Spatial Reference ID from the geometry header
	Empty    bool     // Empty geometry flag
	Envelope Envelope // Bounding box in the geometry SRID
	Data     []byte   // Encoded geometry as stored in the table
}

// Where is a compiled attribute predicate in SQL form. Clause uses "?"
// placeholders bound to Args in order.
type Where struct {
	Clause string
	Args   []interface{}
}

// IsEmpty reports whether the predicate has no clause.
func (w *Where) IsEmpty() bool {
	return w == nil || strings.TrimSpace(w.Clause) == ""
}

// NewWhere creates a predicate.
func NewWhere(clause string, args ...interface{}) *Where {
	return &Where{Clause: clause, Args: args}
}

// WhereFromFields compiles a field equality map into an AND predicate. Field
// names are quoted; nil values compile to IS NULL. Keys are sorted so the
// output is deterministic.
func WhereFromFields(fields map[string]interface{}) *Where {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names))
	for _, name := range names {
		col := QuoteIdent(name)
		if v := fields[name]; v == nil {
			parts = append(parts, col+" IS NULL")
		} else {
			parts = append(parts, col+" = ?")
			args = append(args, v)
		}
	}
	return &Where{Clause: strings.Join(parts, " AND "), Args: args}
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
}
