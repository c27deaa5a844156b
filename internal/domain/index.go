package domain

import (
	"fmt"
	"strings"
	"time"
)

// IndexKind identifies one of the spatial index backends of a feature table.
type IndexKind int

// Index kinds. IndexNone means "no location selected" and is never part of a
// query order.
const (
	IndexNone            IndexKind = iota
	IndexNativeExtension           // GeoPackage R-tree extension, trigger maintained
	IndexExtensionTable            // geometry index extension tables inside the GeoPackage
	IndexSideStore                 // index file kept next to the GeoPackage
)

// DefaultIndexOrder is the query order of a freshly created manager.
var DefaultIndexOrder = []IndexKind{IndexNativeExtension, IndexExtensionTable, IndexSideStore}

// AllIndexKinds lists every real index kind.
var AllIndexKinds = []IndexKind{IndexNativeExtension, IndexExtensionTable, IndexSideStore}

// String returns the configuration name of the kind.
func (k IndexKind) String() string {
	switch k {
	case IndexNone:
		return "none"
	case IndexNativeExtension:
		return "rtree"
	case IndexExtensionTable:
		return "geopackage"
	case IndexSideStore:
		return "metadata"
	default:
		return fmt.Sprintf("IndexKind(%d)", int(k))
	}
}

// Valid reports whether k names a real backend.
func (k IndexKind) Valid() bool {
	return k >= IndexNativeExtension && k <= IndexSideStore
}

// ParseIndexKind parses a kind from its configuration name. A few aliases are
// accepted so that config files can use descriptive names.
func ParseIndexKind(s string) (IndexKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return IndexNone, nil
	case "rtree", "native":
		return IndexNativeExtension, nil
	case "geopackage", "table", "extension":
		return IndexExtensionTable, nil
	case "metadata", "side", "sidestore":
		return IndexSideStore, nil
	default:
		return IndexNone, fmt.Errorf("%w: %q", ErrUnsupportedIndexKind, s)
	}
}

// ParseIndexKinds parses a list of kind names.
func ParseIndexKinds(names []string) ([]IndexKind, error) {
	kinds := make([]IndexKind, 0, len(names))
	for _, name := range names {
		k, err := ParseIndexKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// IndexStatus describes the state of one backend for one feature table.
type IndexStatus struct {
	Kind        IndexKind `json:"-" yaml:"-"`
	Name        string    `json:"kind" yaml:"kind"`
	Indexed     bool      `json:"indexed" yaml:"indexed"`
	LastIndexed time.Time `json:"last_indexed,omitempty" yaml:"last_indexed,omitempty"`
	Count       int64     `json:"count" yaml:"count"`
}

// TableStatus summarises the index state of a feature table.
type TableStatus struct {
	Table       string        `json:"table" yaml:"table"`
	IndexedKind string        `json:"indexed_kind" yaml:"indexed_kind"`
	Indexes     []IndexStatus `json:"indexes" yaml:"indexes"`
}
