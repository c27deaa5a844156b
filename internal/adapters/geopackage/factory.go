package geopackage

import (
	"database/sql"
	"fmt"

	"github.com/jobrunner/gpkgindex/internal/adapters/sidestore"
	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// IndexFactory creates the index backends of one feature table. All backends
// share the table's feature store and the package connection.
type IndexFactory struct {
	db           *sql.DB
	dao          *FeatureDAO
	packageID    string
	sideStoreDir string
}

// NewIndexFactory creates a factory for the table behind dao.
func NewIndexFactory(db *sql.DB, dao *FeatureDAO, packageID, sideStoreDir string) *IndexFactory {
	return &IndexFactory{
		db:           db,
		dao:          dao,
		packageID:    packageID,
		sideStoreDir: sideStoreDir,
	}
}

// NewIndex implements output.IndexFactory.
func (f *IndexFactory) NewIndex(kind domain.IndexKind) (output.IndexBackend, error) {
	switch kind {
	case domain.IndexNativeExtension:
		return NewRTreeIndex(f.db, f.dao), nil
	case domain.IndexExtensionTable:
		return NewTableIndex(f.db, f.dao), nil
	case domain.IndexSideStore:
		return sidestore.NewBackend(sidestore.NewStore(f.sideStoreDir, f.packageID), f.dao), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedIndexKind, kind)
	}
}

// NewFallback implements output.IndexFactory.
func (f *IndexFactory) NewFallback() (output.FallbackScanner, error) {
	return NewManualScanner(f.dao), nil
}
