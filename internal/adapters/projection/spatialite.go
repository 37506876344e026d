package projection

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/zipcat/internal/domain"
)

const spatiaLiteDriver = "sqlite3_spatialite"

func init() {
	sql.Register(spatiaLiteDriver, &sqlite3.SQLiteDriver{
		Extensions: []string{spatiaLiteLibrary()},
	})
}

// spatiaLiteLibrary picks the SpatiaLite extension to load: the
// SPATIALITE_LIBRARY_PATH environment variable, else the first known
// platform path that exists, else the bare module name.
func spatiaLiteLibrary() string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return envPath
	}

	candidates := []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",

		// macOS Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "mod_spatialite"
}

// SpatiaLite transforms coordinates with ST_Transform in an in-memory
// SpatiaLite database whose spatial_ref_sys holds the full EPSG set.
// Projections without an EPSG code are passed to PROJ by definition.
type SpatiaLite struct {
	db *sql.DB
}

// NewSpatiaLite opens the in-memory database and initializes the spatial
// reference table.
func NewSpatiaLite(ctx context.Context) (*SpatiaLite, error) {
	db, err := sql.Open(spatiaLiteDriver, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening spatialite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading spatialite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaDataFull(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing spatial metadata: %w", err)
	}

	return &SpatiaLite{db: db}, nil
}

// IsSupported reports whether the source has an EPSG code or a definition
// PROJ can parse.
func (s *SpatiaLite) IsSupported(from domain.Projection, targetSRID int) bool {
	return targetSRID > 0 && (from.SRID > 0 || strings.TrimSpace(from.Definition) != "")
}

// Transform transforms coordinates with ST_Transform.
func (s *SpatiaLite) Transform(ctx context.Context, coords []domain.Coordinate, from domain.Projection, targetSRID int) ([]domain.Coordinate, error) {
	var (
		query string
		args  func(c domain.Coordinate) []any
	)
	if from.SRID > 0 {
		query = `SELECT ST_X(t), ST_Y(t) FROM (SELECT ST_Transform(MakePoint(?, ?, ?), ?) AS t)`
		args = func(c domain.Coordinate) []any { return []any{c.X, c.Y, from.SRID, targetSRID} }
	} else {
		target := fmt.Sprintf("EPSG:%d", targetSRID)
		query = `SELECT ST_X(t), ST_Y(t) FROM (SELECT ST_Transform(MakePoint(?, ?, 0), ?, NULL, ?, ?) AS t)`
		args = func(c domain.Coordinate) []any { return []any{c.X, c.Y, targetSRID, from.Definition, target} }
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, &domain.ProjectionError{Identifier: from.String(), Err: err}
	}
	defer func() { _ = stmt.Close() }()

	out := make([]domain.Coordinate, len(coords))
	for i, c := range coords {
		var x, y sql.NullFloat64
		if err := stmt.QueryRowContext(ctx, args(c)...).Scan(&x, &y); err != nil {
			return nil, &domain.ProjectionError{Identifier: from.String(), Reason: "transforming coordinate", Err: err}
		}
		if !x.Valid || !y.Valid {
			return nil, &domain.ProjectionError{
				Identifier: from.String(),
				Reason:     "spatialite could not transform the coordinate",
				Err:        domain.ErrUnsupportedProjection,
			}
		}
		out[i] = domain.NewCoordinate(x.Float64, y.Float64, targetSRID)
	}
	return out, nil
}

// Close closes the database.
func (s *SpatiaLite) Close() error {
	return s.db.Close()
}
