package projection

import (
	"context"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/jobrunner/zipcat/internal/domain"
)

func openSpatiaLite(t *testing.T) *SpatiaLite {
	t.Helper()
	sl, err := NewSpatiaLite(context.Background())
	if err != nil {
		t.Skipf("spatialite not available: %v", err)
	}
	t.Cleanup(func() { _ = sl.Close() })
	return sl
}

const nad83UTM14WKT = `PROJCS["NAD_1983_UTM_Zone_14N",GEOGCS["GCS_North_American_1983",` +
	`DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],` +
	`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],` +
	`PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],` +
	`PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-99.0],` +
	`PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

func TestSpatiaLiteTransform(t *testing.T) {
	sl := openSpatiaLite(t)

	tests := []struct {
		name    string
		from    domain.Projection
		in      domain.Coordinate
		wantLon float64
		wantLat float64
		tol     float64
	}{
		{"utm 14N equator", domain.EPSG(32614), domain.Coordinate{X: 500000, Y: 0}, -99, 0, 1e-7},
		{"utm 14N 45N", domain.EPSG(32614), domain.Coordinate{X: 500000, Y: 4982950.400}, -99, 45, 1e-5},
		{"conus albers origin", domain.EPSG(5070), domain.Coordinate{X: 0, Y: 0}, -96, 23, 1e-4},
		{"esri wkt without code", domain.Projection{Definition: nad83UTM14WKT}, domain.Coordinate{X: 500000, Y: 0}, -99, 0, 1e-4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !sl.IsSupported(tt.from, domain.SRIDWGS84) {
				t.Fatalf("IsSupported(%s) = false", tt.from)
			}
			if tt.from.SRID == 0 && spatiaLiteMajor(t, sl) < 5 {
				t.Skip("transforming by definition needs spatialite 5")
			}

			got, err := sl.Transform(context.Background(), []domain.Coordinate{tt.in}, tt.from, domain.SRIDWGS84)
			if err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			if math.Abs(got[0].X-tt.wantLon) > tt.tol || math.Abs(got[0].Y-tt.wantLat) > tt.tol {
				t.Errorf("Transform() = (%v, %v), want (%v, %v)", got[0].X, got[0].Y, tt.wantLon, tt.wantLat)
			}
			if got[0].SRID != domain.SRIDWGS84 {
				t.Errorf("SRID = %d, want 4326", got[0].SRID)
			}
		})
	}
}

func TestSpatiaLiteUnsupported(t *testing.T) {
	sl := openSpatiaLite(t)

	if sl.IsSupported(domain.Projection{}, domain.SRIDWGS84) {
		t.Error("IsSupported(empty) = true")
	}
	if sl.IsSupported(domain.EPSG(32614), 0) {
		t.Error("IsSupported(target 0) = true")
	}
}

func spatiaLiteMajor(t *testing.T, sl *SpatiaLite) int {
	t.Helper()
	var version string
	if err := sl.db.QueryRow("SELECT spatialite_version()").Scan(&version); err != nil {
		t.Fatalf("spatialite_version() error = %v", err)
	}
	major, _ := strconv.Atoi(strings.SplitN(version, ".", 2)[0])
	return major
}
