package domain

import (
	"errors"
	"testing"
)

const utm14WKT = `PROJCS["WGS 84 / UTM zone 14N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",-99],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AUTHORITY["EPSG","32614"]]`

const esriUTMWKT = `PROJCS["NAD_1983_UTM_Zone_14N",GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-99.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

const esriGeographicWKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

const wkt2UTM = `PROJCRS["WGS 84 / UTM zone 14N",BASEGEOGCRS["WGS 84",DATUM["World Geodetic System 1984",ELLIPSOID["WGS 84",6378137,298.257223563]],ID["EPSG",4326]],CONVERSION["UTM zone 14N",METHOD["Transverse Mercator",ID["EPSG",9807]]],ID["EPSG",32614]]`

func TestParseProjection(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantSRID int
		wantName string
	}{
		{"epsg authority", "EPSG:32614", 32614, ""},
		{"lower case authority", "epsg:4326", 4326, "WGS 84"},
		{"double colon", "EPSG::5070", 5070, "NAD83 / Conus Albers"},
		{"urn", "urn:ogc:def:crs:EPSG::3857", 3857, "WGS 84 / Pseudo-Mercator"},
		{"bare code", "4269", 4269, "NAD83"},
		{"wkt1 with authority", utm14WKT, 32614, "WGS 84 / UTM zone 14N"},
		{"esri wkt without authority", esriUTMWKT, 26914, "NAD_1983_UTM_Zone_14N"},
		{"esri geographic", esriGeographicWKT, 4326, "GCS_WGS_1984"},
		{"wkt2 id", wkt2UTM, 32614, "WGS 84 / UTM zone 14N"},
		{"proj string", "+proj=longlat +datum=WGS84 +no_defs", 0, ""},
		{"surrounding whitespace", "  EPSG:26915\n", 26915, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProjection(tt.input)
			if err != nil {
				t.Fatalf("ParseProjection() error = %v", err)
			}
			if p.SRID != tt.wantSRID {
				t.Errorf("SRID = %d, want %d", p.SRID, tt.wantSRID)
			}
			if p.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", p.Name, tt.wantName)
			}
			if p.Definition == "" {
				t.Error("Definition should keep the source identifier")
			}
		})
	}
}

func TestParseProjectionErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"blank", "   \n"},
		{"garbage", "not a projection"},
		{"zero code", "EPSG:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProjection(tt.input)
			if err == nil {
				t.Fatal("ParseProjection() expected error")
			}
			var projErr *ProjectionError
			if !errors.As(err, &projErr) {
				t.Errorf("error = %T, want *ProjectionError", err)
			}
		})
	}
}

func TestProjectionClassification(t *testing.T) {
	tests := []struct {
		name           string
		p              Projection
		wantGeographic bool
		wantMercator   bool
		wantWKT        bool
	}{
		{"wgs84", EPSG(4326), true, false, false},
		{"nad83", EPSG(4269), true, false, false},
		{"web mercator", EPSG(3857), false, true, false},
		{"esri web mercator", EPSG(102100), false, true, false},
		{"utm", EPSG(32614), false, false, false},
		{"geographic wkt without code", Projection{Definition: `GEOGCS["Unknown"]`}, true, false, true},
		{"projected wkt", Projection{SRID: 32614, Definition: utm14WKT}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.IsGeographic(); got != tt.wantGeographic {
				t.Errorf("IsGeographic() = %v, want %v", got, tt.wantGeographic)
			}
			if got := tt.p.IsWebMercator(); got != tt.wantMercator {
				t.Errorf("IsWebMercator() = %v, want %v", got, tt.wantMercator)
			}
			if got := tt.p.IsWKT(); got != tt.wantWKT {
				t.Errorf("IsWKT() = %v, want %v", got, tt.wantWKT)
			}
		})
	}
}

func TestCodeFromName(t *testing.T) {
	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{"WGS_1984_UTM_Zone_14N", 32614, true},
		{"WGS_1984_UTM_Zone_19S", 32719, true},
		{"NAD_1983_UTM_Zone_15N", 26915, true},
		{"NAD83 / UTM zone 14N", 26914, true},
		{"ETRS_1989_UTM_Zone_32N", 25832, true},
		{"ETRS_1989_UTM_Zone_12N", 0, false},
		{"NAD_1983_StatePlane_Texas_Central_FIPS_4203_Feet", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := codeFromName(tt.name)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("codeFromName(%q) = (%d, %v), want (%d, %v)", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestProjectionString(t *testing.T) {
	if got := EPSG(32614).String(); got != "EPSG:32614" {
		t.Errorf("String() = %q, want EPSG:32614", got)
	}
	p := Projection{Definition: "+proj=longlat"}
	if got := p.String(); got != "+proj=longlat" {
		t.Errorf("String() = %q, want definition", got)
	}
	if !(Projection{}).IsZero() {
		t.Error("zero Projection should report IsZero")
	}
}
