package geotiff

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memSection struct {
	*bytes.Reader
}

func (memSection) Close() error { return nil }

// memArchive is an in-memory output.Archive.
type memArchive struct {
	files map[string][]byte
}

func (m *memArchive) Locator() domain.ArchiveLocator {
	return domain.ArchiveLocator{Bucket: "bucket", Key: "rasters.zip"}
}
func (m *memArchive) Entries() []output.ArchiveEntry { return nil }
func (m *memArchive) ModTime() time.Time             { return time.Time{} }
func (m *memArchive) URI(name string) string         { return "mem://rasters.zip/" + name }
func (m *memArchive) VSIPath(name string) string     { return "/vsizip/rasters.zip/" + name }
func (m *memArchive) Close() error                   { return nil }

func (m *memArchive) Open(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memArchive) OpenSection(_ context.Context, name string) (output.EntrySection, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return memSection{bytes.NewReader(data)}, nil
}

type tiffTag struct {
	tag   uint16
	typ   uint16
	count int
	data  []byte
}

// buildTIFF lays out a header, a single IFD and the out-of-line tag data.
func buildTIFF(order binary.ByteOrder, big bool, tags []tiffTag) []byte {
	var buf bytes.Buffer
	if order == binary.ByteOrder(binary.LittleEndian) {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}

	headerSize, countSize, entrySize, inline, nextSize := 8, 2, 12, 4, 4
	if big {
		headerSize, countSize, entrySize, inline, nextSize = 16, 8, 20, 8, 8
		_ = binary.Write(&buf, order, uint16(43))
		_ = binary.Write(&buf, order, uint16(8))
		_ = binary.Write(&buf, order, uint16(0))
		_ = binary.Write(&buf, order, uint64(headerSize))
	} else {
		_ = binary.Write(&buf, order, uint16(42))
		_ = binary.Write(&buf, order, uint32(headerSize))
	}

	dataOffset := headerSize + countSize + len(tags)*entrySize + nextSize
	var data bytes.Buffer

	if big {
		_ = binary.Write(&buf, order, uint64(len(tags)))
	} else {
		_ = binary.Write(&buf, order, uint16(len(tags)))
	}
	for _, t := range tags {
		_ = binary.Write(&buf, order, t.tag)
		_ = binary.Write(&buf, order, t.typ)
		if big {
			_ = binary.Write(&buf, order, uint64(t.count))
		} else {
			_ = binary.Write(&buf, order, uint32(t.count))
		}
		value := make([]byte, inline)
		if len(t.data) <= inline {
			copy(value, t.data)
		} else {
			off := dataOffset + data.Len()
			if big {
				order.PutUint64(value, uint64(off))
			} else {
				order.PutUint32(value, uint32(off))
			}
			data.Write(t.data)
		}
		buf.Write(value)
	}
	buf.Write(make([]byte, nextSize))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func shorts(order binary.ByteOrder, v ...uint16) []byte {
	out := make([]byte, 2*len(v))
	for i, x := range v {
		order.PutUint16(out[2*i:], x)
	}
	return out
}

func doubles(order binary.ByteOrder, v ...float64) []byte {
	out := make([]byte, 8*len(v))
	for i, x := range v {
		order.PutUint64(out[8*i:], math.Float64bits(x))
	}
	return out
}

func sizeTags(order binary.ByteOrder, w, h uint16) []tiffTag {
	return []tiffTag{
		{tagImageWidth, typeShort, 1, shorts(order, w)},
		{tagImageLength, typeShort, 1, shorts(order, h)},
	}
}

func geoKeyTag(order binary.ByteOrder, keys ...uint16) tiffTag {
	dir := append([]uint16{1, 1, 0, uint16(len(keys) / 4)}, keys...)
	return tiffTag{tagGeoKeyDirectory, typeShort, len(dir), shorts(order, dir...)}
}

func scaleTiepoint(order binary.ByteOrder) []tiffTag {
	return []tiffTag{
		{tagModelPixelScale, typeDouble, 3, doubles(order, 100, 100, 0)},
		{tagModelTiepoint, typeDouble, 6, doubles(order, 0, 0, 0, 100000, 210000, 0)},
	}
}

// utmRaster is a 100x100 raster of 100 m pixels in EPSG:32614.
func utmRaster(order binary.ByteOrder, big bool, rasterType uint16) []byte {
	tags := sizeTags(order, 100, 100)
	tags = append(tags, scaleTiepoint(order)...)
	tags = append(tags, geoKeyTag(order,
		keyModelType, 0, 1, modelTypeProjected,
		keyRasterType, 0, 1, rasterType,
		keyProjectedType, 0, 1, 32614,
	))
	return buildTIFF(order, big, tags)
}

func rasterRef(sidecars ...string) domain.AssetRef {
	return domain.AssetRef{Kind: domain.AssetKindRaster, Name: "elevation.tif", Sidecars: sidecars}
}

func TestExtract(t *testing.T) {
	le, be := binary.ByteOrder(binary.LittleEndian), binary.ByteOrder(binary.BigEndian)
	utmBox := domain.NewBBox(100000, 200000, 110000, 210000)

	matrix := append(sizeTags(le, 100, 100),
		tiffTag{tagModelTransformation, typeDouble, 16, doubles(le,
			100, 0, 0, 100000,
			0, -100, 0, 210000,
			0, 0, 0, 0,
			0, 0, 0, 1)},
		geoKeyTag(le, keyModelType, 0, 1, modelTypeProjected, keyProjectedType, 0, 1, 32614),
	)

	geographic := append(sizeTags(le, 360, 180),
		tiffTag{tagModelPixelScale, typeDouble, 3, doubles(le, 1, 1, 0)},
		tiffTag{tagModelTiepoint, typeDouble, 6, doubles(le, 0, 0, 0, -180, 90, 0)},
		geoKeyTag(le,
			keyModelType, 0, 1, modelTypeGeographic,
			keyGeographicType, 0, 1, 4326,
			keyGeogCitation, tagGeoASCIIParams, 7, 0,
		),
		tiffTag{tagGeoASCIIParams, typeASCII, 8, []byte("WGS 84|\x00")},
	)

	worldFile := append(sizeTags(le, 100, 100),
		geoKeyTag(le, keyModelType, 0, 1, modelTypeProjected, keyProjectedType, 0, 1, 32614),
	)

	tests := []struct {
		name     string
		files    map[string][]byte
		ref      domain.AssetRef
		wantBox  domain.BBox
		wantSRID int
		wantRes  [2]float64
	}{
		{
			name:     "classic little endian",
			files:    map[string][]byte{"elevation.tif": utmRaster(le, false, 1)},
			ref:      rasterRef(),
			wantBox:  utmBox,
			wantSRID: 32614,
			wantRes:  [2]float64{100, 100},
		},
		{
			name:     "bigtiff big endian",
			files:    map[string][]byte{"elevation.tif": utmRaster(be, true, 1)},
			ref:      rasterRef(),
			wantBox:  utmBox,
			wantSRID: 32614,
			wantRes:  [2]float64{100, 100},
		},
		{
			name:     "pixel is point",
			files:    map[string][]byte{"elevation.tif": utmRaster(le, false, rasterPixelIsPoint)},
			ref:      rasterRef(),
			wantBox:  domain.NewBBox(99950, 200050, 109950, 210050),
			wantSRID: 32614,
			wantRes:  [2]float64{100, 100},
		},
		{
			name:     "transformation matrix",
			files:    map[string][]byte{"elevation.tif": buildTIFF(le, false, matrix)},
			ref:      rasterRef(),
			wantBox:  utmBox,
			wantSRID: 32614,
			wantRes:  [2]float64{100, 100},
		},
		{
			name:     "geographic",
			files:    map[string][]byte{"elevation.tif": buildTIFF(le, false, geographic)},
			ref:      rasterRef(),
			wantBox:  domain.NewBBox(-180, -90, 180, 90),
			wantSRID: 4326,
			wantRes:  [2]float64{1, 1},
		},
		{
			name: "world file",
			files: map[string][]byte{
				"elevation.tif": buildTIFF(le, false, worldFile),
				"elevation.tfw": []byte("100\n0\n0\n-100\n100050\n209950\n"),
			},
			ref:      rasterRef("elevation.tfw"),
			wantBox:  utmBox,
			wantSRID: 32614,
			wantRes:  [2]float64{100, 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(testLogger())
			meta, err := e.Extract(context.Background(), &memArchive{files: tt.files}, tt.ref)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			for i := range tt.wantBox {
				if math.Abs(meta.BBox[i]-tt.wantBox[i]) > 1e-9 {
					t.Fatalf("BBox = %v, want %v", meta.BBox, tt.wantBox)
				}
			}
			if meta.Projection.SRID != tt.wantSRID {
				t.Errorf("Projection.SRID = %d, want %d", meta.Projection.SRID, tt.wantSRID)
			}
			if meta.Projection.String() != domain.EPSG(tt.wantSRID).String() {
				t.Errorf("Projection = %q, want EPSG:%d", meta.Projection.String(), tt.wantSRID)
			}
			if meta.Resolution != tt.wantRes {
				t.Errorf("Resolution = %v, want %v", meta.Resolution, tt.wantRes)
			}
			if meta.Kind != domain.AssetKindRaster || meta.Name != "elevation.tif" {
				t.Errorf("Kind/Name = %v/%q", meta.Kind, meta.Name)
			}
		})
	}
}

func TestExtractFailures(t *testing.T) {
	le := binary.ByteOrder(binary.LittleEndian)

	noGeoKeys := append(sizeTags(le, 10, 10), scaleTiepoint(le)...)
	noTransform := append(sizeTags(le, 10, 10),
		geoKeyTag(le, keyModelType, 0, 1, modelTypeProjected, keyProjectedType, 0, 1, 32614))
	userDefinedCRS := append(append(sizeTags(le, 10, 10), scaleTiepoint(le)...),
		geoKeyTag(le, keyModelType, 0, 1, modelTypeProjected, keyProjectedType, 0, 1, userDefined))
	noSize := append(scaleTiepoint(le),
		geoKeyTag(le, keyModelType, 0, 1, modelTypeProjected, keyProjectedType, 0, 1, 32614))

	tests := []struct {
		name  string
		data  []byte
		check func(t *testing.T, err error)
	}{
		{
			name: "no geokeys",
			data: buildTIFF(le, false, noGeoKeys),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrNoMetadata) {
					t.Errorf("error = %v, want ErrNoMetadata", err)
				}
			},
		},
		{
			name: "no transform",
			data: buildTIFF(le, false, noTransform),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrNoMetadata) {
					t.Errorf("error = %v, want ErrNoMetadata", err)
				}
			},
		},
		{
			name: "user defined crs",
			data: buildTIFF(le, false, userDefinedCRS),
			check: func(t *testing.T, err error) {
				var projErr *domain.ProjectionError
				if !errors.As(err, &projErr) {
					t.Errorf("error = %v, want ProjectionError", err)
				}
			},
		},
		{
			name: "not a tiff",
			data: []byte("PK\x03\x04 definitely not a tiff"),
			check: func(t *testing.T, err error) {
				var extractErr *domain.MetadataExtractionError
				if !errors.As(err, &extractErr) || !errors.Is(err, domain.ErrUnsupportedFormat) {
					t.Errorf("error = %v, want MetadataExtractionError wrapping ErrUnsupportedFormat", err)
				}
			},
		},
		{
			name: "missing image size",
			data: buildTIFF(le, false, noSize),
			check: func(t *testing.T, err error) {
				var extractErr *domain.MetadataExtractionError
				if !errors.As(err, &extractErr) {
					t.Errorf("error = %v, want MetadataExtractionError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := &memArchive{files: map[string][]byte{"elevation.tif": tt.data}}
			_, err := NewExtractor(testLogger()).Extract(context.Background(), archive, rasterRef())
			if err == nil {
				t.Fatal("Extract() expected error")
			}
			tt.check(t, err)
		})
	}
}

const customTMWKT = `PROJCS["Custom_Transverse_Mercator",GEOGCS["GCS_WGS_1984",` +
	`DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],` +
	`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],` +
	`PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],` +
	`PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-98.5],` +
	`PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

func TestExtractUserDefinedCRS(t *testing.T) {
	le := binary.ByteOrder(binary.LittleEndian)

	tests := []struct {
		name     string
		citation string
		key      uint16
	}{
		{"esri pe string in pcs citation", "ESRI PE String = " + customTMWKT, keyPCSCitation},
		{"bare wkt in gt citation", customTMWKT, keyCitation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.citation + "|"
			tags := append(sizeTags(le, 100, 100), scaleTiepoint(le)...)
			tags = append(tags,
				geoKeyTag(le,
					keyModelType, 0, 1, modelTypeProjected,
					tt.key, tagGeoASCIIParams, uint16(len(params)), 0,
					keyProjectedType, 0, 1, userDefined,
				),
				tiffTag{tagGeoASCIIParams, typeASCII, len(params) + 1, append([]byte(params), 0)},
			)
			archive := &memArchive{files: map[string][]byte{"elevation.tif": buildTIFF(le, false, tags)}}

			meta, err := NewExtractor(testLogger()).Extract(context.Background(), archive, rasterRef())
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if !meta.Projection.IsWKT() || meta.Projection.Definition != customTMWKT {
				t.Errorf("Projection.Definition = %q, want the cited WKT", meta.Projection.Definition)
			}
			if meta.Projection.SRID != 0 {
				t.Errorf("Projection.SRID = %d, want 0", meta.Projection.SRID)
			}
			if meta.BBox != domain.NewBBox(100000, 200000, 110000, 210000) {
				t.Errorf("BBox = %v", meta.BBox)
			}
		})
	}
}

func TestCitationWKT(t *testing.T) {
	tests := []struct {
		citation string
		want     string
	}{
		{"ESRI PE String = " + customTMWKT, customTMWKT},
		{"esri pe string=" + customTMWKT, customTMWKT},
		{"  " + customTMWKT + " ", customTMWKT},
		{"NAD83 / Texas Central", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := citationWKT(tt.citation); got != tt.want {
			t.Errorf("citationWKT(%.30q) = %.30q, want %.30q", tt.citation, got, tt.want)
		}
	}
}

func TestReadWorldFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too short", "1\n0\n0\n-1\n"},
		{"not a number", "1\n0\nzero\n-1\n0\n0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := &memArchive{files: map[string][]byte{"a.tfw": []byte(tt.body)}}
			if _, err := readWorldFile(context.Background(), archive, "a.tfw"); err == nil {
				t.Error("readWorldFile() expected error")
			}
		})
	}
}
