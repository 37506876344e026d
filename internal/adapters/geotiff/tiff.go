package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jobrunner/zipcat/internal/domain"
)

// TIFF tags read from IFD0.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
)

// TIFF field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeSByte    = 6
	typeSShort   = 8
	typeSLong    = 9
	typeFloat    = 11
	typeDouble   = 12
	typeLong8    = 16
	typeSLong8   = 17
	typeIFD8     = 18
)

var typeSizes = map[uint16]int64{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, 7: 1, typeSShort: 2, typeSLong: 4, 10: 8,
	typeFloat: 4, typeDouble: 8, 13: 4,
	typeLong8: 8, typeSLong8: 8, typeIFD8: 8,
}

const (
	maxEntries    = 4096
	maxFieldBytes = 16 << 20
)

var errNotTIFF = fmt.Errorf("not a TIFF file: %w", domain.ErrUnsupportedFormat)

// field is a decoded IFD entry whose values have been loaded.
type field struct {
	typ   uint16
	count int64
	raw   []byte
}

// ifd holds the tags of the first image file directory.
type ifd struct {
	order  binary.ByteOrder
	fields map[uint16]field
}

// readIFD0 parses the header and first directory of a classic or BigTIFF
// file. Only the tags the extractor needs are loaded.
func readIFD0(r io.ReaderAt, size int64) (*ifd, error) {
	head := make([]byte, 16)
	if _, err := r.ReadAt(head[:8], 0); err != nil {
		return nil, errNotTIFF
	}

	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}

	var (
		big       bool
		ifdOffset int64
	)
	switch order.Uint16(head[2:4]) {
	case 42:
		ifdOffset = int64(order.Uint32(head[4:8]))
	case 43:
		big = true
		if _, err := r.ReadAt(head[8:16], 8); err != nil {
			return nil, errNotTIFF
		}
		if order.Uint16(head[4:6]) != 8 {
			return nil, fmt.Errorf("bigtiff offset size %d: %w", order.Uint16(head[4:6]), domain.ErrUnsupportedFormat)
		}
		ifdOffset = int64(order.Uint64(head[8:16]))
	default:
		return nil, errNotTIFF
	}
	if ifdOffset <= 0 || ifdOffset >= size {
		return nil, fmt.Errorf("IFD offset %d outside file of %d bytes", ifdOffset, size)
	}

	countSize, entrySize, inline := int64(2), int64(12), int64(4)
	if big {
		countSize, entrySize, inline = 8, 20, 8
	}

	buf := make([]byte, countSize)
	if _, err := r.ReadAt(buf, ifdOffset); err != nil {
		return nil, fmt.Errorf("reading IFD entry count: %w", err)
	}
	var n int64
	if big {
		n = int64(order.Uint64(buf))
	} else {
		n = int64(order.Uint16(buf))
	}
	if n <= 0 || n > maxEntries {
		return nil, fmt.Errorf("IFD has %d entries: %w", n, domain.ErrUnsupportedFormat)
	}

	entries := make([]byte, n*entrySize)
	if _, err := r.ReadAt(entries, ifdOffset+countSize); err != nil {
		return nil, fmt.Errorf("reading IFD entries: %w", err)
	}

	d := &ifd{order: order, fields: make(map[uint16]field)}
	for i := int64(0); i < n; i++ {
		e := entries[i*entrySize : (i+1)*entrySize]
		tag := order.Uint16(e[0:2])
		if !wanted(tag) {
			continue
		}
		typ := order.Uint16(e[2:4])
		var count int64
		var value []byte
		if big {
			count = int64(order.Uint64(e[4:12]))
			value = e[12:20]
		} else {
			count = int64(order.Uint32(e[4:8]))
			value = e[8:12]
		}

		elem, ok := typeSizes[typ]
		if !ok {
			return nil, fmt.Errorf("tag %d has unknown type %d: %w", tag, typ, domain.ErrUnsupportedFormat)
		}
		if count < 0 || count > maxFieldBytes {
			return nil, fmt.Errorf("tag %d declares %d values: %w", tag, count, domain.ErrUnsupportedFormat)
		}
		total := elem * count
		if total > maxFieldBytes {
			return nil, fmt.Errorf("tag %d declares %d values: %w", tag, count, domain.ErrUnsupportedFormat)
		}

		raw := make([]byte, total)
		if total <= inline {
			copy(raw, value)
		} else {
			var off int64
			if big {
				off = int64(order.Uint64(value))
			} else {
				off = int64(order.Uint32(value))
			}
			if off < 0 || off+total > size {
				return nil, fmt.Errorf("tag %d data outside file", tag)
			}
			if _, err := r.ReadAt(raw, off); err != nil {
				return nil, fmt.Errorf("reading tag %d: %w", tag, err)
			}
		}
		d.fields[tag] = field{typ: typ, count: count, raw: raw}
	}
	return d, nil
}

func wanted(tag uint16) bool {
	switch tag {
	case tagImageWidth, tagImageLength, tagModelPixelScale, tagModelTiepoint,
		tagModelTransformation, tagGeoKeyDirectory, tagGeoDoubleParams, tagGeoASCIIParams:
		return true
	}
	return false
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

// uints decodes an integer-typed field.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case typeByte:
			out[i] = uint64(f.raw[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(f.raw[i*2:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(f.raw[i*4:]))
		case typeLong8:
			out[i] = d.order.Uint64(f.raw[i*8:])
		default:
			return nil, fmt.Errorf("tag %d has non-integer type %d", tag, f.typ)
		}
	}
	return out, nil
}

func (d *ifd) integer(tag uint16) (uint64, error) {
	v, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("tag %d is empty", tag)
	}
	return v[0], nil
}

// floats decodes a floating point field.
func (d *ifd) floats(tag uint16) ([]float64, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case typeDouble:
			out[i] = math.Float64frombits(d.order.Uint64(f.raw[i*8:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(f.raw[i*4:])))
		default:
			return nil, fmt.Errorf("tag %d has non-float type %d", tag, f.typ)
		}
	}
	return out, nil
}

func (d *ifd) ascii(tag uint16) string {
	f, ok := d.fields[tag]
	if !ok || f.typ != typeASCII {
		return ""
	}
	return string(f.raw)
}

// GeoKey identifiers.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyCitation       = 1026
	keyGeographicType = 2048
	keyGeogCitation   = 2049
	keyProjectedType  = 3072
	keyPCSCitation    = 3073

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
	userDefined         = 32767
)

// geoKeys is the decoded GeoKeyDirectory.
type geoKeys struct {
	shorts map[uint16]uint16
	ascii  map[uint16]string
}

var errNoGeoKeys = errors.New("no GeoKeyDirectory")

func (d *ifd) geoKeys() (geoKeys, error) {
	keys := geoKeys{shorts: make(map[uint16]uint16), ascii: make(map[uint16]string)}
	if !d.has(tagGeoKeyDirectory) {
		return keys, errNoGeoKeys
	}
	dir, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return keys, err
	}
	if len(dir) < 4 {
		return keys, fmt.Errorf("GeoKeyDirectory has %d values: %w", len(dir), domain.ErrUnsupportedFormat)
	}
	n := int(dir[3])
	if len(dir) < 4+4*n {
		return keys, fmt.Errorf("GeoKeyDirectory declares %d keys but holds %d values: %w", n, len(dir), domain.ErrUnsupportedFormat)
	}
	params := d.ascii(tagGeoASCIIParams)

	for i := 0; i < n; i++ {
		k := dir[4+4*i : 8+4*i]
		id, loc, count, value := uint16(k[0]), k[1], int(k[2]), int(k[3])
		switch loc {
		case 0:
			keys.shorts[id] = uint16(value)
		case tagGeoASCIIParams:
			if value >= 0 && value+count <= len(params) {
				s := params[value : value+count]
				for len(s) > 0 && (s[len(s)-1] == '|' || s[len(s)-1] == 0) {
					s = s[:len(s)-1]
				}
				keys.ascii[id] = s
			}
		}
	}
	return keys, nil
}

// projection resolves the EPSG code of the raster's coordinate system.
func (k geoKeys) projection() (domain.Projection, error) {
	var code uint16
	var citation string
	switch k.shorts[keyModelType] {
	case modelTypeGeographic:
		code, citation = k.shorts[keyGeographicType], k.ascii[keyGeogCitation]
	case modelTypeProjected:
		code, citation = k.shorts[keyProjectedType], k.ascii[keyPCSCitation]
	default:
		if c, ok := k.shorts[keyProjectedType]; ok {
			code, citation = c, k.ascii[keyPCSCitation]
		} else {
			code, citation = k.shorts[keyGeographicType], k.ascii[keyGeogCitation]
		}
	}
	if citation == "" {
		citation = k.ascii[keyCitation]
	}

	switch code {
	case 0:
		return domain.Projection{}, &domain.ProjectionError{Identifier: citation, Reason: "GeoKeyDirectory names no coordinate system"}
	case userDefined:
		for _, c := range []string{citation, k.ascii[keyCitation]} {
			if wkt := citationWKT(c); wkt != "" {
				return domain.ParseProjection(wkt)
			}
		}
		return domain.Projection{}, &domain.ProjectionError{
			Identifier: citation,
			Reason:     "user-defined coordinate system without a WKT citation",
			Err:        domain.ErrUnsupportedProjection,
		}
	}
	p := domain.EPSG(int(code))
	if p.Name == "" {
		p.Name = citation
	}
	return p, nil
}

// citationWKT returns the WKT carried by a citation key. ESRI software and
// GDAL store user-defined systems as "ESRI PE String = <WKT>".
func citationWKT(citation string) string {
	s := strings.TrimSpace(citation)
	if i := strings.Index(s, "="); i >= 0 && strings.EqualFold(strings.TrimSpace(s[:i]), "ESRI PE String") {
		s = strings.TrimSpace(s[i+1:])
	}
	if p := (domain.Projection{Definition: s}); p.IsWKT() {
		return s
	}
	return ""
}

func (k geoKeys) pixelIsPoint() bool {
	return k.shorts[keyRasterType] == rasterPixelIsPoint
}
