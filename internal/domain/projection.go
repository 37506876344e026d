package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// Projection identifies a coordinate reference system. Definition keeps the
// identifier exactly as found in the source (authority string, WKT or PROJ
// string); SRID is the EPSG code when one could be recovered from it.
type Projection struct {
	SRID       int    // EPSG Code, 0 when unknown
	Name       string // Human-readable name
	Definition string // Source identifier
}

// Common SRID constants.
const (
	SRIDWGS84           = 4326  // WGS 84
	SRIDNAD83           = 4269  // NAD83
	SRIDETRS89          = 4258  // ETRS89
	SRIDWebMercator     = 3857  // Web Mercator
	SRIDConusAlbers     = 5070  // NAD83 / Conus Albers
	SRIDWGS84UTMNorth   = 32600 // WGS 84 / UTM zone N, plus zone number
	SRIDWGS84UTMSouth   = 32700 // WGS 84 / UTM zone S, plus zone number
	SRIDNAD83UTMNorth   = 26900 // NAD83 / UTM zone N, plus zone number
	SRIDETRS89UTMNorth  = 25800 // ETRS89 / UTM zone N, plus zone number
	sridLegacyMercator  = 900913
	sridEsriWebMercator = 102100
)

// CommonProjections contains frequently used projections.
var CommonProjections = map[int]Projection{
	SRIDWGS84:       {SRID: SRIDWGS84, Name: "WGS 84"},
	SRIDNAD83:       {SRID: SRIDNAD83, Name: "NAD83"},
	SRIDETRS89:      {SRID: SRIDETRS89, Name: "ETRS89"},
	SRIDWebMercator: {SRID: SRIDWebMercator, Name: "WGS 84 / Pseudo-Mercator"},
	SRIDConusAlbers: {SRID: SRIDConusAlbers, Name: "NAD83 / Conus Albers"},
}

// WGS84 returns the common reference frame.
func WGS84() Projection {
	return Projection{SRID: SRIDWGS84, Name: "WGS 84", Definition: "EPSG:4326"}
}

// EPSG returns a projection for the given EPSG code.
func EPSG(code int) Projection {
	p := Projection{SRID: code, Definition: "EPSG:" + strconv.Itoa(code)}
	if known, ok := CommonProjections[code]; ok {
		p.Name = known.Name
	}
	return p
}

// IsZero reports whether the projection is unset.
func (p Projection) IsZero() bool {
	return p.SRID == 0 && strings.TrimSpace(p.Definition) == ""
}

// IsWKT reports whether the definition is a well-known-text string.
func (p Projection) IsWKT() bool {
	return isWKT(p.Definition)
}

// IsGeographic reports whether the projection is a longitude/latitude frame.
func (p Projection) IsGeographic() bool {
	switch p.SRID {
	case SRIDWGS84, SRIDNAD83, SRIDETRS89, 4283, 4167, 4617:
		return true
	case 0:
		head := strings.ToUpper(strings.TrimSpace(p.Definition))
		return strings.HasPrefix(head, "GEOGCS[") || strings.HasPrefix(head, "GEOGCRS[")
	}
	return false
}

// IsWebMercator reports whether the projection is spherical Web Mercator.
func (p Projection) IsWebMercator() bool {
	switch p.SRID {
	case SRIDWebMercator, 3785, sridLegacyMercator, sridEsriWebMercator:
		return true
	}
	return false
}

// Authority returns "EPSG:<code>" or an empty string when no code is known.
func (p Projection) Authority() string {
	if p.SRID == 0 {
		return ""
	}
	return "EPSG:" + strconv.Itoa(p.SRID)
}

// String returns the authority string when available, otherwise the definition.
func (p Projection) String() string {
	if a := p.Authority(); a != "" {
		return a
	}
	return p.Definition
}

var (
	authorityCodeRe = regexp.MustCompile(`(?i)^(?:EPSG|ESRI)::?(\d+)$`)
	urnCodeRe       = regexp.MustCompile(`(?i)^urn:ogc:def:crs:(?:EPSG|ESRI):[^:]*:(\d+)$`)
	wktUTMZoneRe    = regexp.MustCompile(`(?i)^(WGS[_ ]?(?:19)?84|NAD[_ ]?(?:19)?83|ETRS[_ ]?(?:19)?89)[_ /]+UTM[_ ]zone[_ ](\d{1,2})([NS])$`)
	wktQuotedNameRe = regexp.MustCompile(`^\s*[A-Za-z]+\[\s*"([^"]*)"`)
)

// ParseProjection parses a projection identifier: an authority string
// ("EPSG:32614", "urn:ogc:def:crs:EPSG::4326", "4326"), WKT1 or WKT2 text,
// or a PROJ string. WKT without a recoverable EPSG code is accepted with
// SRID 0 and left for definition-aware transformers.
func ParseProjection(identifier string) (Projection, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return Projection{}, &ProjectionError{Reason: "empty projection identifier"}
	}

	if m := authorityCodeRe.FindStringSubmatch(id); m != nil {
		return codeProjection(id, m[1])
	}
	if m := urnCodeRe.FindStringSubmatch(id); m != nil {
		return codeProjection(id, m[1])
	}
	if _, err := strconv.Atoi(id); err == nil {
		return codeProjection(id, id)
	}

	if isWKT(id) {
		p := Projection{Definition: id, Name: wktName(id)}
		if code, ok := wktAuthorityCode(id); ok {
			p.SRID = code
		} else if code, ok := codeFromName(p.Name); ok {
			p.SRID = code
		}
		return p, nil
	}

	if strings.HasPrefix(id, "+proj=") {
		return Projection{Definition: id}, nil
	}

	return Projection{}, &ProjectionError{Identifier: id, Reason: "unrecognized projection identifier"}
}

func codeProjection(id, digits string) (Projection, error) {
	code, err := strconv.Atoi(digits)
	if err != nil || code <= 0 {
		return Projection{}, &ProjectionError{Identifier: id, Reason: "invalid authority code"}
	}
	p := EPSG(code)
	p.Definition = id
	return p, nil
}

var wktKeywords = []string{
	"PROJCS[", "GEOGCS[", "GEOCCS[", "COMPD_CS[", "LOCAL_CS[",
	"PROJCRS[", "GEOGCRS[", "GEODCRS[", "COMPOUNDCRS[", "PROJECTEDCRS[", "BOUNDCRS[",
}

func isWKT(s string) bool {
	head := strings.ToUpper(strings.TrimSpace(s))
	for _, kw := range wktKeywords {
		if strings.HasPrefix(head, kw) {
			return true
		}
	}
	return false
}

func wktName(wkt string) string {
	if m := wktQuotedNameRe.FindStringSubmatch(wkt); m != nil {
		return m[1]
	}
	return ""
}

// wktAuthorityCode finds the EPSG code attached to the outermost CRS node:
// AUTHORITY["EPSG","32614"] in WKT1 or ID["EPSG",32614] in WKT2, at
// bracket depth one.
func wktAuthorityCode(wkt string) (int, bool) {
	depth := 0
	inQuote := false
	for i := 0; i < len(wkt); i++ {
		c := wkt[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case depth == 1 && isKeywordStart(wkt, i):
			rest := strings.ToUpper(wkt[i:])
			var kwLen int
			switch {
			case strings.HasPrefix(rest, "AUTHORITY["):
				kwLen = len("AUTHORITY[")
			case strings.HasPrefix(rest, "ID["):
				kwLen = len("ID[")
			default:
				continue
			}
			end := strings.IndexByte(wkt[i+kwLen:], ']')
			if end < 0 {
				return 0, false
			}
			if code, ok := parseAuthorityArgs(wkt[i+kwLen : i+kwLen+end]); ok {
				return code, true
			}
		}
	}
	return 0, false
}

func isKeywordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	prev := s[i-1]
	return prev == ',' || prev == ' ' || prev == '\n' || prev == '\t' || prev == '['
}

func parseAuthorityArgs(args string) (int, bool) {
	parts := strings.Split(args, ",")
	if len(parts) < 2 {
		return 0, false
	}
	authority := strings.ToUpper(strings.Trim(strings.TrimSpace(parts[0]), `"`))
	if authority != "EPSG" {
		return 0, false
	}
	code, err := strconv.Atoi(strings.Trim(strings.TrimSpace(parts[1]), `"`))
	if err != nil || code <= 0 {
		return 0, false
	}
	return code, true
}

var namedCodes = map[string]int{
	"WGS 84":                                 4326,
	"WGS84":                                  4326,
	"GCS_WGS_1984":                           4326,
	"NAD83":                                  4269,
	"GCS_NORTH_AMERICAN_1983":                4269,
	"ETRS89":                                 4258,
	"GCS_ETRS_1989":                          4258,
	"WGS 84 / PSEUDO-MERCATOR":               3857,
	"WGS_1984_WEB_MERCATOR_AUXILIARY_SPHERE": 3857,
	"NAD83 / CONUS ALBERS":                   5070,
	"NAD_1983_CONTIGUOUS_USA_ALBERS":         5070,
	"USA_CONTIGUOUS_ALBERS_EQUAL_AREA_CONIC_USGS_VERSION": 5070,
}

// codeFromName recovers EPSG codes from the CRS names ESRI writes into .prj
// files, which carry no AUTHORITY node.
func codeFromName(name string) (int, bool) {
	n := strings.TrimSpace(name)
	if n == "" {
		return 0, false
	}
	if code, ok := namedCodes[strings.ToUpper(n)]; ok {
		return code, true
	}
	m := wktUTMZoneRe.FindStringSubmatch(n)
	if m == nil {
		return 0, false
	}
	zone, err := strconv.Atoi(m[2])
	if err != nil || zone < 1 || zone > 60 {
		return 0, false
	}
	datum := strings.ToUpper(strings.NewReplacer("_", "", " ", "", "19", "").Replace(m[1]))
	south := strings.EqualFold(m[3], "S")
	switch {
	case strings.HasPrefix(datum, "WGS"):
		if south {
			return SRIDWGS84UTMSouth + zone, true
		}
		return SRIDWGS84UTMNorth + zone, true
	case strings.HasPrefix(datum, "NAD") && !south && zone <= 23:
		return SRIDNAD83UTMNorth + zone, true
	case strings.HasPrefix(datum, "ETRS") && !south && zone >= 28 && zone <= 38:
		return SRIDETRS89UTMNorth + zone, true
	}
	return 0, false
}
