// Package projection provides coordinate transformers to the common
// longitude/latitude reference frame.
package projection

import (
	"context"
	"fmt"
	"math"

	"github.com/jobrunner/zipcat/internal/domain"
)

// Ellipsoid parameters.
type ellipsoid struct {
	a float64 // semi-major axis
	f float64 // flattening
}

func (e ellipsoid) e2() float64 { return e.f * (2 - e.f) }

var (
	wgs84 = ellipsoid{a: 6378137, f: 1 / 298.257223563}
	grs80 = ellipsoid{a: 6378137, f: 1 / 298.257222101}
)

const (
	deg = 180 / math.Pi
	rad = math.Pi / 180

	sphereRadius = 6378137.0
	utmScale     = 0.9996
	utmEasting   = 500000.0
	utmSouthing  = 10000000.0
)

// inverseFunc maps projected x/y to longitude/latitude in degrees.
type inverseFunc func(x, y float64) (lon, lat float64)

// Builtin transforms the projections common in US flood-risk data to
// EPSG:4326 without external libraries: geographic frames, Web Mercator,
// UTM on WGS84/NAD83/ETRS89 and CONUS Albers. The datum shift from NAD83 or
// ETRS89 to WGS84, under two metres, is not applied; the SpatiaLite
// transformer does apply it.
type Builtin struct{}

// NewBuiltin creates the builtin transformer.
func NewBuiltin() *Builtin {
	return &Builtin{}
}

// IsSupported reports whether the builtin formulas cover the projection.
func (b *Builtin) IsSupported(from domain.Projection, targetSRID int) bool {
	if targetSRID != domain.SRIDWGS84 {
		return false
	}
	_, ok := inverseFor(from)
	return ok
}

// Transform transforms coordinates to EPSG:4326.
func (b *Builtin) Transform(ctx context.Context, coords []domain.Coordinate, from domain.Projection, targetSRID int) ([]domain.Coordinate, error) {
	if targetSRID != domain.SRIDWGS84 {
		return nil, &domain.ProjectionError{
			Identifier: fmt.Sprintf("EPSG:%d", targetSRID),
			Reason:     "builtin transformer only targets EPSG:4326",
			Err:        domain.ErrUnsupportedProjection,
		}
	}
	inv, ok := inverseFor(from)
	if !ok {
		return nil, &domain.ProjectionError{Identifier: from.String(), Err: domain.ErrUnsupportedProjection}
	}

	out := make([]domain.Coordinate, len(coords))
	for i, c := range coords {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !c.IsFinite() {
			return nil, &domain.ProjectionError{Identifier: from.String(), Reason: "non-finite input coordinate " + c.String()}
		}
		lon, lat := inv(c.X, c.Y)
		out[i] = domain.NewWGS84Coordinate(lon, lat)
		if !out[i].IsFinite() {
			return nil, &domain.ProjectionError{Identifier: from.String(), Reason: "coordinate outside projection domain " + c.String()}
		}
	}
	return out, nil
}

func inverseFor(p domain.Projection) (inverseFunc, bool) {
	switch {
	case p.IsGeographic():
		return func(x, y float64) (float64, float64) { return x, y }, true
	case p.IsWebMercator():
		return inverseMercator, true
	}

	code := p.SRID
	switch {
	case code > domain.SRIDWGS84UTMNorth && code <= domain.SRIDWGS84UTMNorth+60:
		return inverseUTM(wgs84, code-domain.SRIDWGS84UTMNorth, false), true
	case code > domain.SRIDWGS84UTMSouth && code <= domain.SRIDWGS84UTMSouth+60:
		return inverseUTM(wgs84, code-domain.SRIDWGS84UTMSouth, true), true
	case code > domain.SRIDNAD83UTMNorth && code <= domain.SRIDNAD83UTMNorth+23:
		return inverseUTM(grs80, code-domain.SRIDNAD83UTMNorth, false), true
	case code >= domain.SRIDETRS89UTMNorth+28 && code <= domain.SRIDETRS89UTMNorth+38:
		return inverseUTM(grs80, code-domain.SRIDETRS89UTMNorth, false), true
	case code == domain.SRIDConusAlbers || code == 102039:
		return inverseAlbers(grs80, 29.5, 45.5, 23, -96), true
	case code == 102003:
		return inverseAlbers(grs80, 29.5, 45.5, 37.5, -96), true
	}
	return nil, false
}

func inverseMercator(x, y float64) (float64, float64) {
	lon := x / sphereRadius * deg
	lat := math.Atan(math.Sinh(y/sphereRadius)) * deg
	return lon, lat
}

// inverseUTM returns the inverse transverse Mercator for a UTM zone.
func inverseUTM(el ellipsoid, zone int, south bool) inverseFunc {
	a := el.a
	e2 := el.e2()
	ep2 := e2 / (1 - e2)
	lon0 := float64(zone-1)*6 - 180 + 3
	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)
	mDen := a * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256)

	return func(easting, northing float64) (float64, float64) {
		x := easting - utmEasting
		y := northing
		if south {
			y -= utmSouthing
		}

		mu := y / utmScale / mDen
		phi1 := mu +
			(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
			(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
			(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
			(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

		sin1, cos1 := math.Sincos(phi1)
		tan1 := sin1 / cos1
		c1 := ep2 * cos1 * cos1
		t1 := tan1 * tan1
		w := 1 - e2*sin1*sin1
		n1 := a / math.Sqrt(w)
		r1 := a * (1 - e2) / math.Pow(w, 1.5)
		d := x / (n1 * utmScale)

		lat := phi1 - (n1*tan1/r1)*(d*d/2-
			(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
			(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
		lon := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
			(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cos1

		return lon0 + lon*deg, lat * deg
	}
}

// inverseAlbers returns the inverse Albers equal-area conic projection with
// two standard parallels, no false easting or northing.
func inverseAlbers(el ellipsoid, lat1, lat2, lat0, lon0 float64) inverseFunc {
	a := el.a
	e2 := el.e2()
	e := math.Sqrt(e2)

	m := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Cos(phi) / math.Sqrt(1-e2*s*s)
	}
	q := func(phi float64) float64 {
		s := math.Sin(phi)
		return (1 - e2) * (s/(1-e2*s*s) - 1/(2*e)*math.Log((1-e*s)/(1+e*s)))
	}

	m1, m2 := m(lat1*rad), m(lat2*rad)
	q0, q1, q2 := q(lat0*rad), q(lat1*rad), q(lat2*rad)
	n := (m1*m1 - m2*m2) / (q2 - q1)
	c := m1*m1 + n*q1
	rho0 := a * math.Sqrt(c-n*q0) / n

	return func(x, y float64) (float64, float64) {
		dy := rho0 - y
		rho := math.Hypot(x, dy)
		theta := math.Atan2(x, dy)
		qq := (c - rho*rho*n*n/(a*a)) / n

		phi := math.Asin(qq / 2)
		for i := 0; i < 25; i++ {
			s, co := math.Sincos(phi)
			w := 1 - e2*s*s
			delta := w * w / (2 * co) * (qq/(1-e2) - s/w + 1/(2*e)*math.Log((1-e*s)/(1+e*s)))
			phi += delta
			if math.Abs(delta) < 1e-12 {
				break
			}
		}

		return lon0 + theta/n*deg, phi * deg
	}
}
