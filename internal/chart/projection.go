package chart

import (
	"fmt"
	"math"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/tilemath"
	"github.com/wroge/wgs84"
)

// Projection converts between geographic degrees and the chart's native
// coordinates (in the chart's linear unit).
type Projection interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
	String() string
}

type Ellipsoid struct {
	A    float64 // semi-major axis, meters
	InvF float64 // inverse flattening, 0 for a sphere
}

var (
	GRS80      = Ellipsoid{A: 6378137, InvF: 298.257222101}
	WGS84      = Ellipsoid{A: 6378137, InvF: 298.257223563}
	Clarke1866 = Ellipsoid{A: 6378206.4, InvF: 294.978698214}
)

func (e Ellipsoid) eccentricity() float64 {
	if e.InvF == 0 {
		return 0
	}
	f := 1 / e.InvF
	return math.Sqrt(2*f - f*f)
}

const deg = math.Pi / 180

// datum maps the ellipsoid onto its wgs84 spheroid. A zero inverse
// flattening is a sphere, which wgs84 spells as an infinite one.
func (e Ellipsoid) datum() wgs84.Datum {
	switch e {
	case GRS80:
		return wgs84.NAD83()
	case WGS84:
		return wgs84.WGS84()
	case Clarke1866:
		return wgs84.Datum{Spheroid: wgs84.Clarke1866{}}
	}
	fi := e.InvF
	if fi == 0 {
		fi = math.Inf(1)
	}
	return wgs84.Helmert(e.A, fi, 0, 0, 0, 0, 0, 0, 0)
}

// LambertConformalConic2SP is the two standard parallel LCC. The math is
// wgs84's; this type carries the native linear unit and false origin,
// since wgs84 only works in meters.
type LambertConformalConic2SP struct {
	Lat1, Lat2    float64 // standard parallels, degrees
	Lat0, Lon0    float64 // false origin, degrees
	FalseEasting  float64 // native units
	FalseNorthing float64 // native units
	Ellipsoid     Ellipsoid
	UnitsPerMeter float64 // 1 for meters

	crs wgs84.ProjectedReferenceSystem
}

func NewLambertConformalConic2SP(lat1, lat2, lat0, lon0, fe, fn float64, ell Ellipsoid, unitsPerMeter float64) (*LambertConformalConic2SP, error) {
	if math.Abs(lat1+lat2) < 1e-10 {
		return nil, fmt.Errorf("lcc: standard parallels %v and %v are symmetric about the equator", lat1, lat2)
	}
	if unitsPerMeter <= 0 {
		unitsPerMeter = 1
	}
	return &LambertConformalConic2SP{
		Lat1: lat1, Lat2: lat2, Lat0: lat0, Lon0: lon0,
		FalseEasting: fe, FalseNorthing: fn,
		Ellipsoid: ell, UnitsPerMeter: unitsPerMeter,
		crs: ell.datum().LambertConformalConic2SP(lon0, lat0, lat1, lat2, 0, 0),
	}, nil
}

func (p *LambertConformalConic2SP) Forward(lon, lat float64) (float64, float64) {
	x, y := p.crs.Projection.FromLonLat(p.Lon0+normalizeLon(lon-p.Lon0), lat, p.crs.Datum)
	return x*p.UnitsPerMeter + p.FalseEasting, y*p.UnitsPerMeter + p.FalseNorthing
}

func (p *LambertConformalConic2SP) Inverse(x, y float64) (float64, float64) {
	lon, lat := p.crs.Projection.ToLonLat(
		(x-p.FalseEasting)/p.UnitsPerMeter,
		(y-p.FalseNorthing)/p.UnitsPerMeter,
		p.crs.Datum,
	)
	return normalizeLon(lon), lat
}

func (p *LambertConformalConic2SP) String() string {
	return fmt.Sprintf("+proj=lcc +lat_1=%g +lat_2=%g +lat_0=%g +lon_0=%g +x_0=%g +y_0=%g +a=%g +rf=%g",
		p.Lat1, p.Lat2, p.Lat0, p.Lon0, p.FalseEasting, p.FalseNorthing, p.Ellipsoid.A, p.Ellipsoid.InvF)
}

// LambertConformalConic1SP is the single standard parallel LCC with a scale
// factor at the natural origin (EPSG 9801). wgs84 has no 1SP variant.
type LambertConformalConic1SP struct {
	Lat0, Lon0    float64 // natural origin, degrees
	K0            float64 // scale at the natural origin
	FalseEasting  float64 // native units
	FalseNorthing float64 // native units
	Ellipsoid     Ellipsoid
	UnitsPerMeter float64 // 1 for meters

	n, f, rho0 float64
	a, e       float64
}

func NewLambertConformalConic1SP(lat0, lon0, k0, fe, fn float64, ell Ellipsoid, unitsPerMeter float64) (*LambertConformalConic1SP, error) {
	if math.Abs(lat0) < 1e-10 {
		return nil, fmt.Errorf("lcc: natural origin latitude %v is on the equator", lat0)
	}
	if unitsPerMeter <= 0 {
		unitsPerMeter = 1
	}
	if k0 <= 0 {
		k0 = 1
	}
	p := &LambertConformalConic1SP{
		Lat0: lat0, Lon0: lon0, K0: k0,
		FalseEasting: fe, FalseNorthing: fn,
		Ellipsoid: ell, UnitsPerMeter: unitsPerMeter,
		a: ell.A * k0, e: ell.eccentricity(),
	}

	phi0 := lat0 * deg
	t0 := p.t(phi0)
	p.n = math.Sin(phi0)
	p.f = p.m(phi0) / (p.n * math.Pow(t0, p.n))
	p.rho0 = p.a * p.f * math.Pow(t0, p.n)

	return p, nil
}

func (p *LambertConformalConic1SP) m(phi float64) float64 {
	s := p.e * math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-s*s)
}

func (p *LambertConformalConic1SP) t(phi float64) float64 {
	s := p.e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-s)/(1+s), p.e/2)
}

func (p *LambertConformalConic1SP) Forward(lon, lat float64) (float64, float64) {
	rho := p.a * p.f * math.Pow(p.t(lat*deg), p.n)
	theta := p.n * normalizeLon(lon-p.Lon0) * deg

	x := rho * math.Sin(theta)
	y := p.rho0 - rho*math.Cos(theta)
	return x*p.UnitsPerMeter + p.FalseEasting, y*p.UnitsPerMeter + p.FalseNorthing
}

func (p *LambertConformalConic1SP) Inverse(x, y float64) (float64, float64) {
	dx := (x - p.FalseEasting) / p.UnitsPerMeter
	dy := p.rho0 - (y-p.FalseNorthing)/p.UnitsPerMeter

	sign := 1.0
	if p.n < 0 {
		sign = -1
	}
	rho := sign * math.Hypot(dx, dy)
	theta := math.Atan2(sign*dx, sign*dy)

	if rho == 0 {
		return p.Lon0, sign * 90
	}

	t := math.Pow(rho/(p.a*p.f), 1/p.n)
	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		s := p.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-s)/(1+s), p.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	lon := normalizeLon(theta/p.n/deg + p.Lon0)
	return lon, phi / deg
}

func (p *LambertConformalConic1SP) String() string {
	return fmt.Sprintf("+proj=lcc +lat_1=%g +lat_0=%g +lon_0=%g +k_0=%g +x_0=%g +y_0=%g +a=%g +rf=%g",
		p.Lat0, p.Lat0, p.Lon0, p.K0, p.FalseEasting, p.FalseNorthing, p.Ellipsoid.A, p.Ellipsoid.InvF)
}

// Geographic charts are stored directly in lon/lat degrees.
type Geographic struct{}

func (Geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (Geographic) Inverse(x, y float64) (float64, float64) { return x, y }
func (Geographic) String() string { return "+proj=longlat" }

// WebMercator charts are already in EPSG:3857 meters.
type WebMercator struct{}

func (WebMercator) Forward(lon, lat float64) (float64, float64) {
	return tilemath.LonLatToMeters(lon, lat)
}

func (WebMercator) Inverse(x, y float64) (float64, float64) {
	return tilemath.MetersToLonLat(x, y)
}

func (WebMercator) String() string { return "+proj=merc +a=6378137 +b=6378137" }

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
