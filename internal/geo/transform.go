package geo

import (
	"errors"
	"math"
)

// EarthRadius is the spherical earth radius GRIB2 uses for shape-of-earth 6.
const EarthRadius = 6371229.0

var ErrSingularTransform = errors.New("geo: geotransform is not invertible")

// GeoTransform is an affine transform in GDAL order:
// x = t[0] + col*t[1] + row*t[2], y = t[3] + col*t[4] + row*t[5].
type GeoTransform [6]float64

// Apply maps a (fractional) raster position to projected coordinates.
func (t GeoTransform) Apply(col, row float64) (x, y float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// Invert returns the transform mapping projected coordinates back to raster
// positions.
func (t GeoTransform) Invert() (GeoTransform, error) {
	det := t[1]*t[5] - t[2]*t[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, ErrSingularTransform
	}
	inv := 1 / det
	return GeoTransform{
		(t[2]*t[3] - t[0]*t[5]) * inv,
		t[5] * inv,
		-t[2] * inv,
		(-t[1]*t[3] + t[0]*t[4]) * inv,
		-t[4] * inv,
		t[1] * inv,
	}, nil
}

// Projection converts between geodetic degrees and the projected plane of a
// raster.
type Projection interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
}

// LonLat is the identity projection of a regular latitude/longitude grid.
// Longitudes are wrapped into [WrapFrom, WrapFrom+360) so stations in the
// western hemisphere land on grids that count 0..360 east.
type LonLat struct {
	WrapFrom float64
}

func (p LonLat) Forward(lon, lat float64) (float64, float64) {
	for lon < p.WrapFrom {
		lon += 360
	}
	for lon >= p.WrapFrom+360 {
		lon -= 360
	}
	return lon, lat
}

func (p LonLat) Inverse(x, y float64) (float64, float64) {
	lon := x
	if lon > 180 {
		lon -= 360
	}
	return lon, y
}

// PolarStereographic is a spherical polar stereographic projection, true at
// LatTrueScale, with LonVertical pointing straight down (north) or up (south)
// from the pole.
type PolarStereographic struct {
	LatTrueScale float64
	LonVertical  float64
	South        bool
	Radius       float64
}

func (p PolarStereographic) radius() float64 {
	if p.Radius > 0 {
		return p.Radius
	}
	return EarthRadius
}

func (p PolarStereographic) scale() float64 {
	// Both hemispheres are computed as the northern case.
	latTS := math.Abs(p.LatTrueScale)
	return p.radius() * (1 + math.Sin(latTS*math.Pi/180))
}

func (p PolarStereographic) Forward(lon, lat float64) (float64, float64) {
	if p.South {
		lat = -lat
	}
	phi := lat * math.Pi / 180
	dlam := (lon - p.LonVertical) * math.Pi / 180
	rho := p.scale() * math.Tan(math.Pi/4-phi/2)
	x := rho * math.Sin(dlam)
	y := -rho * math.Cos(dlam)
	if p.South {
		y = -y
	}
	return x, y
}

func (p PolarStereographic) Inverse(x, y float64) (float64, float64) {
	if p.South {
		y = -y
	}
	rho := math.Hypot(x, y)
	phi := math.Pi/2 - 2*math.Atan(rho/p.scale())
	lam := p.LonVertical*math.Pi/180 + math.Atan2(x, -y)
	lat := phi * 180 / math.Pi
	if p.South {
		lat = -lat
	}
	lon := math.Mod(lam*180/math.Pi+540, 360) - 180
	return lon, lat
}

// Transformer ties a projection to the geotransform of one raster. It is built
// per decoded file since neighbouring models use different native grids.
type Transformer struct {
	proj    Projection
	forward GeoTransform
	inverse GeoTransform
}

func NewTransformer(proj Projection, gt GeoTransform) (*Transformer, error) {
	inv, err := gt.Invert()
	if err != nil {
		return nil, err
	}
	return &Transformer{proj: proj, forward: gt, inverse: inv}, nil
}

// CellFor returns the raster column and row containing a geodetic point. The
// result can lie outside the raster; callers check the extent.
func (t *Transformer) CellFor(lon, lat float64) (col, row int) {
	x, y := t.proj.Forward(lon, lat)
	c, r := t.inverse.Apply(x, y)
	return int(math.Floor(c)), int(math.Floor(r))
}

// CoordFor returns the geodetic coordinate of the centre of a raster cell.
func (t *Transformer) CoordFor(col, row int) (lon, lat float64) {
	x, y := t.forward.Apply(float64(col)+0.5, float64(row)+0.5)
	return t.proj.Inverse(x, y)
}
