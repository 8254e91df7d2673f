package grib

import (
	"fmt"
	"io"
	"math"

	"github.com/nilsmagnus/grib/griblib"

	"github.com/lox/nwpingest/internal/geo"
)

const (
	microDegrees = 1e-6
	millimetres  = 1e-3

	scanNegativeI  = 0x80
	scanPositiveJ  = 0x40
	scanColumnWise = 0x20
	southPole      = 0x80
)

// GribDecoder decodes GRIB2 files on regular lat/lon (template 3.0) and
// polar stereographic (template 3.20) grids.
type GribDecoder struct{}

func (GribDecoder) Decode(r io.Reader) (*Raster, error) {
	messages, err := griblib.ReadMessages(r)
	if err != nil {
		return nil, fmt.Errorf("read grib messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("grib file has no messages")
	}

	var raster *Raster
	for i, m := range messages {
		g, err := gridOf(m.Section3.Definition)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		if raster == nil {
			raster = &Raster{Projection: g.proj, Transform: g.transform, Width: g.width, Height: g.height}
		} else if g.width != raster.Width || g.height != raster.Height || g.transform != raster.Transform {
			return nil, fmt.Errorf("message %d: grid differs from first message", i)
		}

		data := m.Data()
		if len(data) != g.width*g.height {
			return nil, fmt.Errorf("message %d: %d values for a %dx%d grid", i, len(data), g.width, g.height)
		}

		pd := m.Section4.ProductDefinitionTemplate
		raster.Bands = append(raster.Bands, Band{
			Param: Param{
				Discipline:   int(m.Section0.Discipline),
				Category:     int(pd.ParameterCategory),
				Number:       int(pd.ParameterNumber),
				SurfaceType:  int(pd.FirstSurface.Type),
				SurfaceValue: float64(pd.FirstSurface.Value) / math.Pow(10, float64(pd.FirstSurface.Scale)),
			},
			Values: data,
		})
	}
	return raster, nil
}

type grid struct {
	proj          geo.Projection
	transform     geo.GeoTransform
	width, height int
}

func gridOf(def interface{}) (grid, error) {
	switch d := def.(type) {
	case griblib.Grid0:
		return latLonGrid(d)
	case *griblib.Grid0:
		return latLonGrid(*d)
	case griblib.Grid20:
		return polarGrid(d)
	case *griblib.Grid20:
		return polarGrid(*d)
	}
	return grid{}, fmt.Errorf("%w: %T", ErrUnsupportedGrid, def)
}

// rowStep returns the signed row height for a scanning mode. Grids scanned
// south to north grow upwards from the first point.
func rowStep(scan uint8, d float64) (float64, error) {
	if scan&(scanNegativeI|scanColumnWise) != 0 {
		return 0, fmt.Errorf("%w: scanning mode %#x", ErrUnsupportedGrid, scan)
	}
	if scan&scanPositiveJ != 0 {
		return d, nil
	}
	return -d, nil
}

func latLonGrid(g griblib.Grid0) (grid, error) {
	dx := float64(g.Di) * microDegrees
	h, err := rowStep(uint8(g.ScanningMode), float64(g.Dj)*microDegrees)
	if err != nil {
		return grid{}, err
	}
	lon1 := float64(g.Lo1) * microDegrees
	lat1 := float64(g.La1) * microDegrees
	// The transform addresses cell corners; GRIB gives the first cell centre.
	originX := lon1 - dx/2
	return grid{
		proj:      geo.LonLat{WrapFrom: originX},
		transform: geo.GeoTransform{originX, dx, 0, lat1 - h/2, 0, h},
		width:     int(g.Ni),
		height:    int(g.Nj),
	}, nil
}

func polarGrid(g griblib.Grid20) (grid, error) {
	proj := geo.PolarStereographic{
		LatTrueScale: float64(g.LaD) * microDegrees,
		LonVertical:  float64(g.LoV) * microDegrees,
		South:        uint8(g.ProjectionCenter)&southPole != 0,
	}
	dx := float64(g.Dx) * millimetres
	h, err := rowStep(uint8(g.ScanningMode), float64(g.Dy)*millimetres)
	if err != nil {
		return grid{}, err
	}
	x0, y0 := proj.Forward(float64(g.Lo1)*microDegrees, float64(g.La1)*microDegrees)
	return grid{
		proj:      proj,
		transform: geo.GeoTransform{x0 - dx/2, dx, 0, y0 - h/2, 0, h},
		width:     int(g.Nx),
		height:    int(g.Ny),
	}, nil
}
