// Package grib decodes model files into geo-referenced rasters and samples
// them at station locations.
package grib

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lox/nwpingest/internal/geo"
)

var ErrUnsupportedGrid = errors.New("grib: unsupported grid definition")

// missingValue marks points a producer left undefined.
const missingValue = 9.999e20

// Param identifies the product in one GRIB2 message.
type Param struct {
	Discipline   int
	Category     int
	Number       int
	SurfaceType  int
	SurfaceValue float64
}

func (p Param) Matches(o Param) bool {
	return p.Discipline == o.Discipline &&
		p.Category == o.Category &&
		p.Number == o.Number &&
		p.SurfaceType == o.SurfaceType &&
		math.Abs(p.SurfaceValue-o.SurfaceValue) < 1e-6
}

func (p Param) String() string {
	return fmt.Sprintf("%d.%d.%d@%d:%g", p.Discipline, p.Category, p.Number, p.SurfaceType, p.SurfaceValue)
}

// Band holds one message's values in row-major order, where row 0 is the row
// at the transform origin.
type Band struct {
	Param  Param
	Values []float64
}

// Raster is a decoded file: one grid shared by every band.
type Raster struct {
	Projection geo.Projection
	Transform  geo.GeoTransform
	Width      int
	Height     int
	Bands      []Band
}

// Transformer builds the coordinate transformer for this raster's grid.
func (r *Raster) Transformer() (*geo.Transformer, error) {
	if r.Projection == nil {
		return nil, fmt.Errorf("%w: no projection", ErrUnsupportedGrid)
	}
	return geo.NewTransformer(r.Projection, r.Transform)
}

// Contains reports whether a cell lies inside the raster extent.
func (r *Raster) Contains(col, row int) bool {
	return col >= 0 && col < r.Width && row >= 0 && row < r.Height
}

// Value returns a cell of a band. Cells outside the extent and undefined
// points report false.
func (r *Raster) Value(band, col, row int) (float64, bool) {
	if band < 0 || band >= len(r.Bands) || !r.Contains(col, row) {
		return 0, false
	}
	vals := r.Bands[band].Values
	i := row*r.Width + col
	if i >= len(vals) {
		return 0, false
	}
	v := vals[i]
	if math.IsNaN(v) || v >= missingValue {
		return 0, false
	}
	return v, true
}

// Decoder turns a model file into a raster.
type Decoder interface {
	Decode(r io.Reader) (*Raster, error)
}
