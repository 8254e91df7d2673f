package grib

import (
	"github.com/lox/nwpingest/internal/models"
)

// Point is a station located on one raster.
type Point struct {
	Station models.Station
	Col     int
	Row     int
	Covered bool
}

// Sample is a station's value from one band.
type Sample struct {
	Station models.Station
	Value   float64
	Covered bool
}

// Sampler extracts nearest-cell values for a fixed list of stations.
type Sampler struct {
	stations []models.Station
}

func NewSampler(stations []models.Station) *Sampler {
	return &Sampler{stations: stations}
}

func (s *Sampler) Stations() []models.Station { return s.stations }

// Locate finds each station's cell on r. Stations outside the extent are
// returned with Covered false.
func (s *Sampler) Locate(r *Raster) ([]Point, error) {
	tr, err := r.Transformer()
	if err != nil {
		return nil, err
	}
	points := make([]Point, len(s.stations))
	for i, st := range s.stations {
		col, row := tr.CellFor(st.Longitude, st.Latitude)
		points[i] = Point{Station: st, Col: col, Row: row, Covered: r.Contains(col, row)}
	}
	return points, nil
}

// Sample reads band for every station.
func (s *Sampler) Sample(r *Raster, band int) ([]Sample, error) {
	points, err := s.Locate(r)
	if err != nil {
		return nil, err
	}
	out := make([]Sample, len(points))
	for i, p := range points {
		out[i] = Sample{Station: p.Station}
		if !p.Covered {
			continue
		}
		out[i].Value, out[i].Covered = r.Value(band, p.Col, p.Row)
	}
	return out, nil
}
