// Package nwp describes the numerical weather prediction models the
// pipeline ingests: their run cadence, file grammar and band layout.
package nwp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lox/nwpingest/internal/grib"
)

// Kind is one supported model family.
type Kind int

const (
	GDPS Kind = iota + 1
	RDPS
	HRDPS
	GFS
	NAM
)

// ErrUnhandledModel is returned for a model kind or projection the pipeline
// has no table entry for.
var ErrUnhandledModel = errors.New("unhandled model type")

var Kinds = []Kind{GDPS, RDPS, HRDPS, GFS, NAM}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnhandledModel, s)
}

func (k Kind) String() string {
	if ks, ok := table[k]; ok {
		return ks.abbreviation
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// UnmarshalText lets a Kind be used directly as a CLI argument.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Projection is the grid name stored alongside the abbreviation in the
// prediction model reference data.
func (k Kind) Projection() string { return table[k].projection }

// RunHours lists the UTC hours the model is run each day.
func (k Kind) RunHours() []int { return append([]int(nil), table[k].runHours...) }

// Field is a quantity a band can carry, in the units of the source file.
type Field int

const (
	FieldTemperatureK Field = iota + 1
	FieldRelativeHumidity
	FieldPrecipitation
	FieldWindSpeedMps
	FieldWindDirection
	FieldWindU
	FieldWindV
)

// Environment Canada publishes one layer per file.
var ecccLayers = []ecccLayer{
	{"TMP_TGL_2", FieldTemperatureK},
	{"RH_TGL_2", FieldRelativeHumidity},
	{"APCP_SFC_0", FieldPrecipitation},
	{"WDIR_TGL_10", FieldWindDirection},
	{"WIND_TGL_10", FieldWindSpeedMps},
}

type ecccLayer struct {
	name  string
	field Field
}

// NOMADS filter output carries every requested variable in one file; bands
// are told apart by their product definition.
var noaaBands = []struct {
	param grib.Param
	field Field
}{
	{grib.Param{Discipline: 0, Category: 0, Number: 0, SurfaceType: 103, SurfaceValue: 2}, FieldTemperatureK},
	{grib.Param{Discipline: 0, Category: 1, Number: 1, SurfaceType: 103, SurfaceValue: 2}, FieldRelativeHumidity},
	{grib.Param{Discipline: 0, Category: 1, Number: 8, SurfaceType: 1}, FieldPrecipitation},
	{grib.Param{Discipline: 0, Category: 2, Number: 2, SurfaceType: 103, SurfaceValue: 10}, FieldWindU},
	{grib.Param{Discipline: 0, Category: 2, Number: 3, SurfaceType: 103, SurfaceValue: 10}, FieldWindV},
}

type kindSpec struct {
	abbreviation string
	projection   string
	runHours     []int
	noaa         bool
	// forecastHours returns the ordered hours published for a run hour.
	forecastHours func(runHour int) []int
	url           func(o Options, date string, runHour, hour int, layer string) string
}

var table = map[Kind]kindSpec{
	GDPS: {
		abbreviation:  "GDPS",
		projection:    "latlon.15x.15",
		runHours:      []int{0, 12},
		forecastHours: func(int) []int { return steps(0, 240, 3) },
		url: func(o Options, date string, runHour, hour int, layer string) string {
			return fmt.Sprintf("%s/model_gem_global/15km/grib2/lat_lon/%02d/%03d/CMC_glb_%s_latlon.15x.15_%s%02d_P%03d.grib2",
				o.ecccBase(), runHour, hour, layer, date, runHour, hour)
		},
	},
	RDPS: {
		abbreviation:  "RDPS",
		projection:    "ps10km",
		runHours:      []int{0, 6, 12, 18},
		forecastHours: func(int) []int { return steps(0, 84, 1) },
		url: func(o Options, date string, runHour, hour int, layer string) string {
			return fmt.Sprintf("%s/model_gem_regional/10km/grib2/%02d/%03d/CMC_reg_%s_ps10km_%s%02d_P%03d.grib2",
				o.ecccBase(), runHour, hour, layer, date, runHour, hour)
		},
	},
	HRDPS: {
		abbreviation:  "HRDPS",
		projection:    "ps2.5km",
		runHours:      []int{0, 6, 12, 18},
		forecastHours: func(int) []int { return steps(0, 48, 1) },
		url: func(o Options, date string, runHour, hour int, layer string) string {
			return fmt.Sprintf("%s/model_hrdps/continental/grib2/%02d/%03d/CMC_hrdps_continental_%s_ps2.5km_%s%02d_P%03d-00.grib2",
				o.ecccBase(), runHour, hour, layer, date, runHour, hour)
		},
	},
	GFS: {
		abbreviation:  "GFS",
		projection:    "lonlat.0.25deg",
		runHours:      []int{0, 6, 12, 18},
		noaa:          true,
		forecastHours: gfsHours,
		url: func(o Options, date string, runHour, hour int, _ string) string {
			return fmt.Sprintf("%s/filter_gfs_0p25.pl?dir=%%2Fgfs.%s%%2F%02d%%2Fatmos&file=gfs.t%02dz.pgrb2.0p25.f%03d&%s",
				o.nomadsBase(), date, runHour, runHour, hour, nomadsQuery)
		},
	},
	NAM: {
		abbreviation:  "NAM",
		projection:    "ps32km",
		runHours:      []int{0, 6, 12, 18},
		noaa:          true,
		forecastHours: namHours,
		url: func(o Options, date string, runHour, hour int, _ string) string {
			return fmt.Sprintf("%s/filter_nam.pl?dir=%%2Fnam.%s&file=nam.t%02dz.awphys%02d.tm00.grib2&%s",
				o.nomadsBase(), date, runHour, hour, nomadsQuery)
		},
	},
}

// Variables and levels requested from the NOMADS grib filter, clipped to
// British Columbia.
const nomadsQuery = "var_APCP=on&var_RH=on&var_TMP=on&var_UGRD=on&var_VGRD=on" +
	"&lev_surface=on&lev_2_m_above_ground=on&lev_10_m_above_ground=on" +
	"&subregion=&toplat=60&leftlon=-139&rightlon=-114&bottomlat=48"

func steps(from, to, step int) []int {
	var out []int
	for h := from; h <= to; h += step {
		out = append(out, h)
	}
	return out
}

// gfsHours picks the forecast hours whose valid times land on 18Z and 21Z,
// the pair that brackets the noon reference hour, for ten days.
func gfsHours(runHour int) []int {
	first := (18 - runHour + 24) % 24
	var out []int
	for h := first; h <= first+240; h += 24 {
		out = append(out, h, h+3)
	}
	return out
}

// NAM hours by cycle, as published in the awphys files. Each list covers the
// 18Z/20Z/21Z valid times the processor needs plus the precipitation buckets.
var namHourTable = map[int][]int{
	0:  {0, 12, 18, 20, 21, 24, 36, 42, 45, 48, 60, 66, 69},
	6:  {0, 3, 6, 9, 12, 14, 15, 18, 21, 24, 27, 30, 33, 36, 39, 42, 45, 48, 51, 54, 57, 60, 63, 66},
	12: {0, 6, 8, 9, 12, 24, 30, 32, 33, 36, 48, 54, 57, 60, 72, 78, 81},
	18: {0, 2, 3, 6, 9, 12, 15, 18, 21, 24, 26, 27, 30, 33, 36, 39, 42, 45, 48, 51, 54, 57, 60, 63, 66, 69, 72, 75},
}

func namHours(runHour int) []int {
	return append([]int(nil), namHourTable[runHour]...)
}

// PrecipAccumulationHours is the length of the buckets NAM resets its
// accumulated precipitation over; zero means the model accumulates from run
// start.
func (k Kind) PrecipAccumulationHours(runHour int) int {
	if k != NAM {
		return 0
	}
	if runHour == 6 || runHour == 18 {
		return 3
	}
	return 12
}

// FieldBands maps each field carried by a decoded file to its band index.
func (k Kind) FieldBands(f File, bands []grib.Band) (map[Field]int, error) {
	ks, ok := table[k]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnhandledModel, k)
	}
	if len(bands) == 0 {
		return nil, errors.New("file has no bands")
	}
	out := make(map[Field]int)
	if !ks.noaa {
		for _, l := range ecccLayers {
			if l.name == f.Layer {
				out[l.field] = 0
				return out, nil
			}
		}
		return nil, fmt.Errorf("%w: layer %q", ErrUnhandledModel, f.Layer)
	}
	for i, b := range bands {
		for _, nb := range noaaBands {
			if _, seen := out[nb.field]; seen {
				continue
			}
			if b.Param.Matches(nb.param) {
				out[nb.field] = i
			}
		}
	}
	return out, nil
}
