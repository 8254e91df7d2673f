package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/lox/nwpingest/internal/models"
)

// defaultStations seeds a fresh database when no stations file is given.
var defaultStations = []models.Station{
	{Code: 209, Name: "Alexis Creek", Latitude: 52.08, Longitude: -123.27, Active: true},
	{Code: 322, Name: "Afton", Latitude: 50.67, Longitude: -120.48, Active: true},
	{Code: 344, Name: "Beaverdell", Latitude: 49.44, Longitude: -119.08, Active: true},
	{Code: 1055, Name: "Lytton", Latitude: 50.24, Longitude: -121.58, Active: true},
	{Code: 1082, Name: "Mckenzie Lake", Latitude: 54.55, Longitude: -122.05, Active: true},
	{Code: 1275, Name: "Fort Nelson", Latitude: 58.84, Longitude: -122.6, Active: true},
}

type stationsFile struct {
	Stations []stationEntry `toml:"station"`
}

type stationEntry struct {
	Code      int     `toml:"code"`
	Name      string  `toml:"name"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
	Active    *bool   `toml:"active"`
}

// loadStations reads [[station]] tables from a TOML file. Stations are
// active unless marked otherwise.
func loadStations(path string) ([]models.Station, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stations: %w", err)
	}
	defer file.Close()

	var sf stationsFile
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&sf); err != nil {
		return nil, fmt.Errorf("parse stations: %w", err)
	}

	seen := make(map[int]bool, len(sf.Stations))
	out := make([]models.Station, 0, len(sf.Stations))
	for i, e := range sf.Stations {
		if e.Code <= 0 {
			return nil, fmt.Errorf("station %d: code is required", i+1)
		}
		if seen[e.Code] {
			return nil, fmt.Errorf("station %d: duplicate code %d", i+1, e.Code)
		}
		if e.Latitude < -90 || e.Latitude > 90 || e.Longitude < -180 || e.Longitude > 180 {
			return nil, fmt.Errorf("station %d: coordinates out of range", e.Code)
		}
		seen[e.Code] = true
		out = append(out, models.Station{
			Code:      e.Code,
			Name:      e.Name,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
			Active:    e.Active == nil || *e.Active,
		})
	}
	return out, nil
}
