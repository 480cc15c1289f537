// Package topology models the single linear corridor of stations that every
// train in the simulation runs along.
package topology

import (
	"errors"
	"fmt"
	"sort"
)

// StationCode is the unique short identifier of a station.
type StationCode = string

// Corridor setup errors.
var (
	ErrEmptyCorridor    = errors.New("corridor has no stations")
	ErrDuplicateStation = errors.New("duplicate station")
	ErrUnknownStation   = errors.New("unknown station")
)

// Direction of travel along the corridor.
type Direction int

const (
	// Downline trains travel towards increasing distance.
	Downline Direction = 1
	// Upline trains travel towards decreasing distance.
	Upline Direction = -1
)

func (d Direction) String() string {
	if d == Upline {
		return "upline"
	}
	return "downline"
}

// Station is a fixed point on the corridor.
type Station struct {
	Code        StationCode `json:"code" yaml:"code"`
	Name        string      `json:"name" yaml:"name"`
	DistanceKm  float64     `json:"distance_km" yaml:"distance_km"`
	HaltMinutes float64     `json:"halt_minutes" yaml:"halt_minutes"` // default dwell
}

// Corridor is an immutable, distance-ordered station list.
type Corridor struct {
	stations []Station
	byCode   map[StationCode]int // code -> index into stations
}

// NewCorridor validates and orders stations by distance. The input slice is
// not modified.
func NewCorridor(stations []Station) (*Corridor, error) {
	if len(stations) == 0 {
		return nil, ErrEmptyCorridor
	}
	sorted := make([]Station, len(stations))
	copy(sorted, stations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DistanceKm < sorted[j].DistanceKm })

	c := &Corridor{
		stations: sorted,
		byCode:   make(map[StationCode]int, len(sorted)),
	}
	for i, s := range sorted {
		if s.Code == "" {
			return nil, fmt.Errorf("station at %.3f km has no code", s.DistanceKm)
		}
		if _, exists := c.byCode[s.Code]; exists {
			return nil, fmt.Errorf("%w: code %q", ErrDuplicateStation, s.Code)
		}
		if i > 0 && sorted[i-1].DistanceKm == s.DistanceKm {
			return nil, fmt.Errorf("%w: %q and %q share distance %.3f km",
				ErrDuplicateStation, sorted[i-1].Code, s.Code, s.DistanceKm)
		}
		c.byCode[s.Code] = i
	}
	return c, nil
}

// Stations returns the stations ordered by distance.
func (c *Corridor) Stations() []Station {
	out := make([]Station, len(c.stations))
	copy(out, c.stations)
	return out
}

// Len returns the number of stations.
func (c *Corridor) Len() int { return len(c.stations) }

// MinDistanceKm is the distance of the first station.
func (c *Corridor) MinDistanceKm() float64 { return c.stations[0].DistanceKm }

// MaxDistanceKm is the distance of the last station.
func (c *Corridor) MaxDistanceKm() float64 { return c.stations[len(c.stations)-1].DistanceKm }

// Station looks up a station by code.
func (c *Corridor) Station(code StationCode) (Station, error) {
	i, ok := c.byCode[code]
	if !ok {
		return Station{}, fmt.Errorf("%w: %q", ErrUnknownStation, code)
	}
	return c.stations[i], nil
}

// DistanceOf returns the distance of the station with the given code.
func (c *Corridor) DistanceOf(code StationCode) (float64, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return 0, false
	}
	return c.stations[i].DistanceKm, true
}

// Bounds returns the pair of stations enclosing distanceKm. Positions before
// the first or beyond the last station are clamped to the end pair; a position
// exactly on a station returns that station as prev.
func (c *Corridor) Bounds(distanceKm float64) (prev, next Station) {
	n := len(c.stations)
	if n == 1 {
		return c.stations[0], c.stations[0]
	}
	// First station strictly beyond distanceKm.
	i := sort.Search(n, func(i int) bool { return c.stations[i].DistanceKm > distanceKm })
	switch {
	case i == 0:
		return c.stations[0], c.stations[1]
	case i == n:
		return c.stations[n-2], c.stations[n-1]
	}
	return c.stations[i-1], c.stations[i]
}

// StationAt returns the station located exactly at distanceKm, within a
// small tolerance.
func (c *Corridor) StationAt(distanceKm float64) (Station, bool) {
	const eps = 1e-9
	prev, next := c.Bounds(distanceKm)
	switch {
	case abs(prev.DistanceKm-distanceKm) < eps:
		return prev, true
	case abs(next.DistanceKm-distanceKm) < eps:
		return next, true
	}
	return Station{}, false
}

// DirectionOf infers the direction of travel from the first and last of an
// ordered list of station codes.
func (c *Corridor) DirectionOf(codes []StationCode) (Direction, error) {
	if len(codes) < 2 {
		return Downline, fmt.Errorf("need at least two stations to infer direction, got %d", len(codes))
	}
	first, err := c.Station(codes[0])
	if err != nil {
		return Downline, err
	}
	last, err := c.Station(codes[len(codes)-1])
	if err != nil {
		return Downline, err
	}
	if first.DistanceKm < last.DistanceKm {
		return Downline, nil
	}
	return Upline, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
