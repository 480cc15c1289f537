package topology

import (
	"fmt"
	"math"
)

// Span is a closed interval of the corridor, always normalized so that
// FromKm <= ToKm regardless of the order it was requested in.
type Span struct {
	FromKm   float64       `json:"from_km"`
	ToKm     float64       `json:"to_km"`
	Stations []StationCode `json:"stations"` // stations inside the span, ordered by distance
}

// Empty is a span that contains no position.
var Empty = Span{FromKm: math.Inf(1), ToKm: math.Inf(-1)}

// Length returns the length of the span in km, or 0 for an empty span.
func (s Span) Length() float64 {
	if s.IsEmpty() {
		return 0
	}
	return s.ToKm - s.FromKm
}

// IsEmpty reports whether the span can never contain a position.
func (s Span) IsEmpty() bool { return s.FromKm > s.ToKm }

// Contains reports whether distanceKm lies within the span, ends included.
func (s Span) Contains(distanceKm float64) bool {
	return distanceKm >= s.FromKm && distanceKm <= s.ToKm
}

// Overlaps reports whether two spans share at least one position.
func (s Span) Overlaps(o Span) bool {
	if s.IsEmpty() || o.IsEmpty() {
		return false
	}
	return s.FromKm <= o.ToKm && o.FromKm <= s.ToKm
}

// Span returns the normalized interval between stations a and b.
func (c *Corridor) Span(a, b StationCode) (Span, error) {
	i, ok := c.byCode[a]
	if !ok {
		return Empty, fmt.Errorf("%w: %q", ErrUnknownStation, a)
	}
	j, ok := c.byCode[b]
	if !ok {
		return Empty, fmt.Errorf("%w: %q", ErrUnknownStation, b)
	}
	if i > j {
		i, j = j, i
	}
	codes := make([]StationCode, 0, j-i+1)
	for _, s := range c.stations[i : j+1] {
		codes = append(codes, s.Code)
	}
	return Span{
		FromKm:   c.stations[i].DistanceKm,
		ToKm:     c.stations[j].DistanceKm,
		Stations: codes,
	}, nil
}

// Distance returns the unsigned track distance between two stations.
func (c *Corridor) Distance(a, b StationCode) (float64, error) {
	s, err := c.Span(a, b)
	if err != nil {
		return 0, err
	}
	return s.Length(), nil
}
