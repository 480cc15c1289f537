package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/tms-dispatch/internal/topology"
)

func testStations() []topology.Station {
	// Deliberately out of order.
	return []topology.Station{
		{Code: "C", Name: "Charlie", DistanceKm: 30, HaltMinutes: 2},
		{Code: "A", Name: "Alpha", DistanceKm: 0, HaltMinutes: 1},
		{Code: "B", Name: "Bravo", DistanceKm: 12, HaltMinutes: 2},
	}
}

func TestNewCorridor_SortsByDistance(t *testing.T) {
	c, err := topology.NewCorridor(testStations())
	require.NoError(t, err)

	stations := c.Stations()
	require.Len(t, stations, 3)
	assert.Equal(t, "A", stations[0].Code)
	assert.Equal(t, "B", stations[1].Code)
	assert.Equal(t, "C", stations[2].Code)
	assert.Equal(t, 0.0, c.MinDistanceKm())
	assert.Equal(t, 30.0, c.MaxDistanceKm())
}

func TestNewCorridor_Errors(t *testing.T) {
	_, err := topology.NewCorridor(nil)
	assert.ErrorIs(t, err, topology.ErrEmptyCorridor)

	_, err = topology.NewCorridor([]topology.Station{
		{Code: "A", DistanceKm: 0},
		{Code: "A", DistanceKm: 5},
	})
	assert.ErrorIs(t, err, topology.ErrDuplicateStation)

	_, err = topology.NewCorridor([]topology.Station{
		{Code: "A", DistanceKm: 5},
		{Code: "B", DistanceKm: 5},
	})
	assert.ErrorIs(t, err, topology.ErrDuplicateStation)
}

func TestCorridor_Bounds(t *testing.T) {
	c, err := topology.NewCorridor(testStations())
	require.NoError(t, err)

	tests := []struct {
		name     string
		distance float64
		prev     string
		next     string
	}{
		{"before start", -3, "A", "B"},
		{"on first station", 0, "A", "B"},
		{"mid first leg", 5, "A", "B"},
		{"on middle station", 12, "B", "C"},
		{"mid second leg", 20, "B", "C"},
		{"on last station", 30, "B", "C"},
		{"beyond end", 45, "B", "C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev, next := c.Bounds(tt.distance)
			assert.Equal(t, tt.prev, prev.Code)
			assert.Equal(t, tt.next, next.Code)
		})
	}
}

func TestCorridor_StationAt(t *testing.T) {
	c, err := topology.NewCorridor(testStations())
	require.NoError(t, err)

	s, ok := c.StationAt(12)
	require.True(t, ok)
	assert.Equal(t, "B", s.Code)

	_, ok = c.StationAt(12.5)
	assert.False(t, ok)
}

func TestCorridor_DirectionOf(t *testing.T) {
	c, err := topology.NewCorridor(testStations())
	require.NoError(t, err)

	dir, err := c.DirectionOf([]string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, topology.Downline, dir)

	dir, err = c.DirectionOf([]string{"C", "A"})
	require.NoError(t, err)
	assert.Equal(t, topology.Upline, dir)
	assert.Equal(t, "upline", dir.String())

	_, err = c.DirectionOf([]string{"A", "Z"})
	assert.ErrorIs(t, err, topology.ErrUnknownStation)
}

func TestCorridor_Span(t *testing.T) {
	c, err := topology.NewCorridor(testStations())
	require.NoError(t, err)

	fwd, err := c.Span("A", "C")
	require.NoError(t, err)
	rev, err := c.Span("C", "A")
	require.NoError(t, err)
	assert.Equal(t, fwd, rev)
	assert.Equal(t, []string{"A", "B", "C"}, fwd.Stations)
	assert.Equal(t, 30.0, fwd.Length())
	assert.True(t, fwd.Contains(30))
	assert.False(t, fwd.Contains(30.1))

	d, err := c.Distance("C", "B")
	require.NoError(t, err)
	assert.Equal(t, 18.0, d)

	_, err = c.Span("A", "nowhere")
	assert.ErrorIs(t, err, topology.ErrUnknownStation)

	assert.True(t, topology.Empty.IsEmpty())
	assert.False(t, topology.Empty.Contains(0))
	assert.False(t, topology.Empty.Overlaps(fwd))
	assert.Equal(t, 0.0, topology.Empty.Length())
}
