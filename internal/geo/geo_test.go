package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nearby/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceIdentity(t *testing.T) {
	for _, c := range []models.Coord{
		{Lat: 0, Lng: 0},
		{Lat: 51.5074, Lng: -0.1278},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 90, Lng: 180},
		{Lat: -90, Lng: -180},
	} {
		assert.Zero(t, Distance(c, c), "distance(%v, %v)", c, c)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]models.Coord{
		{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}},
		{{Lat: 48.8566, Lng: 2.3522}, {Lat: 40.7128, Lng: -74.006}},
		{{Lat: -45, Lng: 170}, {Lat: 45, Lng: -170}},
		{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 180}},
	}
	for _, p := range pairs {
		ab := Distance(p[0], p[1])
		ba := Distance(p[1], p[0])
		assert.InDelta(t, ab, ba, 1e-9)
		assert.GreaterOrEqual(t, ab, 0.0)
	}
}

func TestDistanceOneDegreeOnEquator(t *testing.T) {
	want := EarthRadiusKm * math.Pi / 180
	assert.InDelta(t, want, Distance(models.Coord{}, models.Coord{Lat: 0, Lng: 1}), 1e-9)
	assert.InDelta(t, want, Distance(models.Coord{}, models.Coord{Lat: 1, Lng: 0}), 1e-9)
}

func TestDistanceAntipodal(t *testing.T) {
	d := Distance(models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 0, Lng: 180})
	require.False(t, math.IsNaN(d))
	assert.InDelta(t, math.Pi*EarthRadiusKm, d, 1e-6)
}

func TestDistanceNaNPropagates(t *testing.T) {
	d := Distance(models.Coord{Lat: math.NaN(), Lng: 0}, models.Coord{Lat: 1, Lng: 1})
	assert.True(t, math.IsNaN(d))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(models.Coord{Lat: 90, Lng: -180}))
	assert.False(t, Valid(models.Coord{Lat: 90.1, Lng: 0}))
	assert.False(t, Valid(models.Coord{Lat: 0, Lng: 181}))
	assert.False(t, Valid(models.Coord{Lat: math.NaN(), Lng: 0}))
	assert.False(t, Valid(models.Coord{Lat: 0, Lng: math.Inf(1)}))
}
