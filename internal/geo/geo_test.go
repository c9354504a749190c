package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	lon, lat := 13.361389, 38.115556 // Palermo, as in the canonical GEOADD example
	score := Encode(lon, lat)
	gotLon, gotLat := Decode(score)
	assert.InDelta(t, lon, gotLon, 0.001)
	assert.InDelta(t, lat, gotLat, 0.001)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Palermo to Catania is ~166274 meters.
	d := HaversineMeters(13.361389, 38.115556, 15.087269, 37.502669)
	assert.InDelta(t, 166274, d, 1000)
}

func TestValidCoordinate(t *testing.T) {
	lonOK, latOK := ValidCoordinate(200, 0)
	assert.False(t, lonOK)
	assert.True(t, latOK)

	lonOK, latOK = ValidCoordinate(0, 95)
	assert.True(t, lonOK)
	assert.False(t, latOK)
}

func TestToUnit(t *testing.T) {
	km, ok := ToUnit(1000, Kilometers)
	assert.True(t, ok)
	assert.Equal(t, 1.0, km)

	_, ok = ToUnit(1000, Unit("parsec"))
	assert.False(t, ok)
}
