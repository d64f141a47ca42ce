package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCoordinates(t *testing.T) {
	cases := []struct {
		name    string
		lat     float64
		lng     float64
		wantErr bool
	}{
		{"origin", 0, 0, false},
		{"north pole", 90, 0, false},
		{"south pole", -90, 0, false},
		{"date line east", 0, 180, false},
		{"date line west", 0, -180, false},
		{"lat too high", 91, 0, true},
		{"lat too low", -91, 0, true},
		{"lng too high", 0, 181, true},
		{"lng too low", 0, -181, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCoordinates(tc.lat, tc.lng)
			if tc.wantErr {
				require.Error(t, err)
				var validation *ValidationError
				require.ErrorAs(t, err, &validation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude is roughly 111.2 km everywhere.
	distance := HaversineMeters(4.60971, -74.08175, 5.60971, -74.08175)
	assert.InDelta(t, 111195, distance, 200)

	// Same point is zero.
	assert.Zero(t, HaversineMeters(4.60971, -74.08175, 4.60971, -74.08175))

	// Symmetry.
	forward := HaversineMeters(40.7128, -74.0060, 34.0522, -118.2437)
	backward := HaversineMeters(34.0522, -118.2437, 40.7128, -74.0060)
	assert.InDelta(t, forward, backward, 0.001)
}
