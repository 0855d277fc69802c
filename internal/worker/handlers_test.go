package worker

import "testing"

func TestRoundCoordNormalizesNegativeZero(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{43.25512, 43.255},
		{-79.87149, -79.871},
		{-0.0003, 0},
		{0.0003, 0},
		{-0.0006, -0.001},
		{90, 90},
		{-180, -180},
	}
	for _, tc := range cases {
		got := roundCoord(tc.in)
		if got != tc.want {
			t.Errorf("roundCoord(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLocationKeyFixedPrecision(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     string
	}{
		{43.255, -79.871, "43.255,-79.871"},
		{0, 0, "0.000,0.000"},
		{90, 180, "90.000,180.000"},
		{-12.5, 3.1, "-12.500,3.100"},
	}
	for _, tc := range cases {
		if got := locationKey(tc.lat, tc.lon); got != tc.want {
			t.Errorf("locationKey(%v, %v) = %q, want %q", tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestLocationKeyStableSignForSubPrecisionValues(t *testing.T) {
	// -0.0003 rounds to -0, which must render as "0.000", not "-0.000".
	key := locationKey(roundCoord(-0.0003), roundCoord(0.0003))
	if key != "0.000,0.000" {
		t.Errorf("key = %q, want %q", key, "0.000,0.000")
	}
}
