package core

import (
	"errors"
	"math"
	"testing"
)

func TestComputeBorderFollowsPattern(t *testing.T) {
	origin := GeoPoint{Lat: 46.2, Lon: 7.3}
	profile := AntennaProfile{OutputPowerDBw: 27, GainDBi: 19, SensitivityDBw: 85, FrequencyGHz: 2.4}

	pattern := make(RadiationPattern, PatternSize)
	for i := range pattern {
		// Main lobe toward offset 0, falling off to the back.
		pattern[i] = 19 - 20*math.Abs(math.Sin(float64(i)*math.Pi/360))
	}

	border, err := ComputeBorder(origin, 90, pattern, profile)
	if err != nil {
		t.Fatalf("ComputeBorder: %v", err)
	}
	if len(border) != PatternSize {
		t.Fatalf("len(border) = %d, want %d", len(border), PatternSize)
	}

	for a, b := range border {
		want, err := profile.MaxDistance(pattern[a])
		if err != nil {
			t.Fatalf("MaxDistance: %v", err)
		}
		if b.DistanceM != want {
			t.Fatalf("offset %d: distance %v, want %v", a, b.DistanceM, want)
		}
		if wantBearing := NormalizeBearing(90 + float64(a)); b.BearingDeg != wantBearing {
			t.Fatalf("offset %d: bearing %v, want %v", a, b.BearingDeg, wantBearing)
		}
		if got := Distance(origin, b.Position); math.Abs(got-want) > 1e-3 {
			t.Fatalf("offset %d: position is %v m from origin, want %v", a, got, want)
		}
	}

	if border[0].DistanceM <= border[180].DistanceM {
		t.Fatalf("main lobe range %v should exceed back lobe range %v", border[0].DistanceM, border[180].DistanceM)
	}
	if border[270].BearingDeg != 0 {
		t.Fatalf("offset 270 from east should point north, got %v", border[270].BearingDeg)
	}
}

func TestComputeBorderRejectsMalformedPattern(t *testing.T) {
	profile := AntennaProfile{OutputPowerDBw: 27, GainDBi: 19, SensitivityDBw: 85, FrequencyGHz: 2.4}
	_, err := ComputeBorder(GeoPoint{}, 0, make(RadiationPattern, 359), profile)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestComputeBorderRejectsBadFrequency(t *testing.T) {
	profile := AntennaProfile{OutputPowerDBw: 27, GainDBi: 19, SensitivityDBw: 85, FrequencyGHz: 0}
	_, err := ComputeBorder(GeoPoint{}, 0, ConstantPattern(19), profile)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
}
