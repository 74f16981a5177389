package geo

import (
	"math"
	"testing"
)

func TestDistanceFeet(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{name: "identical points", lat1: 40.1, lon1: -88.2, lat2: 40.1, lon2: -88.2, want: 0, tolerance: 0},
		{name: "identical at equator", want: 0, tolerance: 0},
		// 0.01 deg of latitude is 6371000 * 0.01*pi/180 m ~= 1111.95 m ~= 3648.1 ft
		{name: "hundredth degree north", lat1: 40.1, lon1: -88.2, lat2: 40.11, lon2: -88.2, want: 3648.1, tolerance: 0.5},
		{name: "hundredth degree of longitude at equator", lat1: 0, lon1: 10, lat2: 0, lon2: 10.01, want: 3648.1, tolerance: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceFeet(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceFeet() = %v, want %v (+-%v)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceFeetSymmetric(t *testing.T) {
	a := DistanceFeet(40.1, -88.2, 40.2, -88.3)
	b := DistanceFeet(40.2, -88.3, 40.1, -88.2)
	if a != b {
		t.Errorf("distance not symmetric: %v != %v", a, b)
	}
	if a <= 0 {
		t.Errorf("distance between distinct points must be positive, got %v", a)
	}
}
