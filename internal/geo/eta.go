package geo

import (
	"fmt"
	"math"
)

// ETAMinutes converts the straight-line distance between from and to at
// speedKmh into whole minutes, rounded to nearest and never negative.
// A non-positive speed yields 0.
func ETAMinutes(from, to Coordinate, speedKmh float64) int {
	return MinutesForDistance(Distance(from, to), speedKmh)
}

// MinutesForDistance is the time to cover km at speedKmh, in whole minutes.
func MinutesForDistance(km, speedKmh float64) int {
	if speedKmh <= 0 || km <= 0 {
		return 0
	}
	m := math.Round(km / speedKmh * 60)
	if m < 0 || math.IsNaN(m) {
		return 0
	}
	return int(m)
}

// FormatETA renders an ETA for display.
func FormatETA(minutes int) string {
	switch {
	case minutes < 1:
		return "Arriving now"
	case minutes == 1:
		return "1 min"
	case minutes < 60:
		return fmt.Sprintf("%d mins", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
