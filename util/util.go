// Package util contains misc internal utilities.
package util

import "time"

// Clamp limits x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
// e.g., 1.5 => 1500 * time.Millisecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}
