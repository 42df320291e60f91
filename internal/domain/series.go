package domain

import "time"

// Point is a single observation of the forecast quantity.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is a time-ordered slice of observations, oldest first.
type Series []Point

// Values extracts the raw observation values in series order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Tail returns the last n points, or the whole series if it is shorter.
func (s Series) Tail(n int) Series {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
