package domain

import (
	"fmt"
)

// Horizon identifies a forecast lead time with its own independent
// configuration lifecycle.
type Horizon string

const (
	Horizon7d  Horizon = "7d"
	Horizon15d Horizon = "15d"
	Horizon30d Horizon = "30d"
	Horizon90d Horizon = "90d"
)

// AllHorizons returns every known horizon in lead-time order.
func AllHorizons() []Horizon {
	return []Horizon{Horizon7d, Horizon15d, Horizon30d, Horizon90d}
}

// ParseHorizon validates a horizon string from CLI flags or config files.
func ParseHorizon(s string) (Horizon, error) {
	for _, h := range AllHorizons() {
		if string(h) == s {
			return h, nil
		}
	}
	return "", fmt.Errorf("unknown horizon %q (known: 7d, 15d, 30d, 90d)", s)
}

// Days returns the lead time in days.
func (h Horizon) Days() int {
	switch h {
	case Horizon7d:
		return 7
	case Horizon15d:
		return 15
	case Horizon30d:
		return 30
	case Horizon90d:
		return 90
	default:
		return 0
	}
}

func (h Horizon) String() string {
	return string(h)
}
