package search

import (
	"github.com/halcyonquant/retune/internal/domain"
)

// Space is the discrete hyperparameter grid for one horizon. The Cartesian
// product of the three axes is the candidate set.
type Space struct {
	ContextLengths []int     `yaml:"context_lengths"` // days
	NumSamples     []int     `yaml:"num_samples"`
	Temperatures   []float64 `yaml:"temperatures"`
}

// Size returns the number of grid combinations.
func (s Space) Size() int {
	return len(s.ContextLengths) * len(s.NumSamples) * len(s.Temperatures)
}

// combination is one grid point, with its deterministic enumeration index
// used for first-found tie breaking.
type combination struct {
	index         int
	contextLength int
	numSamples    int
	temperature   float64
}

// enumerate expands the grid in a fixed order: context length outermost,
// temperature innermost. Repeated runs over the same space always see the
// same ordering.
func (s Space) enumerate() []combination {
	combos := make([]combination, 0, s.Size())
	idx := 0
	for _, cl := range s.ContextLengths {
		for _, ns := range s.NumSamples {
			for _, temp := range s.Temperatures {
				combos = append(combos, combination{
					index:         idx,
					contextLength: cl,
					numSamples:    ns,
					temperature:   temp,
				})
				idx++
			}
		}
	}
	return combos
}

// DefaultSpace returns the grid for a horizon. Context-length candidates
// widen with the lead time; sample counts and temperatures are shared.
func DefaultSpace(h domain.Horizon) Space {
	space := Space{
		NumSamples:   []int{50, 100, 200},
		Temperatures: []float64{0.8, 1.0, 1.2},
	}
	switch h {
	case domain.Horizon7d:
		space.ContextLengths = []int{90, 180, 270}
	case domain.Horizon15d:
		space.ContextLengths = []int{120, 240, 360}
	case domain.Horizon30d:
		space.ContextLengths = []int{180, 365, 540}
	case domain.Horizon90d:
		space.ContextLengths = []int{365, 540, 730}
	default:
		space.ContextLengths = []int{90, 180, 270}
	}
	return space
}
