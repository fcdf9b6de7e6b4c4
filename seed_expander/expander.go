package seed_expander

import (
	"fmt"

	"diffusion_sweeper/entities"
)

// MaxIntervalLength caps how many seeds one interval may expand to.
const MaxIntervalLength = 1_000_000

// Expand turns the configured seed values into the ordered seeds to generate.
//
// In interval mode values must be [start, end) and the result is
// start, start+1, ..., end-1 (empty when start >= end). Any other mode
// returns a copy of values in their original order. Intervals longer than
// MaxIntervalLength are rejected.
func Expand(mode entities.GenType, values []int64) ([]int64, error) {
	if mode != entities.GenTypeInterval {
		seeds := make([]int64, len(values))
		copy(seeds, values)

		return seeds, nil
	}

	if len(values) != 2 {
		return nil, fmt.Errorf("interval seeds need exactly [start, end], got %d values", len(values))
	}

	start, end := values[0], values[1]

	if start >= end {
		return []int64{}, nil
	}

	// end > start, so the unsigned difference is exact even when end-start
	// overflows int64
	length := uint64(end) - uint64(start)
	if length > MaxIntervalLength {
		return nil, fmt.Errorf("interval [%d, %d) has %d seeds, more than %d", start, end, length, MaxIntervalLength)
	}

	seeds := make([]int64, 0, int(length))

	for seed := start; seed < end; seed++ {
		seeds = append(seeds, seed)
	}

	return seeds, nil
}
