package adjustment

import (
	"math/rand/v2"
	"strconv"
)

// RandomValues returns n values uniformly drawn from [-100, 100] and
// formatted with two decimals. A nil rng uses the global source.
func RandomValues(rng *rand.Rand, n int) Values {
	draw := rand.Float64
	if rng != nil {
		draw = rng.Float64
	}

	out := make(Values, n)
	for i := range out {
		out[i] = strconv.FormatFloat(draw()*200-100, 'f', 2, 64)
	}
	return out
}

// AutoFill writes random values into every group without validating them
func AutoFill(rng *rand.Rand, groups ...*Group) {
	for _, g := range groups {
		g.Fill(RandomValues(rng, g.Size()))
	}
}
