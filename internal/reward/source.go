package reward

import "math/rand/v2"

// Source provides the randomness for random rewards. *rand.Rand from
// math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
	Float64() float64
}

// globalSource uses the package-level generator, which is safe for
// concurrent use.
type globalSource struct{}

func (globalSource) IntN(n int) int {
	return rand.IntN(n)
}

func (globalSource) Float64() float64 {
	return rand.Float64()
}
