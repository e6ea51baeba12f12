package simulation

import (
	"math"
	"math/rand/v2"
)

// Source yields uniform draws in [0, 1). A Source is owned by a single path
// worker and need not be safe for concurrent use.
type Source interface {
	Float64() float64
}

// SourceFactory builds an independent Source for the given worker index.
type SourceFactory func(worker int) Source

// SeededSources returns a factory whose generators are fully determined by
// seed and the worker index.
func SeededSources(seed uint64) SourceFactory {
	return func(worker int) Source {
		return rand.New(rand.NewPCG(seed, uint64(worker)+1))
	}
}

// RandomSources returns a factory of independently, randomly seeded generators.
func RandomSources() SourceFactory {
	return func(int) Source {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// PathGenerator produces standard-normal shocks using the Box-Muller transform.
type PathGenerator struct {
	src Source
}

// NewPathGenerator wraps a uniform source.
func NewPathGenerator(src Source) *PathGenerator {
	return &PathGenerator{src: src}
}

// Normal returns one standard-normal draw built from two uniform draws.
func (g *PathGenerator) Normal() float64 {
	u1 := 1 - g.src.Float64() // (0, 1], keeps the log finite
	u2 := g.src.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
