package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"GoalSentinel/internal/calculator"
	"GoalSentinel/internal/model"
)

const (
	// MaxIterations caps the number of paths of one run.
	MaxIterations = 10000
	// TailFraction is the share of worst paths averaged for expected shortfall.
	TailFraction = 0.05

	cancelCheckEvery = 256
)

var (
	ErrInvalidIterations = errors.New("iterations must be at least 1")
	ErrIterationsTooHigh = fmt.Errorf("iterations must not exceed %d", MaxIterations)
	ErrDegenerate        = errors.New("degenerate simulation parameters or outcome")
	ErrUnknownTier       = errors.New("unknown risk tier")
)

// Params describes one Monte Carlo projection in plain numbers.
type Params struct {
	Current    float64
	Target     float64
	Monthly    float64
	Horizon    int
	Model      model.TierParams
	Iterations int
}

// Outcome is the reduced statistics of all simulated final balances.
type Outcome struct {
	P1                 float64
	P10                float64
	P50                float64
	P90                float64
	SuccessProbability float64
	ExpectedShortfall  float64
	// Paths is the number of paths actually simulated; zero when the run
	// short-circuited because the target is already met.
	Paths int
}

func (p Params) validate() error {
	if p.Iterations < 1 {
		return ErrInvalidIterations
	}
	if p.Iterations > MaxIterations {
		return ErrIterationsTooHigh
	}
	if !calculator.Finite(p.Current, p.Target, p.Monthly, p.Model.MeanReturn, p.Model.Volatility) {
		return fmt.Errorf("%w: non-finite input", ErrDegenerate)
	}
	if p.Model.Volatility <= 0 {
		return fmt.Errorf("%w: volatility must be positive", ErrDegenerate)
	}
	if p.Current < 0 || p.Monthly < 0 {
		return fmt.Errorf("%w: negative amounts", ErrDegenerate)
	}
	return nil
}

// Run simulates p.Iterations geometric-Brownian-motion paths with constant
// monthly contributions, splitting the paths across workers. Each worker owns
// the Source returned by sources for its index, so a seeded factory and a
// fixed worker count give reproducible results.
func Run(ctx context.Context, p Params, sources SourceFactory, workers int) (Outcome, error) {
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}
	if p.Horizon < 1 {
		p.Horizon = 1
	}

	if p.Target <= 0 || p.Current >= p.Target {
		return Outcome{
			P1: p.Current, P10: p.Current, P50: p.Current, P90: p.Current,
			SuccessProbability: 1,
		}, nil
	}

	if workers < 1 {
		workers = 1
	}
	if workers > p.Iterations {
		workers = p.Iterations
	}

	drift := (p.Model.MeanReturn - 0.5*p.Model.Volatility*p.Model.Volatility) / 12
	diffusion := p.Model.Volatility * math.Sqrt(1.0/12)

	finals := make([]float64, p.Iterations)
	chunk := (p.Iterations + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, p.Iterations)
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			gen := NewPathGenerator(sources(w))
			for i := lo; i < hi; i++ {
				if (i-lo)%cancelCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						errs[w] = err
						return
					}
				}
				balance := p.Current
				for m := 0; m < p.Horizon; m++ {
					balance = balance*math.Exp(drift+diffusion*gen.Normal()) + p.Monthly
				}
				finals[i] = balance
			}
		}(w, lo, hi)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return Outcome{}, err
	}

	return reduce(finals, p.Target)
}

func reduce(finals []float64, target float64) (Outcome, error) {
	if !calculator.Finite(finals...) {
		return Outcome{}, fmt.Errorf("%w: non-finite final balance", ErrDegenerate)
	}
	sort.Float64s(finals)

	out := Outcome{
		SuccessProbability: calculator.FractionAtLeast(finals, target),
		Paths:              len(finals),
	}
	var err error
	if out.P1, err = calculator.Percentile(finals, 0.01); err != nil {
		return Outcome{}, err
	}
	if out.P10, err = calculator.Percentile(finals, 0.10); err != nil {
		return Outcome{}, err
	}
	if out.P50, err = calculator.Percentile(finals, 0.50); err != nil {
		return Outcome{}, err
	}
	if out.P90, err = calculator.Percentile(finals, 0.90); err != nil {
		return Outcome{}, err
	}

	tail, err := calculator.TailMean(finals, TailFraction)
	if err != nil {
		return Outcome{}, err
	}
	out.ExpectedShortfall = math.Max(0, target-tail)

	if !calculator.Finite(out.P1, out.P10, out.P50, out.P90, out.SuccessProbability, out.ExpectedShortfall) {
		return Outcome{}, fmt.Errorf("%w: non-finite statistic", ErrDegenerate)
	}
	return out, nil
}
