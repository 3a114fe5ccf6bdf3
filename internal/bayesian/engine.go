package bayesian

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	expstats "github.com/expstat/expstat/internal/stats"
)

const (
	// DefaultSamples is the Monte Carlo draw count per variant.
	DefaultSamples = 10000

	// chunkSize fixes how draws are split across workers, so a seeded engine
	// returns the same numbers whatever the worker count.
	chunkSize = 1000
)

// Probability is a variant's chance of having the highest conversion rate.
type Probability struct {
	VariantID   string  `json:"variantId"`
	Probability float64 `json:"probability"`
}

// Loss is the expected conversion-rate shortfall of choosing a variant.
type Loss struct {
	VariantID string  `json:"variantId"`
	Loss      float64 `json:"loss"`
}

// Engine runs the Monte Carlo parts of the Bayesian analysis. It owns its
// random source; concurrent calls are safe.
type Engine struct {
	mu      sync.Mutex
	rng     *rand.Rand
	workers int
}

// NewEngine returns an engine drawing from src with up to workers
// goroutines per simulation.
func NewEngine(src rand.Source, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{rng: rand.New(src), workers: workers}
}

// simulation holds the raw outcome of one Monte Carlo run.
type simulation struct {
	wins   []int       // per variant
	losses [][]float64 // per variant, per draw
}

func (e *Engine) simulate(variants []Posterior, samples int) (*simulation, error) {
	if len(variants) < 2 {
		return nil, fmt.Errorf("%w: got %d", expstats.ErrInsufficientVariants, len(variants))
	}
	if samples < 1 {
		return nil, fmt.Errorf("%w: samples %d must be positive", expstats.ErrInvalidRange, samples)
	}
	for _, v := range variants {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	chunks := (samples + chunkSize - 1) / chunkSize
	seeds := e.seeds(chunks)

	sim := &simulation{
		wins:   make([]int, len(variants)),
		losses: make([][]float64, len(variants)),
	}
	for i := range sim.losses {
		sim.losses[i] = make([]float64, samples)
	}
	chunkWins := make([][]int, chunks)

	var g errgroup.Group
	g.SetLimit(e.workers)

	for c := 0; c < chunks; c++ {
		start := c * chunkSize
		end := min(start+chunkSize, samples)
		seed := seeds[c]

		g.Go(func() error {
			src := rand.NewPCG(seed[0], seed[1])
			samplers := make([]func() float64, len(variants))
			for i, v := range variants {
				samplers[i] = expstats.BetaSampler(src, v.AlphaPost, v.BetaPost)
			}

			wins := make([]int, len(variants))
			draws := make([]float64, len(variants))
			for s := start; s < end; s++ {
				best := 0
				for i, draw := range samplers {
					draws[i] = draw()
					if draws[i] > draws[best] {
						best = i
					}
				}
				wins[best]++
				for i := range draws {
					sim.losses[i][s] = draws[best] - draws[i]
				}
			}
			chunkWins[c] = wins
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, wins := range chunkWins {
		for i, w := range wins {
			sim.wins[i] += w
		}
	}
	return sim, nil
}

func (e *Engine) seeds(n int) [][2]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	seeds := make([][2]uint64, n)
	for i := range seeds {
		seeds[i] = [2]uint64{e.rng.Uint64(), e.rng.Uint64()}
	}
	return seeds
}

func (sim *simulation) probabilities(variants []Posterior, samples int) []Probability {
	out := make([]Probability, len(variants))
	for i, v := range variants {
		out[i] = Probability{VariantID: v.VariantID, Probability: float64(sim.wins[i]) / float64(samples)}
	}
	return out
}

func (sim *simulation) expectedLoss(variants []Posterior) ([]Loss, error) {
	out := make([]Loss, len(variants))
	for i, v := range variants {
		mean, err := stats.Mean(sim.losses[i])
		if err != nil {
			return nil, fmt.Errorf("failed to average loss for variant %s: %w", v.VariantID, err)
		}
		out[i] = Loss{VariantID: v.VariantID, Loss: mean}
	}
	return out, nil
}

// ProbabilityBest estimates, for every variant, the share of joint posterior
// draws in which it has the highest rate.
func (e *Engine) ProbabilityBest(variants []Posterior, samples int) ([]Probability, error) {
	sim, err := e.simulate(variants, samples)
	if err != nil {
		return nil, err
	}
	return sim.probabilities(variants, samples), nil
}

// ExpectedLoss estimates E[max(rates) - rate_i] for every variant.
func (e *Engine) ExpectedLoss(variants []Posterior, samples int) ([]Loss, error) {
	sim, err := e.simulate(variants, samples)
	if err != nil {
		return nil, err
	}
	return sim.expectedLoss(variants)
}

// ShouldStop applies the Bayesian stopping rule: stop once one variant's
// probability of being best reaches threshold, but never while any variant
// has fewer than minSampleSize observations.
func (e *Engine) ShouldStop(variants []Posterior, threshold float64, minSampleSize, samples int) (*StopDecision, error) {
	if !(threshold > 0 && threshold < 1) {
		return nil, fmt.Errorf("%w: threshold %v must be in (0, 1)", expstats.ErrInvalidRange, threshold)
	}
	if len(variants) < 2 {
		return nil, fmt.Errorf("%w: got %d", expstats.ErrInsufficientVariants, len(variants))
	}

	smallest := variants[0].Observations()
	for _, v := range variants[1:] {
		smallest = min(smallest, v.Observations())
	}
	if smallest < minSampleSize {
		return &StopDecision{
			Reason: fmt.Sprintf("minimum sample size not reached (%d of %d per variant)", smallest, minSampleSize),
		}, nil
	}

	probs, err := e.ProbabilityBest(variants, samples)
	if err != nil {
		return nil, err
	}
	return decideStop(probs, threshold), nil
}
