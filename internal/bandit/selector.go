package bandit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/expstat/expstat/internal/stats"
)

// Selector picks arms. It owns its random source; concurrent calls are safe.
type Selector struct {
	mu  sync.Mutex
	src rand.Source
	rng *rand.Rand
}

// NewSelector returns a selector drawing from src.
func NewSelector(src rand.Source) *Selector {
	return &Selector{src: src, rng: rand.New(src)}
}

// Select picks an arm with algorithm and counts the pull on it. The
// returned index is into arms.
func (s *Selector) Select(arms []Arm, algorithm Algorithm, epsilon float64) (int, error) {
	if len(arms) == 0 {
		return 0, fmt.Errorf("%w: no arms", stats.ErrInsufficientVariants)
	}

	var (
		i   int
		err error
	)
	switch algorithm {
	case Thompson:
		i, err = s.ThompsonSampling(arms)
	case UCB:
		i = UpperConfidenceBound(arms)
	case EpsilonGreedy:
		i, err = s.EpsilonGreedy(arms, epsilon)
	default:
		_, err = ParseAlgorithm(string(algorithm))
	}
	if err != nil {
		return 0, err
	}

	arms[i].Pulls++
	return i, nil
}

// ThompsonSampling draws Beta(successes+1, failures+1) for every arm and
// returns the index of the highest draw.
func (s *Selector) ThompsonSampling(arms []Arm) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best, bestDraw := 0, -1.0
	for i, a := range arms {
		draw, err := stats.BetaSample(s.src, float64(a.Successes+1), float64(a.Failures+1))
		if err != nil {
			return 0, err
		}
		if draw > bestDraw {
			best, bestDraw = i, draw
		}
	}
	return best, nil
}

// UpperConfidenceBound implements UCB1. An arm that was never pulled scores
// +Inf, so every arm is tried once before any exploitation.
func UpperConfidenceBound(arms []Arm) int {
	total := 0
	for _, a := range arms {
		total += a.Pulls
	}

	best, bestScore := 0, math.Inf(-1)
	for i, a := range arms {
		if a.Pulls == 0 {
			return i
		}
		score := a.MeanReward + math.Sqrt(2*math.Log(float64(total))/float64(a.Pulls))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// EpsilonGreedy explores a uniformly random arm with probability epsilon
// and otherwise exploits the highest mean reward. Epsilon 0 never touches
// the random source.
func (s *Selector) EpsilonGreedy(arms []Arm, epsilon float64) (int, error) {
	if !(epsilon >= 0 && epsilon <= 1) {
		return 0, fmt.Errorf("%w: epsilon %v must be in [0, 1]", stats.ErrInvalidRange, epsilon)
	}

	if epsilon > 0 {
		s.mu.Lock()
		explore := s.rng.Float64() < epsilon
		pick := s.rng.IntN(len(arms))
		s.mu.Unlock()
		if explore {
			return pick, nil
		}
	}

	return bestMean(arms), nil
}

// bestMean returns the arm with the highest mean reward; ties go to the
// lower index.
func bestMean(arms []Arm) int {
	best := 0
	for i, a := range arms {
		if a.MeanReward > arms[best].MeanReward {
			best = i
		}
	}
	return best
}
