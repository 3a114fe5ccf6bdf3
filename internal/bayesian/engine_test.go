package bayesian_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/stats"
)

func newEngine(seed uint64) *bayesian.Engine {
	return bayesian.NewEngine(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15), 4)
}

func posterior(t *testing.T, id string, successes, failures int) bayesian.Posterior {
	t.Helper()

	p, err := bayesian.NewPosterior(id, bayesian.DefaultPrior)
	require.NoError(t, err)
	for i := 0; i < successes; i++ {
		p = bayesian.UpdatePosterior(p, true)
	}
	for i := 0; i < failures; i++ {
		p = bayesian.UpdatePosterior(p, false)
	}
	return p
}

func TestInitialize_DefaultAndCustomPriors(t *testing.T) {
	posteriors, err := bayesian.Initialize([]string{"a", "b"}, map[string]bayesian.Prior{
		"b": {Alpha: 2, Beta: 8},
	})
	require.NoError(t, err)
	require.Len(t, posteriors, 2)

	assert.Equal(t, 1.0, posteriors[0].AlphaPost)
	assert.Equal(t, 1.0, posteriors[0].BetaPost)
	assert.Equal(t, 2.0, posteriors[1].AlphaPrior)
	assert.Equal(t, 8.0, posteriors[1].BetaPost)
}

func TestInitialize_RejectsNonPositivePrior(t *testing.T) {
	_, err := bayesian.Initialize([]string{"a", "b"}, map[string]bayesian.Prior{
		"a": {Alpha: 0, Beta: 1},
	})
	assert.ErrorIs(t, err, stats.ErrInvalidPrior)

	_, err = bayesian.Initialize([]string{"a"}, map[string]bayesian.Prior{
		"a": {Alpha: 1, Beta: -2},
	})
	assert.ErrorIs(t, err, stats.ErrInvalidPrior)
}

func TestUpdatePosterior_FiveSuccessesThreeFailures(t *testing.T) {
	p := posterior(t, "a", 5, 3)

	assert.Equal(t, 6.0, p.AlphaPost)
	assert.Equal(t, 4.0, p.BetaPost)
	assert.Equal(t, 1.0, p.AlphaPrior)
	assert.Equal(t, 1.0, p.BetaPrior)
	assert.Equal(t, 8, p.Observations())
	assert.NoError(t, p.Validate())
}

func TestProbabilityBest_SumsToOne(t *testing.T) {
	cases := [][]bayesian.Posterior{
		{posterior(t, "a", 10, 90), posterior(t, "b", 12, 88)},
		{posterior(t, "a", 0, 0), posterior(t, "b", 0, 0), posterior(t, "c", 0, 0)},
		{posterior(t, "a", 50, 950), posterior(t, "b", 70, 930), posterior(t, "c", 40, 960), posterior(t, "d", 55, 945)},
	}

	for i, variants := range cases {
		probs, err := newEngine(uint64(i+1)).ProbabilityBest(variants, bayesian.DefaultSamples)
		require.NoError(t, err)
		require.Len(t, probs, len(variants))

		sum := 0.0
		for j, p := range probs {
			assert.Equal(t, variants[j].VariantID, p.VariantID)
			assert.GreaterOrEqual(t, p.Probability, 0.0)
			assert.LessOrEqual(t, p.Probability, 1.0)
			sum += p.Probability
		}
		assert.InDelta(t, 1.0, sum, 0.05)
	}
}

func TestProbabilityBest_FavoursBetterVariant(t *testing.T) {
	probs, err := newEngine(7).ProbabilityBest([]bayesian.Posterior{
		posterior(t, "a", 100, 900),
		posterior(t, "b", 150, 850),
	}, bayesian.DefaultSamples)
	require.NoError(t, err)

	assert.Greater(t, probs[1].Probability, 0.99)
}

func TestProbabilityBest_IdenticalPosteriorsSplitEvenly(t *testing.T) {
	probs, err := newEngine(11).ProbabilityBest([]bayesian.Posterior{
		posterior(t, "a", 30, 70),
		posterior(t, "b", 30, 70),
	}, bayesian.DefaultSamples)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, probs[0].Probability, 0.05)
}

func TestProbabilityBest_DeterministicForSeed(t *testing.T) {
	variants := []bayesian.Posterior{posterior(t, "a", 10, 40), posterior(t, "b", 12, 38)}

	first, err := newEngine(99).ProbabilityBest(variants, 5000)
	require.NoError(t, err)
	second, err := bayesian.NewEngine(rand.NewPCG(99, 99^0x9e3779b97f4a7c15), 1).ProbabilityBest(variants, 5000)
	require.NoError(t, err)

	assert.Equal(t, first, second, "worker count must not change seeded results")
}

func TestProbabilityBest_NeedsTwoVariants(t *testing.T) {
	_, err := newEngine(1).ProbabilityBest([]bayesian.Posterior{posterior(t, "a", 1, 1)}, 100)
	assert.ErrorIs(t, err, stats.ErrInsufficientVariants)
}

func TestProbabilityBest_RejectsZeroSamples(t *testing.T) {
	_, err := newEngine(1).ProbabilityBest([]bayesian.Posterior{posterior(t, "a", 1, 1), posterior(t, "b", 1, 1)}, 0)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)
}

func TestExpectedLoss_NonNegativeAndOrdered(t *testing.T) {
	losses, err := newEngine(5).ExpectedLoss([]bayesian.Posterior{
		posterior(t, "a", 100, 900),
		posterior(t, "b", 130, 870),
	}, bayesian.DefaultSamples)
	require.NoError(t, err)

	for _, l := range losses {
		assert.GreaterOrEqual(t, l.Loss, 0.0)
	}
	assert.Greater(t, losses[0].Loss, losses[1].Loss, "the weaker variant loses more")
}

func TestShouldStop_MinimumSampleGate(t *testing.T) {
	// Lopsided but sparse data must not stop the experiment
	decision, err := newEngine(3).ShouldStop([]bayesian.Posterior{
		posterior(t, "a", 0, 20),
		posterior(t, "b", 15, 5),
	}, 0.95, 100, bayesian.DefaultSamples)
	require.NoError(t, err)

	assert.False(t, decision.ShouldStop)
	assert.Empty(t, decision.WinnerID)
	assert.Contains(t, decision.Reason, "minimum sample size")
}

func TestShouldStop_DeclaresWinner(t *testing.T) {
	decision, err := newEngine(3).ShouldStop([]bayesian.Posterior{
		posterior(t, "a", 100, 900),
		posterior(t, "b", 200, 800),
	}, 0.95, 100, bayesian.DefaultSamples)
	require.NoError(t, err)

	assert.True(t, decision.ShouldStop)
	assert.Equal(t, "b", decision.WinnerID)
}

func TestShouldStop_ContinuesWhenClose(t *testing.T) {
	decision, err := newEngine(3).ShouldStop([]bayesian.Posterior{
		posterior(t, "a", 100, 900),
		posterior(t, "b", 101, 899),
	}, 0.95, 100, bayesian.DefaultSamples)
	require.NoError(t, err)

	assert.False(t, decision.ShouldStop)
}
