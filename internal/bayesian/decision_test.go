package bayesian_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/stats"
)

func TestCredibleInterval_Ordering(t *testing.T) {
	params := [][2]float64{{1, 1}, {6, 4}, {2, 200}, {200, 2}, {1001, 9001}, {1.5, 0.5}}

	for _, p := range params {
		ci, err := bayesian.CredibleInterval(p[0], p[1], 0.95)
		require.NoError(t, err)

		assert.Greater(t, ci.Lower, 0.0, "Beta%v", p)
		assert.Less(t, ci.Lower, ci.Mean, "Beta%v", p)
		assert.Less(t, ci.Mean, ci.Upper, "Beta%v", p)
		assert.Less(t, ci.Upper, 1.0, "Beta%v", p)
		assert.InDelta(t, p[0]/(p[0]+p[1]), ci.Mean, 1e-12)
	}
}

func TestCredibleInterval_UniformPrior(t *testing.T) {
	ci, err := bayesian.CredibleInterval(1, 1, 0.95)
	require.NoError(t, err)

	assert.InDelta(t, 0.025, ci.Lower, 1e-6)
	assert.InDelta(t, 0.975, ci.Upper, 1e-6)
}

func TestCredibleInterval_NarrowsWithConfidence(t *testing.T) {
	wide, err := bayesian.CredibleInterval(20, 80, 0.99)
	require.NoError(t, err)
	narrow, err := bayesian.CredibleInterval(20, 80, 0.80)
	require.NoError(t, err)

	assert.Less(t, wide.Lower, narrow.Lower)
	assert.Greater(t, wide.Upper, narrow.Upper)
}

func TestCredibleInterval_RejectsBadInput(t *testing.T) {
	_, err := bayesian.CredibleInterval(0, 1, 0.95)
	assert.ErrorIs(t, err, stats.ErrInvalidPrior)

	_, err = bayesian.CredibleInterval(1, 1, 1)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name    string
		results []bayesian.Probability
		want    bayesian.Decision
		variant string
	}{
		{
			name:    "declare winner",
			results: []bayesian.Probability{{VariantID: "a", Probability: 0.03}, {VariantID: "b", Probability: 0.97}},
			want:    bayesian.DeclareWinner,
			variant: "b",
		},
		{
			name:    "likely winner",
			results: []bayesian.Probability{{VariantID: "a", Probability: 0.85}, {VariantID: "b", Probability: 0.15}},
			want:    bayesian.LikelyWinner,
			variant: "a",
		},
		{
			name:    "continue",
			results: []bayesian.Probability{{VariantID: "a", Probability: 0.4}, {VariantID: "b", Probability: 0.35}, {VariantID: "c", Probability: 0.25}},
			want:    bayesian.Continue,
			variant: "a",
		},
		{
			name:    "exact winner threshold",
			results: []bayesian.Probability{{VariantID: "a", Probability: 0.05}, {VariantID: "b", Probability: 0.95}},
			want:    bayesian.DeclareWinner,
			variant: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := bayesian.Recommend(tt.results, bayesian.DefaultWinnerThreshold, bayesian.DefaultLikelyThreshold)
			require.NoError(t, err)

			assert.Equal(t, tt.want, rec.Decision)
			assert.Equal(t, tt.variant, rec.VariantID)
			assert.NotEmpty(t, rec.Message)
		})
	}
}

func TestRecommend_NeedsTwoVariants(t *testing.T) {
	_, err := bayesian.Recommend([]bayesian.Probability{{VariantID: "a", Probability: 1}}, 0.95, 0.8)
	assert.ErrorIs(t, err, stats.ErrInsufficientVariants)
}

func TestAnalyze_Report(t *testing.T) {
	variants := []bayesian.Posterior{
		posterior(t, "control", 100, 900),
		posterior(t, "treatment", 160, 840),
	}

	report, err := newEngine(21).Analyze(variants, bayesian.Options{})
	require.NoError(t, err)
	require.Len(t, report.Variants, 2)

	treatment := report.Variants[1]
	assert.Equal(t, "treatment", treatment.VariantID)
	assert.Equal(t, 161.0, treatment.Posterior.Alpha)
	assert.Equal(t, 841.0, treatment.Posterior.Beta)
	assert.Equal(t, 1000, treatment.Observations)
	assert.Greater(t, treatment.ProbabilityBest, 0.95)
	assert.Less(t, treatment.ExpectedLoss, report.Variants[0].ExpectedLoss)

	assert.Equal(t, bayesian.DeclareWinner, report.Recommendation.Decision)
	assert.Equal(t, "treatment", report.Recommendation.VariantID)
}
