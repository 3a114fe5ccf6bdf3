package power_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expstat/expstat/internal/power"
	"github.com/expstat/expstat/internal/stats"
)

func TestSampleSize_KnownValue(t *testing.T) {
	// 10% -> 12%, 80% power, alpha 0.05: textbook answer is ~3,841 per arm
	n, err := power.SampleSize(0.10, 0.02, 0.80, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 3841, n, 5)
}

func TestSampleSize_DecreasingInMDE(t *testing.T) {
	prev := 0
	for i, mde := range []float64{0.20, 0.10, 0.05, 0.02, 0.01} {
		n, err := power.SampleSize(0.10, mde, 0.80, 0.05)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, n, prev, "mde=%v", mde)
		}
		prev = n
	}
}

func TestSampleSize_IncreasingInPower(t *testing.T) {
	prev := 0
	for i, pw := range []float64{0.50, 0.70, 0.80, 0.90, 0.95} {
		n, err := power.SampleSize(0.10, 0.02, pw, 0.05)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, n, prev, "power=%v", pw)
		}
		prev = n
	}
}

func TestSampleSize_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name     string
		baseline float64
		mde      float64
		power    float64
		alpha    float64
	}{
		{"zero baseline", 0, 0.02, 0.8, 0.05},
		{"baseline one", 1, 0.02, 0.8, 0.05},
		{"zero mde", 0.1, 0, 0.8, 0.05},
		{"mde above one", 0.1, 1.5, 0.8, 0.05},
		{"lift past one", 0.9, 0.2, 0.8, 0.05},
		{"power one", 0.1, 0.02, 1, 0.05},
		{"alpha zero", 0.1, 0.02, 0.8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := power.SampleSize(tt.baseline, tt.mde, tt.power, tt.alpha)
			assert.ErrorIs(t, err, stats.ErrInvalidRange)
		})
	}
}

func TestPower_MatchesPlannedSampleSize(t *testing.T) {
	n, err := power.SampleSize(0.10, 0.02, 0.80, 0.05)
	require.NoError(t, err)

	p, err := power.Power(n, 0.10, 0.02, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 0.80, p, 0.002)
	assert.Greater(t, p, 0.0)
	assert.Less(t, p, 1.0)
}

func TestPower_StaysInsideUnitInterval(t *testing.T) {
	p, err := power.Power(10_000_000, 0.10, 0.20, 0.05)
	require.NoError(t, err)
	assert.Less(t, p, 1.0)

	p, err = power.Power(1, 0.10, 0.001, 0.05)
	require.NoError(t, err)
	assert.Greater(t, p, 0.0)
}

func TestMDE_InvertsSampleSize(t *testing.T) {
	n, err := power.SampleSize(0.10, 0.02, 0.80, 0.05)
	require.NoError(t, err)

	mde, err := power.MDE(n, 0.10, 0.80, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 0.02, mde, 1e-4)
	assert.Greater(t, mde, 0.0)
	assert.Less(t, mde, 1.0)
}

func TestMDE_ShrinksWithMoreData(t *testing.T) {
	small, err := power.MDE(500, 0.10, 0.80, 0.05)
	require.NoError(t, err)
	large, err := power.MDE(50000, 0.10, 0.80, 0.05)
	require.NoError(t, err)

	assert.Greater(t, small, large)
}

func TestCurve_AscendingSampleSizesAndPower(t *testing.T) {
	points, err := power.Curve(0.10, 0.02, 0.05)
	require.NoError(t, err)
	require.Len(t, points, len(power.CurveSampleSizes))

	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].SampleSize, points[i-1].SampleSize)
		assert.GreaterOrEqual(t, points[i].Power, points[i-1].Power)
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		perVariant, variants, daily int
		want                        int
	}{
		{1000, 2, 100, 20},
		{550, 2, 100, 11},
		{1, 2, 1000, 1},
		{333, 3, 100, 10},
	}

	for _, tt := range tests {
		got, err := power.EstimateDuration(tt.perVariant, tt.variants, tt.daily)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "EstimateDuration(%d, %d, %d)", tt.perVariant, tt.variants, tt.daily)
	}
}

func TestEstimateDuration_RejectsZeroVolume(t *testing.T) {
	_, err := power.EstimateDuration(1000, 2, 0)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)
}

func TestPlan_BuildsRecord(t *testing.T) {
	a, err := power.Plan(power.Request{BaselineRate: 0.10, MDE: 0.02, DailyVolume: 1000})
	require.NoError(t, err)

	assert.Equal(t, power.DefaultPower, a.Power)
	assert.Equal(t, power.DefaultAlpha, a.Alpha)
	assert.InDelta(t, 0.2, a.RelativeLift, 1e-12)
	assert.Equal(t, a.SampleSizePerVariant*2, a.TotalSampleSize)
	require.NotNil(t, a.EstimatedDuration)

	want, err := power.EstimateDuration(a.SampleSizePerVariant, 2, 1000)
	require.NoError(t, err)
	assert.Equal(t, want, *a.EstimatedDuration)
}

func TestPlan_WithoutVolumeHasNoDuration(t *testing.T) {
	a, err := power.Plan(power.Request{BaselineRate: 0.05, MDE: 0.01, VariantCount: 3})
	require.NoError(t, err)

	assert.Nil(t, a.EstimatedDuration)
	assert.Equal(t, a.SampleSizePerVariant*3, a.TotalSampleSize)
}
