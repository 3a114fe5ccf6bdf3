package bandit_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/stats"
)

func newSelector(seed uint64) *bandit.Selector {
	return bandit.NewSelector(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func arms(t *testing.T, ids ...string) []bandit.Arm {
	t.Helper()
	alloc := bandit.EvenAllocation(len(ids))
	specs := make([]bandit.ArmSpec, len(ids))
	for i, id := range ids {
		specs[i] = bandit.ArmSpec{VariantID: id, InitialAllocation: alloc[i]}
	}
	a, err := bandit.Initialize(specs, bandit.Thompson)
	require.NoError(t, err)
	return a
}

func TestInitialize(t *testing.T) {
	a := arms(t, "a", "b", "c")
	require.Len(t, a, 3)
	for _, arm := range a {
		assert.InDelta(t, 100.0/3, arm.CurrentAllocation, 1e-9)
		assert.Equal(t, arm.InitialAllocation, arm.CurrentAllocation)
		assert.Zero(t, arm.Pulls)
	}
}

func TestInitialize_Rejects(t *testing.T) {
	_, err := bandit.Initialize([]bandit.ArmSpec{{VariantID: "a"}, {VariantID: "b"}}, "softmax")
	assert.ErrorIs(t, err, stats.ErrInvalidRange)

	_, err = bandit.Initialize([]bandit.ArmSpec{{VariantID: "a"}}, bandit.UCB)
	assert.ErrorIs(t, err, stats.ErrInsufficientVariants)

	_, err = bandit.Initialize([]bandit.ArmSpec{{VariantID: "a", InitialAllocation: -5}, {VariantID: "b"}}, bandit.UCB)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)
}

func TestEpsilonGreedy_ZeroEpsilonExploits(t *testing.T) {
	a := arms(t, "a", "b", "c")
	a[0].MeanReward = 0.1
	a[1].MeanReward = 0.4
	a[2].MeanReward = 0.2

	s := newSelector(1)
	for range 100 {
		i, err := s.EpsilonGreedy(a, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, i)
	}
}

func TestEpsilonGreedy_TiesGoToLowestIndex(t *testing.T) {
	a := arms(t, "a", "b", "c")
	a[1].MeanReward = 0.3
	a[2].MeanReward = 0.3

	i, err := newSelector(1).EpsilonGreedy(a, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, i)
}

func TestEpsilonGreedy_FullExplorationReachesEveryArm(t *testing.T) {
	a := arms(t, "a", "b", "c")
	a[0].MeanReward = 0.9

	s := newSelector(2)
	seen := map[int]bool{}
	for range 300 {
		i, err := s.EpsilonGreedy(a, 1)
		require.NoError(t, err)
		seen[i] = true
	}
	assert.Len(t, seen, 3)
}

func TestEpsilonGreedy_RejectsBadEpsilon(t *testing.T) {
	_, err := newSelector(1).EpsilonGreedy(arms(t, "a", "b"), 1.5)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)
}

func TestUpperConfidenceBound_TriesUnpulledArmFirst(t *testing.T) {
	a := arms(t, "a", "b", "c")
	a[0].Pulls, a[0].MeanReward = 50, 0.9
	a[1].Pulls, a[1].MeanReward = 50, 0.8

	assert.Equal(t, 2, bandit.UpperConfidenceBound(a))
}

func TestUpperConfidenceBound_FavorsLessExploredArm(t *testing.T) {
	a := arms(t, "a", "b")
	a[0].Pulls, a[0].MeanReward = 1000, 0.5
	a[1].Pulls, a[1].MeanReward = 10, 0.45

	assert.Equal(t, 1, bandit.UpperConfidenceBound(a))
}

func TestThompsonSampling_FavorsStrongArm(t *testing.T) {
	a := arms(t, "weak", "strong")
	a[0].Successes, a[0].Failures = 10, 90
	a[1].Successes, a[1].Failures = 50, 50

	s := newSelector(3)
	strong := 0
	for range 200 {
		i, err := s.ThompsonSampling(a)
		require.NoError(t, err)
		if i == 1 {
			strong++
		}
	}
	assert.Greater(t, strong, 190)
}

func TestThompsonSampling_DeterministicForSeed(t *testing.T) {
	a := arms(t, "a", "b", "c")

	pick := func() []int {
		s := newSelector(42)
		out := make([]int, 20)
		for i := range out {
			idx, err := s.ThompsonSampling(a)
			require.NoError(t, err)
			out[i] = idx
		}
		return out
	}
	assert.Equal(t, pick(), pick())
}

func TestSelect_CountsPull(t *testing.T) {
	a := arms(t, "a", "b")

	i, err := newSelector(1).Select(a, bandit.UCB, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	assert.Equal(t, 1, a[0].Pulls)
	assert.Equal(t, 1, a[0].Pending())

	_, err = newSelector(1).Select(a, "softmax", 0)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)
}

func TestUpdateReward_ResolvesPendingPull(t *testing.T) {
	a := arms(t, "a", "b")
	_, err := newSelector(1).Select(a, bandit.UCB, 0)
	require.NoError(t, err)

	u, err := bandit.UpdateReward(a, "a", 1)
	require.NoError(t, err)

	assert.Equal(t, 1, a[0].Pulls)
	assert.Equal(t, 1, a[0].Successes)
	assert.Equal(t, 1.0, a[0].MeanReward)
	assert.Equal(t, 1, u.ResolvedPulls)
	assert.Equal(t, a[0], u.Arm)
}

func TestUpdateReward_CountsPullWithoutSelection(t *testing.T) {
	a := arms(t, "a", "b")

	_, err := bandit.UpdateReward(a, "b", 0)
	require.NoError(t, err)
	_, err = bandit.UpdateReward(a, "b", 1)
	require.NoError(t, err)

	assert.Equal(t, 2, a[1].Pulls)
	assert.Equal(t, 0, a[1].Pending())
	assert.Equal(t, 0.5, a[1].MeanReward)
}

func TestUpdateReward_Rejects(t *testing.T) {
	a := arms(t, "a", "b")

	_, err := bandit.UpdateReward(a, "a", 2)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)

	_, err = bandit.UpdateReward(a, "zzz", 1)
	assert.ErrorIs(t, err, stats.ErrInvalidRange)
}

func TestUpdateReward_ReallocatesEveryTenPulls(t *testing.T) {
	a := arms(t, "a", "b")

	var last *bandit.Update
	for i := range 10 {
		id := "a"
		if i >= 7 {
			id = "b"
		}
		u, err := bandit.UpdateReward(a, id, 1)
		require.NoError(t, err)
		if i < 9 {
			assert.False(t, u.Reallocated)
		}
		last = u
	}

	assert.True(t, last.Reallocated)
	assert.InDelta(t, 70.0, a[0].CurrentAllocation, 1e-9)
	assert.InDelta(t, 30.0, a[1].CurrentAllocation, 1e-9)
	assert.InDelta(t, 100.0, a[0].CurrentAllocation+a[1].CurrentAllocation, 1e-9)
	assert.Equal(t, 50.0, a[0].InitialAllocation)
}

func TestUpdateReward_CadenceCountsResolvedPulls(t *testing.T) {
	a := arms(t, "a", "b")
	_, err := newSelector(1).Select(a, bandit.UCB, 0)
	require.NoError(t, err)
	require.Equal(t, 1, a[0].Pending())

	for range 9 {
		u, err := bandit.UpdateReward(a, "b", 0)
		require.NoError(t, err)
		assert.False(t, u.Reallocated)
	}
	// ten pulls made but only nine resolved
	assert.Equal(t, 10, a[0].Pulls+a[1].Pulls)
	assert.Equal(t, 50.0, a[0].CurrentAllocation)

	u, err := bandit.UpdateReward(a, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, 10, u.ResolvedPulls)
	assert.True(t, u.Reallocated)
	assert.InDelta(t, 10.0, a[0].CurrentAllocation, 1e-9)
	assert.InDelta(t, 90.0, a[1].CurrentAllocation, 1e-9)
}

func feed(t *testing.T, a []bandit.Arm) []bandit.RegretSnapshot {
	t.Helper()
	var snaps []bandit.RegretSnapshot
	for i := range 100 {
		id, reward := "a", 0
		if i%2 == 0 {
			id = "b"
		}
		if i%3 == 0 {
			reward = 1
		}
		u, err := bandit.UpdateReward(a, id, reward)
		require.NoError(t, err)
		if u.Regret != nil {
			snaps = append(snaps, *u.Regret)
		}
	}
	return snaps
}

func TestUpdateReward_RegretSnapshotsEveryFiftyPulls(t *testing.T) {
	first := feed(t, arms(t, "a", "b"))
	require.Len(t, first, 2)
	assert.Equal(t, 50, first[0].TotalPulls)
	assert.Equal(t, 100, first[1].TotalPulls)

	replay := feed(t, arms(t, "a", "b"))
	assert.Equal(t, first, replay)
}

func TestRegret(t *testing.T) {
	a := arms(t, "a", "b")
	a[0].Pulls, a[0].Successes, a[0].Failures, a[0].CumulativeReward = 20, 10, 10, 10
	a[1].Pulls, a[1].Successes, a[1].Failures, a[1].CumulativeReward = 20, 2, 18, 2

	assert.InDelta(t, 8.0, bandit.Regret(a), 1e-9)
	assert.Zero(t, bandit.Regret(arms(t, "x", "y")))
}

func TestResults(t *testing.T) {
	a := arms(t, "a", "b")
	snaps := feed(t, a)

	r := bandit.Results(bandit.EpsilonGreedy, a, snaps)
	assert.Equal(t, bandit.EpsilonGreedy, r.Algorithm)
	require.Len(t, r.Allocations, 2)
	assert.Equal(t, snaps, r.RegretHistory)
	assert.GreaterOrEqual(t, r.TotalRegret, 0.0)
	assert.Equal(t, a[0].CumulativeReward+a[1].CumulativeReward, r.TotalReward)
	assert.NotEmpty(t, r.BestPerformer)
	assert.Contains(t, r.Summary, r.BestPerformer)
	for _, alloc := range r.Allocations {
		assert.GreaterOrEqual(t, alloc.RewardStdDev, 0.0)
		assert.LessOrEqual(t, alloc.RewardStdDev, 0.5)
	}
}

func TestResults_NoPulls(t *testing.T) {
	r := bandit.Results(bandit.UCB, arms(t, "a", "b"), nil)

	assert.Empty(t, r.BestPerformer)
	assert.NotNil(t, r.RegretHistory)
	assert.Contains(t, r.Summary, "no pulls yet")
}
