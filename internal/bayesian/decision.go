package bayesian

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	expstats "github.com/expstat/expstat/internal/stats"
)

// Decision is the recommendation attached to the leading variant.
type Decision string

const (
	DeclareWinner Decision = "declare_winner"
	LikelyWinner  Decision = "likely_winner"
	Continue      Decision = "continue"
)

const (
	DefaultWinnerThreshold = 0.95
	DefaultLikelyThreshold = 0.80
	DefaultConfidence      = 0.95
	DefaultMinSampleSize   = 100
)

// Interval is an equal-tailed credible interval with the posterior mean.
type Interval struct {
	Lower float64 `json:"lower"`
	Mean  float64 `json:"mean"`
	Upper float64 `json:"upper"`
}

// Recommendation names the variant with the highest probability of being
// best and what to do about it.
type Recommendation struct {
	Decision   Decision `json:"decision"`
	VariantID  string   `json:"variant"`
	Confidence float64  `json:"confidence"`
	Message    string   `json:"message"`
}

// StopDecision is the outcome of the stopping rule. WinnerID is empty unless
// ShouldStop is set.
type StopDecision struct {
	ShouldStop bool   `json:"shouldStop"`
	WinnerID   string `json:"winnerId,omitempty"`
	Reason     string `json:"reason"`
}

// CredibleInterval returns the equal-tailed interval holding confidence of
// the Beta(alpha, beta) mass.
func CredibleInterval(alpha, beta, confidence float64) (Interval, error) {
	if err := expstats.ValidateBeta(alpha, beta); err != nil {
		return Interval{}, err
	}
	if !(confidence > 0 && confidence < 1) {
		return Interval{}, fmt.Errorf("%w: confidence %v must be in (0, 1)", expstats.ErrInvalidRange, confidence)
	}

	d := distuv.Beta{Alpha: alpha, Beta: beta}
	tail := (1 - confidence) / 2

	lower := d.Quantile(tail)
	upper := d.Quantile(1 - tail)
	if lower <= 0 {
		lower = math.SmallestNonzeroFloat64
	}
	if upper >= 1 {
		upper = math.Nextafter(1, 0)
	}

	return Interval{Lower: lower, Mean: alpha / (alpha + beta), Upper: upper}, nil
}

// Recommend turns probabilities of being best into a decision for the
// leading variant.
func Recommend(results []Probability, winnerThreshold, likelyThreshold float64) (Recommendation, error) {
	if len(results) < 2 {
		return Recommendation{}, fmt.Errorf("%w: got %d", expstats.ErrInsufficientVariants, len(results))
	}
	if !(likelyThreshold > 0 && likelyThreshold <= winnerThreshold && winnerThreshold < 1) {
		return Recommendation{}, fmt.Errorf("%w: thresholds must satisfy 0 < likely (%v) <= winner (%v) < 1",
			expstats.ErrInvalidRange, likelyThreshold, winnerThreshold)
	}

	best := leader(results)
	rec := Recommendation{VariantID: best.VariantID, Confidence: best.Probability}
	pct := best.Probability * 100

	switch {
	case best.Probability >= winnerThreshold:
		rec.Decision = DeclareWinner
		rec.Message = fmt.Sprintf("%s is the winner with %.1f%% probability of being best", best.VariantID, pct)
	case best.Probability >= likelyThreshold:
		rec.Decision = LikelyWinner
		rec.Message = fmt.Sprintf("%s is likely the winner (%.1f%%); keep collecting data to confirm", best.VariantID, pct)
	default:
		rec.Decision = Continue
		rec.Message = fmt.Sprintf("No clear winner yet; %s leads with %.1f%%", best.VariantID, pct)
	}

	return rec, nil
}

func decideStop(probs []Probability, threshold float64) *StopDecision {
	best := leader(probs)
	if best.Probability >= threshold {
		return &StopDecision{
			ShouldStop: true,
			WinnerID:   best.VariantID,
			Reason:     fmt.Sprintf("%s has %.1f%% probability of being best", best.VariantID, best.Probability*100),
		}
	}
	return &StopDecision{
		Reason: fmt.Sprintf("highest probability of being best is %.1f%%, below %.1f%%", best.Probability*100, threshold*100),
	}
}

// leader returns the highest probability; ties go to the earlier variant.
func leader(results []Probability) Probability {
	best := results[0]
	for _, r := range results[1:] {
		if r.Probability > best.Probability {
			best = r
		}
	}
	return best
}
