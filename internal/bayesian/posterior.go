// Package bayesian tracks Beta-Binomial posteriors per variant and turns
// them into probability-of-being-best, credible intervals, expected loss and
// a stopping recommendation. Nothing here performs I/O; callers load the
// posteriors, call the engine and persist what comes back.
package bayesian

import (
	"fmt"

	"github.com/expstat/expstat/internal/stats"
)

// Prior is a Beta(Alpha, Beta) prior over a conversion rate.
type Prior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// DefaultPrior is the uninformative Beta(1, 1).
var DefaultPrior = Prior{Alpha: 1, Beta: 1}

// Posterior is the Bayesian state of one variant. AlphaPost and BetaPost
// only ever grow from the prior.
type Posterior struct {
	VariantID  string  `json:"variantId"`
	AlphaPrior float64 `json:"alphaPrior"`
	BetaPrior  float64 `json:"betaPrior"`
	AlphaPost  float64 `json:"alphaPosterior"`
	BetaPost   float64 `json:"betaPosterior"`
}

// NewPosterior starts a variant at its prior.
func NewPosterior(variantID string, prior Prior) (Posterior, error) {
	if err := stats.ValidateBeta(prior.Alpha, prior.Beta); err != nil {
		return Posterior{}, fmt.Errorf("variant %s: %w", variantID, err)
	}
	return Posterior{
		VariantID:  variantID,
		AlphaPrior: prior.Alpha,
		BetaPrior:  prior.Beta,
		AlphaPost:  prior.Alpha,
		BetaPost:   prior.Beta,
	}, nil
}

// Initialize creates one posterior per variant, in order. Variants missing
// from priors start at DefaultPrior.
func Initialize(variantIDs []string, priors map[string]Prior) ([]Posterior, error) {
	posteriors := make([]Posterior, 0, len(variantIDs))
	for _, id := range variantIDs {
		prior, ok := priors[id]
		if !ok {
			prior = DefaultPrior
		}
		p, err := NewPosterior(id, prior)
		if err != nil {
			return nil, err
		}
		posteriors = append(posteriors, p)
	}
	return posteriors, nil
}

// UpdatePosterior folds one observed outcome into p. It must be applied
// exactly once per outcome.
func UpdatePosterior(p Posterior, success bool) Posterior {
	p.AlphaPost, p.BetaPost = stats.UpdatePosterior(p.AlphaPost, p.BetaPost, success)
	return p
}

// Successes is the number of successes folded in since the prior.
func (p Posterior) Successes() int {
	return int(p.AlphaPost - p.AlphaPrior)
}

// Failures is the number of failures folded in since the prior.
func (p Posterior) Failures() int {
	return int(p.BetaPost - p.BetaPrior)
}

// Observations is the number of outcomes folded in since the prior.
func (p Posterior) Observations() int {
	return p.Successes() + p.Failures()
}

// Mean is the posterior mean conversion rate.
func (p Posterior) Mean() float64 {
	return p.AlphaPost / (p.AlphaPost + p.BetaPost)
}

// Validate checks the shape parameters and the accumulate-only invariant.
func (p Posterior) Validate() error {
	if err := stats.ValidateBeta(p.AlphaPost, p.BetaPost); err != nil {
		return fmt.Errorf("variant %s: %w", p.VariantID, err)
	}
	if p.AlphaPost < p.AlphaPrior || p.BetaPost < p.BetaPrior {
		return fmt.Errorf("%w: variant %s posterior Beta(%v, %v) is below its prior Beta(%v, %v)",
			stats.ErrInvalidPrior, p.VariantID, p.AlphaPost, p.BetaPost, p.AlphaPrior, p.BetaPrior)
	}
	return nil
}
