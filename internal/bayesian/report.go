package bayesian

// Options tunes Analyze. Zero fields take the package defaults.
type Options struct {
	Samples         int
	Confidence      float64
	WinnerThreshold float64
	LikelyThreshold float64
}

func (o Options) withDefaults() Options {
	if o.Samples == 0 {
		o.Samples = DefaultSamples
	}
	if o.Confidence == 0 {
		o.Confidence = DefaultConfidence
	}
	if o.WinnerThreshold == 0 {
		o.WinnerThreshold = DefaultWinnerThreshold
	}
	if o.LikelyThreshold == 0 {
		o.LikelyThreshold = DefaultLikelyThreshold
	}
	return o
}

// PosteriorParams are the current Beta shape parameters of a variant.
type PosteriorParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// VariantReport is the per-variant part of a Report.
type VariantReport struct {
	VariantID        string          `json:"variantId"`
	ProbabilityBest  float64         `json:"probabilityBest"`
	CredibleInterval Interval        `json:"credibleInterval"`
	ExpectedLoss     float64         `json:"expectedLoss"`
	Posterior        PosteriorParams `json:"posterior"`
	Observations     int             `json:"observations"`
}

// Report is the outbound Bayesian analysis of an experiment.
type Report struct {
	Variants       []VariantReport `json:"variants"`
	Recommendation Recommendation  `json:"recommendation"`
}

// Analyze runs one Monte Carlo pass and assembles the full report.
func (e *Engine) Analyze(variants []Posterior, opts Options) (*Report, error) {
	opts = opts.withDefaults()

	sim, err := e.simulate(variants, opts.Samples)
	if err != nil {
		return nil, err
	}
	probs := sim.probabilities(variants, opts.Samples)
	losses, err := sim.expectedLoss(variants)
	if err != nil {
		return nil, err
	}

	report := &Report{Variants: make([]VariantReport, len(variants))}
	for i, v := range variants {
		ci, err := CredibleInterval(v.AlphaPost, v.BetaPost, opts.Confidence)
		if err != nil {
			return nil, err
		}
		report.Variants[i] = VariantReport{
			VariantID:        v.VariantID,
			ProbabilityBest:  probs[i].Probability,
			CredibleInterval: ci,
			ExpectedLoss:     losses[i].Loss,
			Posterior:        PosteriorParams{Alpha: v.AlphaPost, Beta: v.BetaPost},
			Observations:     v.Observations(),
		}
	}

	report.Recommendation, err = Recommend(probs, opts.WinnerThreshold, opts.LikelyThreshold)
	if err != nil {
		return nil, err
	}
	return report, nil
}
