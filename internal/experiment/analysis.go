package experiment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/expstat/expstat/internal/bandit"
	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/sequential"
)

// Mode names an analysis mode. Modes are mutually exclusive per experiment.
type Mode string

const (
	ModeBayesian    Mode = "bayesian"
	ModeSequential  Mode = "sequential"
	ModeBandit      Mode = "bandit"
	ModeFrequentist Mode = "frequentist"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeBayesian, ModeSequential, ModeBandit, ModeFrequentist}

var ErrUnknownMode = errors.New("unknown analysis mode")

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Analysis is the mode-specific configuration of an experiment. It is
// implemented only by Bayesian, Sequential, Bandit and Frequentist.
type Analysis interface {
	Mode() Mode
	analysis()
}

// Bayesian configures Beta-Binomial inference. Priors are keyed by variant
// label; labels without an entry use bayesian.DefaultPrior.
type Bayesian struct {
	Priors map[string]bayesian.Prior `json:"priors,omitempty"`
}

// Sequential configures a group-sequential design.
type Sequential struct {
	Plan *sequential.Plan `json:"plan"`
}

// Bandit configures adaptive allocation. Epsilon is only used by
// epsilon-greedy.
type Bandit struct {
	Algorithm bandit.Algorithm `json:"algorithm"`
	Epsilon   float64          `json:"epsilon,omitempty"`
}

// Frequentist is a fixed-horizon z test.
type Frequentist struct{}

func (Bayesian) Mode() Mode    { return ModeBayesian }
func (Sequential) Mode() Mode  { return ModeSequential }
func (Bandit) Mode() Mode      { return ModeBandit }
func (Frequentist) Mode() Mode { return ModeFrequentist }

func (Bayesian) analysis()    {}
func (Sequential) analysis()  {}
func (Bandit) analysis()      {}
func (Frequentist) analysis() {}

// MarshalAnalysis encodes the mode-specific payload of a.
func MarshalAnalysis(a Analysis) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil analysis", ErrUnknownMode)
	}
	return json.Marshal(a)
}

// UnmarshalAnalysis decodes a payload written by MarshalAnalysis.
func UnmarshalAnalysis(mode Mode, data []byte) (Analysis, error) {
	var (
		a   Analysis
		err error
	)
	switch mode {
	case ModeBayesian:
		var v Bayesian
		err = unmarshalOptional(data, &v)
		a = v
	case ModeSequential:
		var v Sequential
		err = unmarshalOptional(data, &v)
		a = v
	case ModeBandit:
		var v Bandit
		err = unmarshalOptional(data, &v)
		a = v
	case ModeFrequentist:
		a = Frequentist{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s analysis: %w", mode, err)
	}
	return a, nil
}

// VariantState is the persisted per-variant state of a mode. Sequential and
// frequentist variants have none.
type VariantState interface {
	Mode() Mode
	variantState()
}

// BayesianState is a variant's posterior plus the figures from the most
// recent analysis.
type BayesianState struct {
	bayesian.Posterior
	ProbabilityBest  float64            `json:"probabilityBest"`
	CredibleInterval *bayesian.Interval `json:"credibleInterval,omitempty"`
	ExpectedLoss     float64            `json:"expectedLoss"`
}

// BanditState is a variant's arm.
type BanditState struct {
	bandit.Arm
}

func (BayesianState) Mode() Mode { return ModeBayesian }
func (BanditState) Mode() Mode   { return ModeBandit }

func (BayesianState) variantState() {}
func (BanditState) variantState()   {}

// CheckState returns ErrModeMismatch unless s belongs to mode. A nil state
// is valid for every mode.
func CheckState(mode Mode, s VariantState) error {
	if s == nil || s.Mode() == mode {
		return nil
	}
	return fmt.Errorf("%w: %s state on %s experiment", ErrModeMismatch, s.Mode(), mode)
}

// UnmarshalState decodes a state payload for mode. Empty data yields nil.
func UnmarshalState(mode Mode, data []byte) (VariantState, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch mode {
	case ModeBayesian:
		var s BayesianState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode bayesian state: %w", err)
		}
		return s, nil
	case ModeBandit:
		var s BanditState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode bandit state: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s variants carry no state", ErrModeMismatch, mode)
}

func unmarshalOptional(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
