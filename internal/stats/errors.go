package stats

import "errors"

// Errors shared by every analysis engine. Callers match them with errors.Is;
// engines wrap them with the offending parameter.
var (
	ErrInvalidRange         = errors.New("parameter out of range")
	ErrInvalidPrior         = errors.New("invalid beta prior")
	ErrInsufficientVariants = errors.New("at least 2 variants required")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrPlanNotFound         = errors.New("sequential plan not found")
	ErrPlanExhausted        = errors.New("sequential plan exhausted")
)
