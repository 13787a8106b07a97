package types

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is matched by every *InvalidInputError via errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// InvalidInputError reports a single parameter that is outside its documented
// range. Calculators return it instead of clamping the value.
type InvalidInputError struct {
	Field      string  `json:"field"`
	Value      float64 `json:"value"`
	Constraint string  `json:"constraint"`
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %g (must be %s)", e.Field, e.Value, e.Constraint)
}

// Is implements errors.Is for ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains returns true if v is inside the range. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("in [%g, %g]", r.Min, r.Max)
}

// check returns an InvalidInputError for field if v is outside r.
func (r Range) check(field string, v float64) error {
	if !r.Contains(v) {
		return &InvalidInputError{Field: field, Value: v, Constraint: r.String()}
	}
	return nil
}
