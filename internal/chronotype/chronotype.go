// Package chronotype models the external activity-pattern classifier.
//
// The classifier is the only network-facing dependency of the lending
// core. It receives a 24-value hourly activity vector and returns a
// coarse chronotype class plus a confidence. Callers never treat a
// classifier failure as a ledger failure: they fall back to the stored
// chronotype, or Intermediate when none exists.
package chronotype

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrServiceUnavailable indicates the classifier could not be reached
// within the call budget. Soft by contract: callers degrade, never fail.
var ErrServiceUnavailable = errors.New("chronotype service unavailable")

// Chronotype is the classifier's coarse daily-activity class.
type Chronotype int

const (
	Early Chronotype = iota
	Intermediate
	Late
)

func (c Chronotype) String() string {
	switch c {
	case Early:
		return "early"
	case Intermediate:
		return "intermediate"
	case Late:
		return "late"
	}
	return fmt.Sprintf("Chronotype(%d)", int(c))
}

// Valid reports whether c is one of the three known classes.
func (c Chronotype) Valid() bool {
	return c >= Early && c <= Late
}

// MarshalJSON renders the chronotype as its name.
func (c Chronotype) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON parses a chronotype name.
func (c *Chronotype) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Parse converts a chronotype name to its enum value.
func Parse(s string) (Chronotype, error) {
	switch s {
	case "early":
		return Early, nil
	case "intermediate":
		return Intermediate, nil
	case "late":
		return Late, nil
	}
	return Intermediate, fmt.Errorf("unknown chronotype %q", s)
}

// Prediction is a single classifier result. Confidence is rescaled from
// the service's [0,1] float to the internal [0,1000] range at the
// boundary.
type Prediction struct {
	Chronotype    Chronotype
	ConfidenceBps uint64 // 0..1000
}

// Predictor is the narrow call contract to the classifier.
type Predictor interface {
	Predict(ctx context.Context, pattern [24]float64) (Prediction, error)
}
