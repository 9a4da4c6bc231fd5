package model

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidValue      = errors.New("observation value must be a finite non-negative number")
	ErrInvalidConfidence = errors.New("observation confidence must be within [0,1]")
)

type Detection struct {
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Slot       int       `json:"slot"`
	Age        float64   `json:"age"`
	Confidence float64   `json:"confidence"`
	Via        string    `json:"via,omitempty"`
	Raw        string    `json:"raw,omitempty"`
}

// Observation is a validated detector reading. Build it with NewObservation.
type Observation struct {
	Timestamp  time.Time
	Value      float64
	Confidence float64
}

func NewObservation(ts time.Time, value, confidence float64) (Observation, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return Observation{}, ErrInvalidValue
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Observation{}, ErrInvalidConfidence
	}
	return Observation{Timestamp: ts, Value: value, Confidence: confidence}, nil
}

// AggregateResult is derived on every evaluation and never stored.
// Mean is meaningless when Sufficient is false.
type AggregateResult struct {
	Sufficient bool    `json:"sufficient"`
	Mean       float64 `json:"mean"`
	Count      int     `json:"count"`
	Required   int     `json:"required"`
}

type Category struct {
	Name      string  `json:"name" yaml:"name"`
	Color     string  `json:"color,omitempty" yaml:"color,omitempty"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

type Snapshot struct {
	Subject      string    `json:"subject"`
	State        int       `json:"state"`
	Category     string    `json:"category"`
	Color        string    `json:"color,omitempty"`
	Mean         float64   `json:"mean"`
	Count        int       `json:"count"`
	Required     int       `json:"required"`
	Sufficient   bool      `json:"sufficient"`
	Pending      string    `json:"pending,omitempty"`
	PendingSince time.Time `json:"pending_since,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type TransitionReason string

const (
	ReasonThreshold            TransitionReason = "threshold"
	ReasonInsufficientEvidence TransitionReason = "insufficient_evidence"
)

type Transition struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Subject   string           `json:"subject"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	FromState int              `json:"from_state"`
	ToState   int              `json:"to_state"`
	Mean      float64          `json:"mean"`
	Count     int              `json:"count"`
	Reason    TransitionReason `json:"reason"`
}
