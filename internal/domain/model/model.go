// Package model contains the message and record types flowing through the pipeline.
package model

import "time"

// Feature is one observation's feature vector, produced alongside a
// GroundTruth message sharing the same ID.
type Feature struct {
	ID       string    // producer-assigned identifier, unique per observation
	Features []float64 // ordered feature vector
	EmitTime time.Time // when the producer emitted the observation
}

// GroundTruth is the true target value for an observation.
type GroundTruth struct {
	ID       string
	Value    float64
	EmitTime time.Time
}

// Prediction is the model's output for a Feature message, carrying the
// same ID so the aggregator can join it with the ground truth.
type Prediction struct {
	ID        string
	Value     float64
	ScoreTime time.Time // when the scorer produced the prediction
}

// MetricRecord is one completed correlation's error measurement. Records
// are immutable once appended to the metric log.
type MetricRecord struct {
	ID             string
	TrueValue      float64
	PredictedValue float64
	ErrorValue     float64
	ComputedTime   time.Time
}
