// Package codec encodes and decodes pipeline messages to and from the
// broker wire format.
//
// The wire format is JSON with an "id" and "body" field per message, plus
// the emit/score timestamp. Unknown fields are ignored on decode so old
// consumers keep working when producers add fields. Float64 values
// round-trip exactly: encoding/json emits the shortest representation that
// parses back to the same bits.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/driftwatch/internal/domain/model"
)

type featurePayload struct {
	ID   string    `json:"id"`
	Body []float64 `json:"body"`
	TS   time.Time `json:"ts"`
}

type valuePayload struct {
	ID   string    `json:"id"`
	Body float64   `json:"body"`
	TS   time.Time `json:"ts"`
}

// EncodeFeature encodes a feature message for transport.
func EncodeFeature(m model.Feature) ([]byte, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrMalformed)
	}
	return json.Marshal(featurePayload{ID: m.ID, Body: m.Features, TS: m.EmitTime})
}

// DecodeFeature decodes a feature message. Malformed bytes or a missing id
// wrap ErrMalformed; callers must treat that as a poison message.
func DecodeFeature(b []byte) (model.Feature, error) {
	var p featurePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return model.Feature{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.ID == "" {
		return model.Feature{}, fmt.Errorf("%w: empty id", ErrMalformed)
	}
	if len(p.Body) == 0 {
		return model.Feature{}, fmt.Errorf("%w: empty feature vector", ErrMalformed)
	}
	return model.Feature{ID: p.ID, Features: p.Body, EmitTime: p.TS}, nil
}

// EncodeGroundTruth encodes a ground-truth message for transport.
func EncodeGroundTruth(m model.GroundTruth) ([]byte, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrMalformed)
	}
	return json.Marshal(valuePayload{ID: m.ID, Body: m.Value, TS: m.EmitTime})
}

// DecodeGroundTruth decodes a ground-truth message.
func DecodeGroundTruth(b []byte) (model.GroundTruth, error) {
	p, err := decodeValue(b)
	if err != nil {
		return model.GroundTruth{}, err
	}
	return model.GroundTruth{ID: p.ID, Value: p.Body, EmitTime: p.TS}, nil
}

// EncodePrediction encodes a prediction message for transport.
func EncodePrediction(m model.Prediction) ([]byte, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrMalformed)
	}
	return json.Marshal(valuePayload{ID: m.ID, Body: m.Value, TS: m.ScoreTime})
}

// DecodePrediction decodes a prediction message.
func DecodePrediction(b []byte) (model.Prediction, error) {
	p, err := decodeValue(b)
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Prediction{ID: p.ID, Value: p.Body, ScoreTime: p.TS}, nil
}

func decodeValue(b []byte) (valuePayload, error) {
	var p valuePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return valuePayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.ID == "" {
		return valuePayload{}, fmt.Errorf("%w: empty id", ErrMalformed)
	}
	return p, nil
}
