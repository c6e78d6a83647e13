package domain

import (
	"encoding/json"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Metric is a tagged optional float64. A metric that could not be computed is
// carried as Valid=false and renders as null, never as a sentinel zero or NaN
// leaking into downstream sums.
type Metric struct {
	Value float64
	Valid bool
}

// Some returns a valid metric.
func Some(v float64) Metric { return Metric{Value: v, Valid: true} }

// None returns an invalid ("not applicable") metric.
func None() Metric { return Metric{} }

// Sub returns m - other as a metric. If either side is invalid the delta is
// invalid (null), never a silent zero.
func (m Metric) Sub(other Metric) Metric {
	if !m.Valid || !other.Valid {
		return None()
	}
	return Some(m.Value - other.Value)
}

// Or returns the metric's value when valid, otherwise the fallback.
func (m Metric) Or(fallback float64) float64 {
	if m.Valid {
		return m.Value
	}
	return fallback
}

// MarshalJSON encodes the value, or null when not applicable.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON decodes a number or null.
func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = None()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Some(v)
	return nil
}

// msgpackNil is the msgpack encoding of nil.
const msgpackNil = 0xc0

// MarshalMsgpack keeps the binary artifact aligned with the JSON shape:
// a number when valid, nil otherwise.
func (m Metric) MarshalMsgpack() ([]byte, error) {
	if !m.Valid || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return []byte{msgpackNil}, nil
	}
	return msgpack.Marshal(m.Value)
}

// UnmarshalMsgpack mirrors MarshalMsgpack.
func (m *Metric) UnmarshalMsgpack(data []byte) error {
	if len(data) == 1 && data[0] == msgpackNil {
		*m = None()
		return nil
	}
	var v float64
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Some(v)
	return nil
}
