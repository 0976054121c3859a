package indicators

import (
	"fmt"
	"math"
)

// Band is one evaluation of a Bollinger band.
type Band struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes mean ± k·σ over the trailing period values.
// σ is the population standard deviation.
func Bollinger(closes []float64, period int, k float64) (Band, error) {
	mean, err := Mean(closes, period)
	if err != nil {
		return Band{}, fmt.Errorf("bollinger: %w", err)
	}
	var sq float64
	for _, v := range closes[len(closes)-period:] {
		d := v - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(period))
	return Band{Upper: mean + k*sd, Middle: mean, Lower: mean - k*sd}, nil
}

// BandAt evaluates the band over the period points of the window ending at index end (inclusive).
func BandAt(w *Window, end, period int, k float64) (Band, error) {
	if end < 0 || end >= w.Len() {
		return Band{}, fmt.Errorf("bollinger: end index %d outside window of %d points", end, w.Len())
	}
	if err := requirePoints("bollinger", end+1, period); err != nil {
		return Band{}, err
	}
	closes := make([]float64, period)
	for i := range closes {
		closes[i] = w.At(end - period + 1 + i).Price
	}
	return Bollinger(closes, period, k)
}
