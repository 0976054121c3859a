package indicators

import "fmt"

// Mean returns the arithmetic mean of the trailing period values.
func Mean(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid mean period %d", period)
	}
	if err := requirePoints("mean", len(values), period); err != nil {
		return 0, err
	}
	total := 0.0
	for _, v := range values[len(values)-period:] {
		total += v
	}
	return total / float64(period), nil
}

// EWMA returns the last value of an exponentially weighted mean with the given span,
// using the adjusted form: weights (1-alpha)^i normalised over the observations seen,
// alpha = 2 / (span + 1).
func EWMA(values []float64, span float64) (float64, error) {
	if span < 1 {
		return 0, fmt.Errorf("invalid ewma span %v, must be >= 1", span)
	}
	if err := requirePoints("ewma", len(values), 1); err != nil {
		return 0, err
	}
	decay := 1 - 2/(span+1)

	var num, den float64
	weight := 1.0
	for i := len(values) - 1; i >= 0; i-- {
		num += weight * values[i]
		den += weight
		weight *= decay
	}
	return num / den, nil
}
