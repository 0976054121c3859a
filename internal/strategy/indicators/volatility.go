package indicators

import (
	"fmt"
	"math"
	"time"

	"altBarsBot/internal/domain"
)

// PctChanges returns the fractional change between consecutive points, stamped with the later point's time.
func PctChanges(points []domain.PricePoint) []domain.PricePoint {
	if len(points) < 2 {
		return nil
	}
	out := make([]domain.PricePoint, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Price
		out = append(out, domain.PricePoint{
			Timestamp: points[i].Timestamp,
			Price:     (points[i].Price - prev) / prev,
		})
	}
	return out
}

// StdDev returns the sample standard deviation (n-1 denominator).
func StdDev(values []float64) (float64, error) {
	if err := requirePoints("standard deviation", len(values), 2); err != nil {
		return 0, err
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1)), nil
}

// Volatility is the standard deviation of percentage changes. When the changes span at least
// two frequency buckets and the latest bucket holds two or more of them, only the latest bucket
// is used. Otherwise the newest trailing changes are used (all of them when trailing <= 0).
func Volatility(points []domain.PricePoint, frequency time.Duration, trailing int) (float64, error) {
	returns := PctChanges(points)
	if err := requirePoints("volatility", len(returns), 2); err != nil {
		return 0, err
	}

	all := make([]float64, len(returns))
	for i, r := range returns {
		all[i] = r.Price
	}
	fallback := all
	if trailing > 0 && len(fallback) > trailing {
		fallback = fallback[len(fallback)-trailing:]
	}
	if frequency <= 0 {
		return StdDev(fallback)
	}

	lastBucket := returns[len(returns)-1].Timestamp.UTC().Truncate(frequency)
	var latest []float64
	multiBucket := false
	for _, r := range returns {
		if r.Timestamp.UTC().Truncate(frequency).Equal(lastBucket) {
			latest = append(latest, r.Price)
		} else {
			multiBucket = true
		}
	}
	if multiBucket && len(latest) >= 2 {
		vol, err := StdDev(latest)
		if err != nil {
			return 0, fmt.Errorf("bucketed volatility: %w", err)
		}
		return vol, nil
	}
	return StdDev(fallback)
}
