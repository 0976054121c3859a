// Package indicators holds the rolling price window and the statistics computed over it.
package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when a statistic needs more points than were supplied.
var ErrInsufficientData = errors.New("insufficient data")

func requirePoints(name string, have, need int) error {
	if have < need {
		return fmt.Errorf("not enough data (%d) to calculate %s, need %d: %w", have, name, need, ErrInsufficientData)
	}
	return nil
}
