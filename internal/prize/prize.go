// Package prize computes tiered prize distributions for session winners.
package prize

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultHeadShare is the percentage position 1 receives when a
	// schedule is auto-generated.
	DefaultHeadShare = 50.0

	// decayFactor is the ratio between consecutive positions after the head.
	decayFactor = 0.7

	// sumTolerance is the accepted rounding slack when validating an
	// explicit schedule.
	sumTolerance = 0.01
)

// Schedule errors.
var (
	ErrNoWinners       = errors.New("winner count must be at least 1")
	ErrScheduleSum     = errors.New("explicit schedule percentages must sum to 100")
	ErrSchedulePartial = errors.New("explicit schedule must cover every winner position")
)

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AutoSchedule generates percentages for winnerCount positions. Position 1
// receives headShare; the remainder decays geometrically across the other
// positions, and the final position absorbs the unallocated remainder so
// the total is exactly 100 despite rounding.
func AutoSchedule(winnerCount int, headShare float64) ([]float64, error) {
	if winnerCount < 1 {
		return nil, ErrNoWinners
	}
	if headShare <= 0 || headShare > 100 {
		headShare = DefaultHeadShare
	}
	if winnerCount == 1 {
		return []float64{100}, nil
	}

	shares := make([]float64, winnerCount)
	shares[0] = round2(headShare)
	remaining := 100 - shares[0]

	// Geometric weights for positions 2..n.
	weights := make([]float64, winnerCount-1)
	var totalWeight float64
	w := 1.0
	for i := range weights {
		weights[i] = w
		totalWeight += w
		w *= decayFactor
	}

	allocated := shares[0]
	for i := 1; i < winnerCount-1; i++ {
		shares[i] = round2(remaining * weights[i-1] / totalWeight)
		allocated += shares[i]
	}
	// Final position absorbs the remainder.
	shares[winnerCount-1] = round2(100 - allocated)

	return shares, nil
}

// FromExplicit converts a position→percentage map into an ordered slice,
// validating coverage and the 100% total.
func FromExplicit(schedule map[int]float64, winnerCount int) ([]float64, error) {
	if winnerCount < 1 {
		return nil, ErrNoWinners
	}

	shares := make([]float64, winnerCount)
	var sum float64
	for pos := 1; pos <= winnerCount; pos++ {
		pct, ok := schedule[pos]
		if !ok {
			return nil, fmt.Errorf("%w: position %d missing", ErrSchedulePartial, pos)
		}
		shares[pos-1] = pct
		sum += pct
	}
	if math.Abs(sum-100) > sumTolerance {
		return nil, fmt.Errorf("%w: got %.2f", ErrScheduleSum, sum)
	}
	return shares, nil
}

// Payouts maps a prize pool through a percentage schedule.
func Payouts(pool float64, schedule []float64) []float64 {
	out := make([]float64, len(schedule))
	for i, pct := range schedule {
		out[i] = round2(pool * pct / 100)
	}
	return out
}
