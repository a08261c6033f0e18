// Package draw implements the winner selection algorithms: direct draw,
// reverse elimination, and weighted-ticket draw. All are deterministic
// given their rng.Source, which keeps golden-value tests possible.
package draw

import (
	"sort"
	"time"

	"game-session-engine/internal/rng"
)

// Claimant is a participant holding one claimed number.
type Claimant struct {
	ParticipantID string
	Number        int
	ClaimedAt     time.Time
}

// Result describes the outcome of a draw.
type Result struct {
	// Winners holds participant IDs in rank order (position 1 first).
	Winners []string

	// Drawn holds every number drawn, in draw order. For reverse
	// elimination these are the eliminating numbers.
	Drawn []int
}

// numberPool builds the inclusive range [min, max] as a drawable pool.
func numberPool(min, max int) []int {
	pool := make([]int, 0, max-min+1)
	for n := min; n <= max; n++ {
		pool = append(pool, n)
	}
	return pool
}

// drawFrom removes and returns a uniformly chosen element of pool.
func drawFrom(src rng.Source, pool []int) (int, []int) {
	idx := src.Intn(len(pool))
	n := pool[idx]
	pool[idx] = pool[len(pool)-1]
	return n, pool[:len(pool)-1]
}

// claimantsByNumber groups claimants per number, each group ordered by
// ClaimedAt ascending. Earliest claim wins the tie-break.
func claimantsByNumber(claims []Claimant) map[int][]Claimant {
	byNumber := make(map[int][]Claimant)
	for _, c := range claims {
		byNumber[c.Number] = append(byNumber[c.Number], c)
	}
	for n := range byNumber {
		group := byNumber[n]
		sort.Slice(group, func(i, j int) bool {
			return group[i].ClaimedAt.Before(group[j].ClaimedAt)
		})
	}
	return byNumber
}

// distinctParticipants counts unique participant IDs among claims.
func distinctParticipants(claims []Claimant) int {
	seen := make(map[string]struct{}, len(claims))
	for _, c := range claims {
		seen[c.ParticipantID] = struct{}{}
	}
	return len(seen)
}

// Direct draws distinct numbers uniformly from the configured range until
// winnerCount claimants have matched, capped at the number of distinct
// claimants. Numbers are drawn from the whole range, not only from claimed
// numbers, so the draw keeps going until enough hits land.
func Direct(src rng.Source, rangeMin, rangeMax, winnerCount int, claims []Claimant) Result {
	target := winnerCount
	if n := distinctParticipants(claims); n < target {
		target = n
	}

	byNumber := claimantsByNumber(claims)
	pool := numberPool(rangeMin, rangeMax)
	won := make(map[string]struct{})

	var res Result
	for len(res.Winners) < target && len(pool) > 0 {
		var n int
		n, pool = drawFrom(src, pool)
		res.Drawn = append(res.Drawn, n)

		for _, c := range byNumber[n] {
			if _, ok := won[c.ParticipantID]; ok {
				continue
			}
			won[c.ParticipantID] = struct{}{}
			res.Winners = append(res.Winners, c.ParticipantID)
			break
		}
	}
	return res
}

// ReverseElimination draws numbers without replacement from the full range;
// each drawn number eliminates the remaining claimants holding it. The draw
// stops once winnerCount participants remain; they are the winners. If the
// field is already at or below winnerCount, everyone wins without a single
// draw.
func ReverseElimination(src rng.Source, rangeMin, rangeMax, winnerCount int, claims []Claimant) Result {
	remaining := make(map[string]Claimant)
	for _, c := range claims {
		// A participant is represented by their earliest claim.
		if prev, ok := remaining[c.ParticipantID]; !ok || c.ClaimedAt.Before(prev.ClaimedAt) {
			remaining[c.ParticipantID] = c
		}
	}

	var res Result
	if len(remaining) > winnerCount {
		pool := numberPool(rangeMin, rangeMax)
		for len(remaining) > winnerCount && len(pool) > 0 {
			var n int
			n, pool = drawFrom(src, pool)
			res.Drawn = append(res.Drawn, n)

			// Eliminate matching claimants, latest claim first, so the
			// earliest claimant survives if elimination would overshoot.
			matched := make([]Claimant, 0, 2)
			for _, c := range remaining {
				if c.Number == n {
					matched = append(matched, c)
				}
			}
			sort.Slice(matched, func(i, j int) bool {
				return matched[j].ClaimedAt.Before(matched[i].ClaimedAt)
			})
			for _, c := range matched {
				if len(remaining) == winnerCount {
					break
				}
				delete(remaining, c.ParticipantID)
			}
		}
	}

	survivors := make([]Claimant, 0, len(remaining))
	for _, c := range remaining {
		survivors = append(survivors, c)
	}
	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].ClaimedAt.Before(survivors[j].ClaimedAt)
	})
	for _, c := range survivors {
		res.Winners = append(res.Winners, c.ParticipantID)
	}
	return res
}

// TicketHolder is a participant with a ticket count for weighted draws.
type TicketHolder struct {
	ParticipantID string
	Tickets       int
}

// WeightedTickets selects winnerCount distinct participants without
// replacement, each pick weighted by ticket count. Holders with zero or
// negative tickets never win.
func WeightedTickets(src rng.Source, winnerCount int, holders []TicketHolder) Result {
	pool := make([]string, 0)
	for _, h := range holders {
		for i := 0; i < h.Tickets; i++ {
			pool = append(pool, h.ParticipantID)
		}
	}

	var res Result
	for len(res.Winners) < winnerCount && len(pool) > 0 {
		idx := src.Intn(len(pool))
		winner := pool[idx]
		res.Winners = append(res.Winners, winner)

		// Remove every ticket of the winner.
		next := pool[:0]
		for _, id := range pool {
			if id != winner {
				next = append(next, id)
			}
		}
		pool = next
	}
	return res
}
