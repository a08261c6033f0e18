// Property-based tests for the winner selection algorithms.
package draw

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"game-session-engine/internal/rng"
)

// TestReverseEliminationTerminationProperty verifies that for any field of
// participants and any target below the field size, elimination terminates
// with exactly winnerCount survivors and nobody is eliminated twice.
func TestReverseEliminationTerminationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rangeMax := rapid.IntRange(5, 200).Draw(t, "rangeMax")
		fieldSize := rapid.IntRange(2, rangeMax).Draw(t, "fieldSize")
		winnerCount := rapid.IntRange(1, fieldSize-1).Draw(t, "winnerCount")
		seed := rapid.Int64().Draw(t, "seed")

		// Distinct numbers, one per participant: a shuffled prefix of the range.
		src := rng.NewSeeded(seed)
		numbers := make([]int, rangeMax)
		for i := range numbers {
			numbers[i] = i + 1
		}
		src.Shuffle(len(numbers), func(i, j int) {
			numbers[i], numbers[j] = numbers[j], numbers[i]
		})

		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		claims := make([]Claimant, fieldSize)
		for i := 0; i < fieldSize; i++ {
			claims[i] = Claimant{
				ParticipantID: string(rune('A' + i%26)) + string(rune('a'+i/26)),
				Number:        numbers[i],
				ClaimedAt:     base.Add(time.Duration(i) * time.Second),
			}
		}

		res := ReverseElimination(rng.NewSeeded(seed+1), 1, rangeMax, winnerCount, claims)

		if len(res.Winners) != winnerCount {
			t.Fatalf("expected %d winners, got %d (field=%d)", winnerCount, len(res.Winners), fieldSize)
		}

		seen := make(map[string]bool)
		for _, w := range res.Winners {
			if seen[w] {
				t.Fatalf("participant %s appears twice in winners", w)
			}
			seen[w] = true
		}
	})
}

// TestDirectDrawWinnersHoldClaimsProperty verifies every direct-draw winner
// actually claimed one of the drawn numbers, and winners are distinct.
func TestDirectDrawWinnersHoldClaimsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rangeMax := rapid.IntRange(5, 100).Draw(t, "rangeMax")
		fieldSize := rapid.IntRange(1, rangeMax).Draw(t, "fieldSize")
		winnerCount := rapid.IntRange(1, 10).Draw(t, "winnerCount")
		seed := rapid.Int64().Draw(t, "seed")

		src := rng.NewSeeded(seed)
		numbers := make([]int, rangeMax)
		for i := range numbers {
			numbers[i] = i + 1
		}
		src.Shuffle(len(numbers), func(i, j int) {
			numbers[i], numbers[j] = numbers[j], numbers[i]
		})

		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		claimed := make(map[string]int, fieldSize)
		claims := make([]Claimant, fieldSize)
		for i := 0; i < fieldSize; i++ {
			id := string(rune('A'+i%26)) + string(rune('a'+i/26))
			claims[i] = Claimant{
				ParticipantID: id,
				Number:        numbers[i],
				ClaimedAt:     base.Add(time.Duration(i) * time.Second),
			}
			claimed[id] = numbers[i]
		}

		res := Direct(rng.NewSeeded(seed+1), 1, rangeMax, winnerCount, claims)

		expected := winnerCount
		if fieldSize < expected {
			expected = fieldSize
		}
		if len(res.Winners) != expected {
			t.Fatalf("expected %d winners, got %d", expected, len(res.Winners))
		}

		drawn := make(map[int]bool, len(res.Drawn))
		for _, n := range res.Drawn {
			drawn[n] = true
		}
		seen := make(map[string]bool)
		for _, w := range res.Winners {
			if seen[w] {
				t.Fatalf("duplicate winner %s", w)
			}
			seen[w] = true
			if !drawn[claimed[w]] {
				t.Fatalf("winner %s claimed %d which was never drawn", w, claimed[w])
			}
		}
	})
}
