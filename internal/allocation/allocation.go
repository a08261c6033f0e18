// Package allocation implements the number registry for number-pick
// sessions: bounded-range claims with store-level uniqueness and a cached
// availability view.
package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Typed errors callers branch on.
var (
	ErrOutOfRange          = errors.New("number out of range")
	ErrAlreadyClaimed      = errors.New("number already claimed")
	ErrDuplicateNotAllowed = errors.New("participant already holds a number")
	ErrNotHolder           = errors.New("participant does not hold the number")
)

// ClaimStore is the durable claim storage the registry drives. Reserve and
// Release must be atomic: the store, not the registry, decides races.
type ClaimStore interface {
	Reserve(ctx context.Context, sessionID string, number int, participantID string) (bool, error)
	Release(ctx context.Context, sessionID string, number int, participantID string) (bool, error)
	Numbers(ctx context.Context, sessionID string) ([]int, error)
	CountByParticipant(ctx context.Context, sessionID, participantID string) (int, error)
}

// NumberCache caches the availability view. May be nil to run uncached.
type NumberCache interface {
	GetAvailableNumbers(ctx context.Context, sessionID string) ([]int, error)
	SetAvailableNumbers(ctx context.Context, sessionID string, numbers []int) error
	InvalidateAvailableNumbers(ctx context.Context, sessionID string) error
}

// Registry hands out numbers from a session's configured range.
type Registry struct {
	store  ClaimStore
	cache  NumberCache
	logger zerolog.Logger
}

// NewRegistry creates a number registry. cache may be nil.
func NewRegistry(store ClaimStore, cache NumberCache, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "allocation").Logger(),
	}
}

// Reserve claims a number for a participant. With allowDuplicates off, a
// participant may hold at most one number; the pre-check here is advisory
// and the store insert is what actually arbitrates concurrent claims for
// the same number.
func (r *Registry) Reserve(ctx context.Context, sessionID string, rangeMin, rangeMax int, allowDuplicates bool, participantID string, number int) error {
	if number < rangeMin || number > rangeMax {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, number, rangeMin, rangeMax)
	}

	if !allowDuplicates {
		held, err := r.store.CountByParticipant(ctx, sessionID, participantID)
		if err != nil {
			return err
		}
		if held > 0 {
			return ErrDuplicateNotAllowed
		}
	}

	taken, err := r.store.Reserve(ctx, sessionID, number, participantID)
	if err != nil {
		return err
	}
	if !taken {
		return ErrAlreadyClaimed
	}

	r.invalidate(ctx, sessionID)
	r.logger.Debug().
		Str("session_id", sessionID).
		Str("participant_id", participantID).
		Int("number", number).
		Msg("number reserved")
	return nil
}

// Release frees a number the participant holds.
func (r *Registry) Release(ctx context.Context, sessionID string, participantID string, number int) error {
	released, err := r.store.Release(ctx, sessionID, number, participantID)
	if err != nil {
		return err
	}
	if !released {
		return ErrNotHolder
	}

	r.invalidate(ctx, sessionID)
	r.logger.Debug().
		Str("session_id", sessionID).
		Str("participant_id", participantID).
		Int("number", number).
		Msg("number released")
	return nil
}

// Available returns the unclaimed numbers of the range in ascending order,
// served from cache when warm.
func (r *Registry) Available(ctx context.Context, sessionID string, rangeMin, rangeMax int) ([]int, error) {
	if r.cache != nil {
		if numbers, err := r.cache.GetAvailableNumbers(ctx, sessionID); err == nil {
			return numbers, nil
		}
	}

	claimed, err := r.store.Numbers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	taken := make(map[int]bool, len(claimed))
	for _, n := range claimed {
		taken[n] = true
	}

	available := make([]int, 0, rangeMax-rangeMin+1-len(claimed))
	for n := rangeMin; n <= rangeMax; n++ {
		if !taken[n] {
			available = append(available, n)
		}
	}

	if r.cache != nil {
		if err := r.cache.SetAvailableNumbers(ctx, sessionID, available); err != nil {
			r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to cache availability")
		}
	}
	return available, nil
}

func (r *Registry) invalidate(ctx context.Context, sessionID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateAvailableNumbers(ctx, sessionID); err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to invalidate availability cache")
	}
}
