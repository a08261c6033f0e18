// Package rng abstracts the randomness source used by winner selection,
// so draws stay deterministic in tests and the source can be swapped out
// without touching selection logic.
package rng

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the subset of math/rand used by the draw algorithms.
// *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

// SeedProvider hands out a fresh Source per draw.
type SeedProvider interface {
	Next() Source
}

// systemProvider seeds each Source from the wall clock.
type systemProvider struct {
	mu sync.Mutex
}

// NewSystemProvider returns a SeedProvider backed by time-seeded
// pseudo-random sources. Not cryptographically verifiable.
func NewSystemProvider() SeedProvider {
	return &systemProvider{}
}

func (p *systemProvider) Next() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// NewSeeded returns a Source producing the deterministic sequence for seed.
func NewSeeded(seed int64) Source {
	return rand.New(rand.NewSource(seed))
}

// fixedProvider always returns sources with the same seed.
type fixedProvider struct {
	seed int64
}

// NewFixedProvider returns a SeedProvider whose every Source starts from
// the same seed. Used for reproducible draws and golden tests.
func NewFixedProvider(seed int64) SeedProvider {
	return &fixedProvider{seed: seed}
}

func (p *fixedProvider) Next() Source {
	return rand.New(rand.NewSource(p.seed))
}
