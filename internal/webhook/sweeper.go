package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const resumeBatchSize = 100

// Sweeper periodically re-queues stalled deliveries and purges terminal
// records past the retention window. It covers the gap left by restarts:
// in-flight goroutines die with the process, their rows do not.
type Sweeper struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	retention  time.Duration
	logger     zerolog.Logger
}

// NewSweeper schedules the sweep on the given cron expression.
func NewSweeper(dispatcher *Dispatcher, schedule string, retention time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:       cron.New(),
		dispatcher: dispatcher,
		retention:  retention,
		logger:     logger.With().Str("component", "webhook_sweeper").Logger(),
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins sweeping in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	resumed, err := s.dispatcher.Resume(ctx, resumeBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to resume deliveries")
	} else if resumed > 0 {
		s.logger.Info().Int("resumed", resumed).Msg("re-queued stalled deliveries")
	}

	purged, err := s.dispatcher.Purge(ctx, s.retention)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to purge deliveries")
	} else if purged > 0 {
		s.logger.Info().Int64("purged", purged).Msg("purged expired delivery records")
	}
}
