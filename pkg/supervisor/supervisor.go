package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvetools/pvepower/pkg/events"
	"github.com/pvetools/pvepower/pkg/metrics"
	"github.com/rs/zerolog"
)

// ErrTooManyFailures is returned by Run when the consecutive-error
// threshold is reached. The process supervisor owns restart policy; this
// service fails fast rather than retrying forever.
var ErrTooManyFailures = errors.New("too many consecutive cycle failures")

// CycleFunc performs one unit of per-tick work: checking every node's idle
// state, or evaluating the scheduled trigger.
type CycleFunc func(ctx context.Context) error

// Config holds the supervisor settings
type Config struct {
	// Interval is the fixed wait between poll cycles
	Interval time.Duration
	// MaxConsecutiveErrors stops the loop when this many cycles in a row
	// fault
	MaxConsecutiveErrors int
}

// Supervisor drives the fixed-interval poll loop. Any single faulted cycle
// is logged and counted; a clean cycle resets the counter. The loop halts
// when the counter reaches the threshold or the context is canceled.
type Supervisor struct {
	cycle       CycleFunc
	broker      *events.Broker
	cfg         Config
	logger      zerolog.Logger
	consecutive int
}

// New creates a supervisor around the given cycle function; broker may be
// nil.
func New(cycle CycleFunc, broker *events.Broker, cfg Config, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		cycle:  cycle,
		broker: broker,
		cfg:    cfg,
		logger: logger,
	}
}

// Run executes cycles until the context is canceled or the error threshold
// is reached. The first cycle runs immediately; subsequent cycles wait for
// the interval. Cancellation between and during cycles exits without
// dispatching further work.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("max_consecutive_errors", s.cfg.MaxConsecutiveErrors).
		Msg("supervisor started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			return err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info().Msg("supervisor stopped")
			return nil
		}
	}
}

// runCycle executes one cycle and applies the error-counting policy
func (s *Supervisor) runCycle(ctx context.Context) error {
	err := s.cycle(ctx)
	if err == nil {
		if s.consecutive > 0 {
			s.logger.Info().Int("recovered_after", s.consecutive).Msg("cycle succeeded, error counter reset")
		}
		s.consecutive = 0
		metrics.ConsecutiveErrors.Set(0)
		return nil
	}

	// Cancellation is a shutdown signal, not a fault.
	if errors.Is(err, context.Canceled) {
		s.logger.Info().Msg("supervisor stopped")
		return nil
	}

	s.consecutive++
	metrics.CycleErrorsTotal.Inc()
	metrics.ConsecutiveErrors.Set(float64(s.consecutive))
	s.logger.Error().
		Err(err).
		Int("consecutive_errors", s.consecutive).
		Int("max_allowed", s.cfg.MaxConsecutiveErrors).
		Msg("poll cycle failed")
	if s.broker != nil {
		s.broker.Publish(events.TypeCycleError, "", map[string]string{
			"error":       err.Error(),
			"consecutive": fmt.Sprintf("%d", s.consecutive),
		})
	}

	if s.consecutive >= s.cfg.MaxConsecutiveErrors {
		s.logger.Error().
			Int("consecutive_errors", s.consecutive).
			Msg("error threshold reached, halting service")
		if s.broker != nil {
			s.broker.Publish(events.TypeErrorThreshold, "", map[string]string{
				"consecutive": fmt.Sprintf("%d", s.consecutive),
			})
		}
		return fmt.Errorf("%w (%d)", ErrTooManyFailures, s.consecutive)
	}
	return nil
}
