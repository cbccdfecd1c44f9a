// Package service runs batch occupancy evaluations and delivers their reports.
package service

import (
	"context"
	"sync"

	"github.com/nvr-ai/parking-occupancy/controller"
	"github.com/nvr-ai/parking-occupancy/metrics"
	"github.com/nvr-ai/parking-occupancy/notify"
	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/nvr-ai/parking-occupancy/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrInvalidInput is returned when the run parameters are out of range.
var ErrInvalidInput = errors.New("invalid input")

// Publisher sends run messages.
type Publisher interface {
	Publish(ctx context.Context, msg notify.Message) error
}

// Outcome is the result of a delivered run.
type Outcome struct {
	Report     *report.BatchReport
	ResultPath string
	// SessionID is the stored session id, zero when persistence is disabled or failed.
	SessionID uint
}

// OccupancyService runs batches one at a time and writes, stores and announces their reports.
type OccupancyService struct {
	log       zerolog.Logger
	metrics   *metrics.Metrics
	store     *store.Store
	publisher Publisher

	mu sync.Mutex
}

// NewOccupancyService creates the service. The store and publisher are optional.
func NewOccupancyService(log zerolog.Logger, m *metrics.Metrics, st *store.Store, pub Publisher) *OccupancyService {
	return &OccupancyService{
		log:       log,
		metrics:   m,
		store:     st,
		publisher: pub,
	}
}

// Store returns the store runs are saved to, or nil when persistence is off.
func (s *OccupancyService) Store() *store.Store {
	return s.store
}

// Run evaluates a batch with config and writes the report into the run directory.
//
// Persistence and notification failures are logged and do not fail the run;
// the report file is the record of truth.
//
// Arguments:
//   - ctx: Cancels the batch between images.
//   - config: The run configuration.
//
// Returns:
//   - *Outcome: The report and where it was written.
//   - error: ErrInvalidInput, a catalog error, or report.ErrOutputUnwritable.
func (s *OccupancyService) Run(ctx context.Context, config controller.Config) (*Outcome, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctrl, err := controller.New(config, controller.WithLogger(s.log), controller.WithMetrics(s.metrics))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}

	rep, err := ctrl.Run(ctx)
	if err != nil {
		if rep != nil {
			// Cancelled: hand back what was evaluated, unwritten.
			return &Outcome{Report: rep}, err
		}
		return nil, err
	}

	path, err := report.Write(rep, rep.OutputDir)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", rep.RunID).Msg("failed to write report")
		return &Outcome{Report: rep}, err
	}
	outcome := &Outcome{Report: rep, ResultPath: path}

	if s.store != nil {
		session, err := s.store.SaveReport(ctx, rep, path)
		if err != nil {
			s.log.Error().Err(err).Str("run_id", rep.RunID).Msg("failed to store report")
		} else {
			outcome.SessionID = session.ID
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, notify.NewMessage(rep, path)); err != nil {
			s.log.Warn().Err(err).Str("run_id", rep.RunID).Msg("failed to publish run message")
		}
	}

	s.log.Info().
		Str("run_id", rep.RunID).
		Str("result_path", path).
		Int("total_tests", rep.TotalTests).
		Msg("run delivered")
	return outcome, nil
}
