package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	pruneQuotasSpec = "0 5 0 * * *"
	trimStreamSpec  = "0 0 * * * *"
	jobTimeout      = time.Minute
)

type QuotaPruner interface {
	PruneBefore(ctx context.Context, day time.Time) (int64, error)
}

type StreamTrimmer interface {
	Trim(ctx context.Context) (int64, error)
}

// Scheduler runs housekeeping in the API process: a daily sweep of
// quota counters from past days and an hourly trim of the event stream.
type Scheduler struct {
	cron   *cron.Cron
	quotas QuotaPruner
	stream StreamTrimmer
	today  func() time.Time
	log    zerolog.Logger
}

func NewScheduler(quotas QuotaPruner, stream StreamTrimmer, today func() time.Time, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		quotas: quotas,
		stream: stream,
		today:  today,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if s.quotas != nil {
		if _, err := s.cron.AddFunc(pruneQuotasSpec, s.pruneQuotas); err != nil {
			return err
		}
	}
	if s.stream != nil {
		if _, err := s.cron.AddFunc(trimStreamSpec, s.trimStream); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) pruneQuotas() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := s.quotas.PruneBefore(ctx, s.today())
	if err != nil {
		s.log.Error().Err(err).Msg("prune quota counters failed")
		return
	}
	s.log.Info().Int64("removed", removed).Msg("pruned quota counters")
}

func (s *Scheduler) trimStream() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	evicted, err := s.stream.Trim(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("trim event stream failed")
		return
	}
	s.log.Debug().Int64("evicted", evicted).Msg("trimmed event stream")
}
