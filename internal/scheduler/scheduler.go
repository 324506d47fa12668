// Package scheduler fires the periodic sync trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"attendance.edge/internal/core/model"
	"attendance.edge/pkg/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// SyncHandler reacts to a sync trigger.
type SyncHandler interface {
	HandleSync(ctx context.Context, tag string) (*model.SyncReport, error)
}

// Scheduler calls HandleSync with a fixed tag on a cron schedule.
// A tick that comes due while the previous one is still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	handler SyncHandler
	tag     string

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec ("@every 5m", "*/10 * * * *", ...) and prepares the schedule without starting it.
func New(handler SyncHandler, tag, spec string) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		handler: handler,
		tag:     tag,
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Str("tag", s.tag).Msg("Periodic sync scheduled")
}

// Stop cancels a running tick and waits for it to return, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx, span := otel.Tracer("sync-scheduler").Start(s.ctx, "periodic_sync")
	defer span.End()
	ctx = logger.EnrichContextWithLogger(ctx)

	if _, err := s.handler.HandleSync(ctx, s.tag); err != nil && !errors.Is(err, context.Canceled) {
		log.Ctx(ctx).Error().Err(err).Msg("Periodic sync failed")
	}
}

// cronLogger routes cron's own logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
