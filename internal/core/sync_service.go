package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance.edge/internal/core/model"
	"attendance.edge/internal/ports/erp"
	"attendance.edge/internal/ports/messaging"
	"attendance.edge/internal/ports/repository"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrUnknownSyncTag is returned for sync triggers this coordinator does not handle.
var ErrUnknownSyncTag = errors.New("unknown sync tag")

// Deliverer sends a single queued check-in to the ERP. Every call must reach the network.
type Deliverer interface {
	Deliver(ctx context.Context, payload model.CheckinPayload) (*model.Checkin, error)
}

// SyncOptions configures a SyncService.
type SyncOptions struct {
	// Tag is the only sync trigger tag the service reacts to.
	Tag string
	// AttemptTimeout bounds a single delivery. Zero means no extra bound.
	AttemptTimeout time.Duration
	// MaxAttempts parks an entry in the dead-letter table after that many failures. Zero retries forever.
	MaxAttempts int
}

// SyncService drains the offline queue into the ERP.
type SyncService struct {
	store     repository.QueueStore
	dead      repository.DeadLetterStore
	deliverer Deliverer
	publisher messaging.Publisher
	opts      SyncOptions

	// One drain at a time; a trigger that arrives mid-pass waits for it or for its ctx.
	running chan struct{}
}

// NewSyncService wires the queue, the ERP and the foreground broadcast channel together.
// Dead-lettering is only available when store also implements repository.DeadLetterStore.
func NewSyncService(store repository.QueueStore, deliverer Deliverer, publisher messaging.Publisher, opts SyncOptions) *SyncService {
	dead, _ := store.(repository.DeadLetterStore)
	return &SyncService{
		store:     store,
		dead:      dead,
		deliverer: deliverer,
		publisher: publisher,
		opts:      opts,
		running:   make(chan struct{}, 1),
	}
}

// Tag returns the sync tag this service handles.
func (s *SyncService) Tag() string {
	return s.opts.Tag
}

// HandleSync runs a drain pass if tag is the one this service was configured with.
func (s *SyncService) HandleSync(ctx context.Context, tag string) (*model.SyncReport, error) {
	if tag != s.opts.Tag {
		log.Ctx(ctx).Debug().Str("tag", tag).Msg("Ignoring sync trigger")
		return nil, fmt.Errorf("%w: %q", ErrUnknownSyncTag, tag)
	}
	return s.Drain(ctx)
}

// Drain attempts every queued entry once, in enqueue order.
// Delivered entries are removed; failed ones stay queued for the next trigger.
func (s *SyncService) Drain(ctx context.Context) (*model.SyncReport, error) {
	if err := s.acquire(ctx); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("Gave up waiting for running sync pass")
		return nil, err
	}
	defer func() { <-s.running }()

	ctx, span := otel.Tracer("sync-coordinator").Start(ctx, "drain_queue")
	defer span.End()

	entries, err := s.store.ListAll(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Sync failed, could not read queue")
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	report := &model.SyncReport{Total: len(entries), Results: []model.DeliveryResult{}}
	span.SetAttributes(attribute.Int("app.queue.size", len(entries)))
	if len(entries) == 0 {
		log.Ctx(ctx).Debug().Msg("No offline check-ins to sync")
		return report, nil
	}

	log.Ctx(ctx).Info().Int("count", len(entries)).Msg("Syncing offline check-ins")
	s.publisher.Publish(ctx, model.ClientMessage{Type: model.MessageSyncStart, Count: len(entries)})

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Int("remaining", len(entries)-len(report.Results)).Msg("Sync interrupted")
			return report, err
		}

		result, err := s.deliver(ctx, entry)
		report.Results = append(report.Results, result)
		switch {
		case err == nil:
			report.Delivered++
		case errors.Is(err, erp.ErrCircuitOpen):
			// Never reached the ERP, so it does not count against the entry.
			report.Failed++
		case s.parkIfExhausted(ctx, entry, result.Reason):
			report.DeadLetter++
		default:
			report.Failed++
		}
	}

	s.publisher.Publish(ctx, model.ClientMessage{Type: model.MessageSyncComplete})
	log.Ctx(ctx).Info().
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Int("dead_letter", report.DeadLetter).
		Msg("Sync pass complete")

	return report, nil
}

func (s *SyncService) acquire(ctx context.Context) error {
	select {
	case s.running <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.running <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver makes exactly one POST attempt for entry.
func (s *SyncService) deliver(ctx context.Context, entry model.QueueEntry) (model.DeliveryResult, error) {
	attemptCtx := ctx
	if s.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.opts.AttemptTimeout)
		defer cancel()
	}

	if _, err := s.deliverer.Deliver(attemptCtx, entry.Data); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("entry_id", entry.ID).Str("employee", entry.Data.Employee).Msg("Failed to sync check-in")
		return model.DeliveryResult{EntryID: entry.ID, Status: model.Failed, Reason: err.Error()}, err
	}

	// The ERP has the record now. If the delete fails the entry is sent again next pass.
	if err := s.store.Remove(ctx, entry.ID); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("entry_id", entry.ID).Msg("Delivered check-in could not be removed from queue")
	}
	log.Ctx(ctx).Info().Int64("entry_id", entry.ID).Msg("Synced check-in")
	return model.DeliveryResult{EntryID: entry.ID, Status: model.Delivered}, nil
}

// parkIfExhausted counts a failure and moves the entry aside once it has used all its attempts.
func (s *SyncService) parkIfExhausted(ctx context.Context, entry model.QueueEntry, reason string) bool {
	if s.opts.MaxAttempts <= 0 || s.dead == nil {
		return false
	}

	attempts, err := s.dead.RecordFailure(ctx, entry.ID, reason)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("entry_id", entry.ID).Msg("Could not record failed attempt")
		return false
	}
	if attempts < s.opts.MaxAttempts {
		return false
	}

	if err := s.dead.MoveToDeadLetter(ctx, entry.ID, reason); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("entry_id", entry.ID).Msg("Could not dead-letter check-in")
		return false
	}
	log.Ctx(ctx).Warn().Int64("entry_id", entry.ID).Int("attempts", attempts).Msg("Check-in moved to dead letter")
	return true
}
