package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance.edge/internal/core/model"
	"attendance.edge/internal/ports/erp"
	"attendance.edge/internal/ports/geocode"
	"attendance.edge/internal/ports/repository"
	"github.com/rs/zerolog/log"
)

// ErrInvalidCheckin is returned when a submitted check-in fails validation.
var ErrInvalidCheckin = errors.New("invalid check-in")

type CheckInService struct {
	erp      erp.API
	queue    repository.QueueStore
	geocoder geocode.Geocoder
	now      func() time.Time
}

// NewCheckInService creates the foreground-facing service,
// wiring up the ERP client, the offline queue and the geocoder.
func NewCheckInService(api erp.API, queue repository.QueueStore, geocoder geocode.Geocoder) *CheckInService {
	return &CheckInService{
		erp:      api,
		queue:    queue,
		geocoder: geocoder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit sends a check-in to the ERP, or parks it in the offline queue
// when the ERP cannot take it right now.
func (s *CheckInService) Submit(ctx context.Context, req model.CheckinRequest) (*model.SubmitResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	payload := model.CheckinPayload{
		Employee:    req.Employee,
		LogType:     req.LogType,
		CheckinTime: req.CheckinTime,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Landmark:    req.Landmark,
		Status:      model.StatusPending,
		HOD:         req.HOD,
	}
	if payload.CheckinTime.IsZero() {
		payload.CheckinTime = s.now()
	}
	if payload.Landmark == "" && s.geocoder != nil {
		payload.Landmark = s.geocoder.Landmark(ctx, payload.Latitude, payload.Longitude)
	}

	if req.Deferred {
		return s.enqueue(ctx, payload, "deferred by client")
	}

	created, err := s.erp.PostCheckin(ctx, payload)
	if err == nil {
		log.Ctx(ctx).Info().Str("employee", payload.Employee).Str("name", created.Name).Msg("Check-in submitted")
		return &model.SubmitResult{Outcome: model.OutcomeSubmitted, Checkin: created}, nil
	}

	// The ERP looked at the record and refused it; queueing would only repeat the refusal.
	var apiErr *erp.APIError
	if errors.As(err, &apiErr) && apiErr.Status < 500 {
		return nil, err
	}

	log.Ctx(ctx).Warn().Err(err).Str("employee", payload.Employee).Msg("ERP unreachable, queueing check-in")
	return s.enqueue(ctx, payload, err.Error())
}

func (s *CheckInService) enqueue(ctx context.Context, payload model.CheckinPayload, reason string) (*model.SubmitResult, error) {
	id, err := s.queue.Enqueue(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to queue check-in: %w", err)
	}
	log.Ctx(ctx).Info().Int64("entry_id", id).Str("employee", payload.Employee).Msg("Check-in queued")
	return &model.SubmitResult{Outcome: model.OutcomeQueued, QueueID: id, Reason: reason}, nil
}

func validate(req model.CheckinRequest) error {
	switch {
	case req.Employee == "":
		return fmt.Errorf("%w: employee is required", ErrInvalidCheckin)
	case !req.LogType.Valid():
		return fmt.Errorf("%w: log_type must be IN or OUT, got %q", ErrInvalidCheckin, req.LogType)
	case req.Latitude < -90 || req.Latitude > 90:
		return fmt.Errorf("%w: latitude out of range", ErrInvalidCheckin)
	case req.Longitude < -180 || req.Longitude > 180:
		return fmt.Errorf("%w: longitude out of range", ErrInvalidCheckin)
	}
	return nil
}

// Pending lists check-ins waiting for approval, optionally for one head of department.
func (s *CheckInService) Pending(ctx context.Context, hod string) ([]model.Checkin, error) {
	return s.erp.ListPending(ctx, hod)
}

// Decide approves or rejects a pending check-in.
func (s *CheckInService) Decide(ctx context.Context, name string, status model.CheckinStatus, remarks string) (*model.Checkin, error) {
	if status != model.StatusApproved && status != model.StatusRejected {
		return nil, fmt.Errorf("%w: status must be Approved or Rejected, got %q", ErrInvalidCheckin, status)
	}
	updated, err := s.erp.UpdateStatus(ctx, name, status, remarks)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("name", name).Str("status", string(status)).Msg("Check-in decided")
	return updated, nil
}

// Discard deletes a check-in from the ERP.
func (s *CheckInService) Discard(ctx context.Context, name string) error {
	return s.erp.DeleteCheckin(ctx, name)
}

// History returns an employee's check-ins, newest first.
func (s *CheckInService) History(ctx context.Context, employee string) ([]model.Checkin, error) {
	return s.erp.ListEmployeeCheckins(ctx, employee)
}

// Employee resolves a login to its employee record.
func (s *CheckInService) Employee(ctx context.Context, userID string) (*model.EmployeeProfile, error) {
	emp, err := s.erp.GetEmployee(ctx, userID)
	if err != nil {
		return nil, err
	}
	manager, err := s.erp.IsManager(ctx, emp.Name)
	if err != nil {
		return nil, err
	}
	return &model.EmployeeProfile{Employee: *emp, IsManager: manager}, nil
}
