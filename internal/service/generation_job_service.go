package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/jobs"
)

// JobTypeGenerate labels asynchronous generation jobs.
const JobTypeGenerate = "timetable.generate"

type timetableGenerator interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
}

// GenerationJobService runs generation requests on a background worker queue.
type GenerationJobService struct {
	generator timetableGenerator
	queue     *jobs.Queue
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGenerationJobService builds the job service and its queue. Start must be called before Enqueue.
func NewGenerationJobService(generator timetableGenerator, cfg jobs.QueueConfig) *GenerationJobService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	svc := &GenerationJobService{
		generator: generator,
		validator: validator.New(),
		logger:    cfg.Logger,
	}
	svc.queue = jobs.NewQueue("timetable-generation", svc.handle, cfg)
	return svc
}

// Start launches the workers.
func (s *GenerationJobService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *GenerationJobService) Stop() {
	s.queue.Stop()
}

// Enqueue validates req and schedules it.
func (s *GenerationJobService) Enqueue(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerationJobResponse, error) {
	req.Specialization = strings.TrimSpace(req.Specialization)
	if err := s.validator.StructCtx(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation request")
	}
	req.Async = false
	job := jobs.Job{ID: uuid.NewString(), Type: JobTypeGenerate, Payload: req}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue generation")
	}
	s.logger.Info("generation job queued", zap.String("job_id", job.ID), zap.String("key", req.Key().String()))
	return &dto.GenerationJobResponse{JobID: job.ID, Status: string(jobs.StateQueued)}, nil
}

// Status reports the state of a job.
func (s *GenerationJobService) Status(_ context.Context, id string) (*jobs.Status, error) {
	status, ok := s.queue.Status(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "generation job not found")
	}
	return &status, nil
}

func (s *GenerationJobService) handle(ctx context.Context, job jobs.Job) (interface{}, error) {
	req, ok := job.Payload.(dto.GenerateTimetableRequest)
	if !ok {
		return nil, jobs.Permanent(fmt.Errorf("unexpected payload %T", job.Payload))
	}
	resp, err := s.generator.Generate(ctx, req)
	if err != nil {
		if retryable(err) {
			return nil, err
		}
		return nil, jobs.Permanent(err)
	}
	return resp, nil
}

// retryable reports whether another attempt could succeed: lock contention, exhausted ledger
// conflicts and internal failures are retried, request and catalog problems are not.
func retryable(err error) bool {
	if errors.Is(err, appErrors.ErrLedgerLocked) || errors.Is(err, appErrors.ErrLedgerConflict) {
		return true
	}
	return appErrors.FromError(err).Status >= http.StatusInternalServerError
}
