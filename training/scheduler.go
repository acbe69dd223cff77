// Package training drives the asynchronous iteration state machine:
// pending -> running -> completed | failed. Starting an iteration only
// enqueues it; workers pick jobs up, call the external ML engine and
// record the outcome. Engine failures land in the iteration row, never in
// the caller of start.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/services"
)

const defaultQueueSize = 64

type job struct {
	projectID   uuid.UUID
	iterationID uuid.UUID
}

type Scheduler struct {
	projects   *database.ProjectRepo
	images     *database.ImageRepo
	labels     *database.LabelRepo
	configs    *database.TrainingConfigRepo
	iterations *database.IterationRepo
	engine     services.Engine

	workers int
	jobs    chan job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

func NewScheduler(db database.Database, engine services.Engine, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		projects:   db.ProjectRepo(),
		images:     db.ImageRepo(),
		labels:     db.LabelRepo(),
		configs:    db.TrainingConfigRepo(),
		iterations: db.IterationRepo(),
		engine:     engine,
		workers:    workers,
		jobs:       make(chan job, defaultQueueSize),
		logger:     log.With().Str("component", "trainingScheduler").Logger(),
	}
}

// Start launches the worker goroutines. Stop must be called on shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-s.jobs:
					s.run(ctx, j)
				}
			}
		}()
	}

	s.logger.Info().Int("workers", s.workers).Msg("Training scheduler started")
}

// Stop cancels the workers and waits for in-flight runs to record their
// outcome. Queued jobs that were never picked up stay pending.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Training scheduler stopped")
}

// Enqueue hands a pending iteration to the workers. Returns an error only
// when the queue is full; the caller then marks the iteration failed.
func (s *Scheduler) Enqueue(projectID, iterationID uuid.UUID) error {
	select {
	case s.jobs <- job{projectID: projectID, iterationID: iterationID}:
		return nil
	default:
		return fmt.Errorf("training queue full")
	}
}

// run executes a single training job. Only the flips into and out of
// running are atomic; the engine call happens without any lock or open
// transaction, however long it takes.
func (s *Scheduler) run(ctx context.Context, j job) {
	logger := s.logger.With().
		Str("projectID", j.projectID.String()).
		Str("iterationID", j.iterationID.String()).
		Logger()

	if err := s.iterations.MarkRunning(j.iterationID); err != nil {
		if errors.Is(err, database.ErrStaleTransition) {
			logger.Warn().Msg("Iteration no longer pending, skipping")
			return
		}
		logger.Error().Err(err).Msg("Failed to mark iteration running")
		return
	}

	req, err := s.buildTrainRequest(j.projectID)
	if err != nil {
		s.fail(logger, j.iterationID, fmt.Errorf("assembling training set: %w", err))
		return
	}

	result, err := s.engine.Train(ctx, *req)
	if err != nil {
		s.fail(logger, j.iterationID, err)
		return
	}

	outcome := result.Metrics
	if len(outcome) == 0 {
		outcome = json.RawMessage(`{"status":"trained"}`)
	}
	if err := s.iterations.MarkCompleted(j.iterationID, outcome, result.ArtifactRef); err != nil {
		logger.Error().Err(err).Msg("Failed to mark iteration completed")
		return
	}
	logger.Info().Str("artifactRef", result.ArtifactRef).Msg("Iteration completed")
}

// fail records the diagnostics in the iteration row. Nothing propagates
// back to the caller of start; failure is observed by polling.
func (s *Scheduler) fail(logger zerolog.Logger, iterationID uuid.UUID, cause error) {
	diagnostics, err := json.Marshal(map[string]string{"error": cause.Error()})
	if err != nil {
		diagnostics = json.RawMessage(`{"error":"training failed"}`)
	}
	if err := s.iterations.MarkFailed(iterationID, diagnostics); err != nil {
		logger.Error().Err(err).Msg("Failed to mark iteration failed")
		return
	}
	logger.Warn().Err(cause).Msg("Iteration failed")
}

func (s *Scheduler) buildTrainRequest(projectID uuid.UUID) (*services.TrainRequest, error) {
	project, err := s.projects.FindByID(projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s no longer exists", projectID)
	}

	cfg, err := s.configs.FindByProject(projectID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("project %s has no training config", projectID)
	}

	images, err := s.images.FindAllByProject(projectID)
	if err != nil {
		return nil, err
	}
	imageIDs := make([]uuid.UUID, 0, len(images))
	for _, img := range images {
		imageIDs = append(imageIDs, img.ID)
	}
	labelsByImage, err := s.labels.FindAllByImages(imageIDs)
	if err != nil {
		return nil, err
	}

	samples := make([]services.TrainingSample, 0, len(images))
	for _, img := range images {
		sample := services.TrainingSample{
			ImageID:  img.ID.String(),
			BlobKey:  img.BlobKey,
			Filename: img.Filename,
		}
		for _, label := range labelsByImage[img.ID] {
			sample.Labels = append(sample.Labels, label.Payload)
		}
		samples = append(samples, sample)
	}

	return &services.TrainRequest{
		ProjectID:   project.ID.String(),
		ProjectType: project.Type,
		Config:      cfg.Payload,
		Samples:     samples,
	}, nil
}
