package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kelvana/presetsmith/internal/audio"
	"github.com/kelvana/presetsmith/internal/cache"
	"github.com/kelvana/presetsmith/internal/models"
	mongorepo "github.com/kelvana/presetsmith/internal/repositories/mongo"
	pgrepo "github.com/kelvana/presetsmith/internal/repositories/postgres"
	"github.com/kelvana/presetsmith/internal/statushub"
	"github.com/kelvana/presetsmith/internal/utils"
	"github.com/kelvana/presetsmith/internal/workers"
)

const (
	// ModelName is the single model this backend serves. Kept an open string
	// on the record so more can be added.
	ModelName = "preset-gen"

	DefaultSynth = "vital"

	// terminalRecordTTL bounds how long a terminal ledger record sits in the
	// read-through cache. Terminal records are immutable so any TTL is safe.
	terminalRecordTTL = 10 * time.Minute
)

// Predictor is the worker-client contract the orchestrator depends on.
type Predictor interface {
	Predict(ctx context.Context, wav []byte) ([]byte, error)
}

type SubmitResult struct {
	ID     string
	Status models.RequestStatus
}

type InferenceService interface {
	Submit(ctx context.Context, raw []byte, synth string) (*SubmitResult, error)
	GetStatus(ctx context.Context, id string) (models.RequestStatus, error)
	GetResult(ctx context.Context, id string) ([]byte, error)
	ConsumeResult(ctx context.Context, id string) ([]byte, error)
	Subscribe(id string) (<-chan models.RequestStatus, func())

	// Start spins up the dispatch pool. Must be called once before Submit.
	Start(ctx context.Context) error
}

type Config struct {
	WorkerTimeout time.Duration
	// TerminalWriteRetries is how many extra attempts a failed terminal
	// ledger write gets before it is abandoned as fire-and-forget. Zero means
	// log-and-move-on; operators alert on the persistence_failure log line.
	TerminalWriteRetries int
	DispatchWorkers      int
}

type inferenceService struct {
	ledger    pgrepo.RequestRepository
	artifacts mongorepo.ArtifactRepository
	hub       *statushub.Hub
	worker    Predictor
	records   cache.RecordCache // optional, nil disables the read-through cache
	log       *logrus.Logger
	cfg       Config

	pool *workers.DispatchPool

	mu      sync.Mutex
	results map[string][]byte
}

func NewInferenceService(
	ledger pgrepo.RequestRepository,
	artifacts mongorepo.ArtifactRepository,
	hub *statushub.Hub,
	predictor Predictor,
	records cache.RecordCache,
	log *logrus.Logger,
	cfg Config,
) InferenceService {
	if log == nil {
		log = logrus.New()
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = 5 * time.Minute
	}
	s := &inferenceService{
		ledger:    ledger,
		artifacts: artifacts,
		hub:       hub,
		worker:    predictor,
		records:   records,
		log:       log,
		cfg:       cfg,
		results:   make(map[string][]byte),
	}
	s.pool = &workers.DispatchPool{
		NumWorkers: cfg.DispatchWorkers,
		Handler:    s.dispatch,
		Logger:     log,
	}
	return s
}

func (s *inferenceService) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Submit validates and normalizes the audio, persists the audio artifact and
// the PENDING ledger record, seeds the hub and schedules the asynchronous
// dispatch. It returns as soon as the record is durable; it never waits on
// the inference worker. Malformed input fails synchronously and never
// occupies a ledger slot.
func (s *inferenceService) Submit(ctx context.Context, raw []byte, synth string) (*SubmitResult, error) {
	const op = "InferenceService.Submit"

	id := uuid.NewString()
	if synth == "" {
		synth = DefaultSynth
	}

	log := s.log.WithFields(logrus.Fields{"request_id": id, "synth": synth})
	log.WithField("payload_bytes", len(raw)).Info("submission received")

	norm, err := audio.Normalize(raw)
	if err != nil {
		log.WithError(err).Warn("audio rejected")
		return &SubmitResult{ID: id, Status: models.StatusError}, err
	}

	audioRef, err := s.artifacts.PutAudio(ctx, norm.Compressed, norm.CompressedSize, norm.UncompressedSize)
	if err != nil {
		log.WithError(err).Error("persistence_failure: audio artifact write")
		return nil, utils.E(utils.CodeUnavailable, op, "failed to store audio", err)
	}

	now := time.Now().UTC()
	rec := &models.InferenceRequest{
		ID:                    id,
		Model:                 ModelName,
		Synth:                 synth,
		Status:                models.StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
		AudioRef:              audioRef,
		AudioSizeGzipped:      norm.CompressedSize,
		AudioSizeUncompressed: norm.UncompressedSize,
	}
	if err := s.ledger.Upsert(ctx, rec); err != nil {
		log.WithError(err).Error("persistence_failure: initial ledger write")
		return nil, utils.E(utils.CodeUnavailable, op, "failed to persist request", err)
	}

	s.hub.SetStatus(id, models.StatusPending)

	s.pool.Enqueue(workers.Job{
		RequestID: id,
		Synth:     synth,
		AudioRef:  audioRef,
		Audio:     norm.Decoded,
	})

	log.WithFields(logrus.Fields{
		"audio_ref":         audioRef,
		"size_gzipped":      norm.CompressedSize,
		"size_uncompressed": norm.UncompressedSize,
		"was_compressed":    norm.WasCompressed,
	}).Info("request accepted")

	return &SubmitResult{ID: id, Status: models.StatusPending}, nil
}

// dispatch drives one request from PROCESSING to exactly one terminal
// status. It runs detached from the submitting request's context so a
// disconnected client never cancels durable-state updates.
func (s *inferenceService) dispatch(_ context.Context, job workers.Job) {
	id := job.RequestID
	log := s.log.WithField("request_id", id)

	settled := false
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("dispatch panicked")
			if !settled {
				s.settle(id, models.StatusError, nil, "internal error")
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WorkerTimeout+30*time.Second)
	defer cancel()

	s.hub.SetStatus(id, models.StatusProcessing)
	if err := s.ledger.UpdateStatus(ctx, id, models.StatusProcessing); err != nil {
		// Non-terminal write: log and keep going, the terminal write will
		// carry the final truth.
		log.WithError(err).Error("persistence_failure: processing status write")
	}

	result, err := s.worker.Predict(ctx, job.Audio)
	if err != nil {
		log.WithError(err).Error("inference worker failed")
		s.settle(id, models.StatusError, nil, err.Error())
		settled = true
		return
	}
	log.WithField("result_bytes", len(result)).Info("inference completed")

	presetRef, err := s.artifacts.PutPreset(ctx, result, job.Synth, job.AudioRef)
	if err != nil {
		log.WithError(err).Error("persistence_failure: preset artifact write")
		s.settle(id, models.StatusError, nil, "failed to store result")
		settled = true
		return
	}
	if err := s.artifacts.LinkAudioToPreset(ctx, job.AudioRef, presetRef); err != nil {
		log.WithError(err).Warn("failed to link audio to preset")
	}

	s.mu.Lock()
	s.results[id] = result
	s.mu.Unlock()

	s.settle(id, models.StatusDone, &presetRef, "")
	settled = true
}

// settle performs the single terminal write for a request: ledger first,
// then the hub. A ledger failure here is a PersistenceFailure: it is logged
// (and optionally retried) but the in-memory status still advances, favoring
// status availability over ledger durability for this one failure class.
func (s *inferenceService) settle(id string, status models.RequestStatus, resultRef *string, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rec := &models.InferenceRequest{
		ID:        id,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
		ResultRef: resultRef,
	}
	if errMsg != "" {
		rec.Error = &errMsg
	}

	var err error
	for attempt := 0; attempt <= s.cfg.TerminalWriteRetries; attempt++ {
		if err = s.ledger.Upsert(ctx, rec); err == nil {
			break
		}
	}
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": id,
			"status":     status,
		}).Error("persistence_failure: terminal ledger write abandoned")
	}

	s.hub.SetStatus(id, status)
}

// GetStatus answers from the hub when this process has seen the id, then
// from the terminal-record cache, then from the ledger. An id unknown to all
// three is NOT_FOUND; a ledger that cannot be reached is UNAVAILABLE, never
// NOT_FOUND.
func (s *inferenceService) GetStatus(ctx context.Context, id string) (models.RequestStatus, error) {
	const op = "InferenceService.GetStatus"

	if st, ok := s.hub.GetStatus(id); ok {
		return st, nil
	}

	rec, err := s.findRecord(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return "", utils.E(utils.CodeNotFound, op, "request not found", err)
		}
		return "", utils.E(utils.CodeUnavailable, op, "request lookup failed", err)
	}
	return rec.Status, nil
}

// GetResult returns the result bytes from the in-memory cache when held,
// falling back to the ledger's resultRef and the artifact store. A valid id
// that has not reached DONE yet is NOT_READY, which callers must treat
// differently from NOT_FOUND.
func (s *inferenceService) GetResult(ctx context.Context, id string) ([]byte, error) {
	const op = "InferenceService.GetResult"

	s.mu.Lock()
	cached, ok := s.results[id]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	rec, err := s.findRecord(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "request not found", err)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "request lookup failed", err)
	}

	if !rec.Status.IsTerminal() {
		return nil, utils.E(utils.CodeNotReady, op,
			fmt.Sprintf("result not ready, current status %s", rec.Status), nil)
	}
	if rec.Status == models.StatusError || rec.ResultRef == nil {
		msg := "request ended in ERROR"
		if rec.Error != nil {
			msg = fmt.Sprintf("request ended in ERROR: %s", *rec.Error)
		}
		return nil, utils.E(utils.CodeNotFound, op, msg, nil)
	}

	data, err := s.artifacts.GetPreset(ctx, *rec.ResultRef)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to read result artifact", err)
	}
	if data == nil {
		return nil, utils.E(utils.CodeNotFound, op, "result artifact missing", nil)
	}
	return data, nil
}

// ConsumeResult returns the result once and evicts the in-memory copy. The
// durable artifact stays; repeat calls fall back to the store read path.
func (s *inferenceService) ConsumeResult(ctx context.Context, id string) ([]byte, error) {
	data, err := s.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.results, id)
	s.mu.Unlock()
	return data, nil
}

func (s *inferenceService) Subscribe(id string) (<-chan models.RequestStatus, func()) {
	return s.hub.Subscribe(id)
}

// findRecord reads the ledger through the terminal-record cache. Only
// terminal records are cached; non-terminal records always hit the ledger.
func (s *inferenceService) findRecord(ctx context.Context, id string) (*models.InferenceRequest, error) {
	if s.records != nil {
		if rec, hit, err := s.records.GetRecord(ctx, id); err == nil && hit {
			return rec, nil
		}
	}
	rec, err := s.ledger.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.records != nil && rec.Status.IsTerminal() {
		if err := s.records.SetRecord(ctx, rec, terminalRecordTTL); err != nil {
			s.log.WithError(err).WithField("request_id", id).Debug("record cache write failed")
		}
	}
	return rec, nil
}
