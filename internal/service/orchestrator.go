package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/events"
	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
	"github.com/MimeLyc/translation-orchestrator/internal/provider"
	"github.com/MimeLyc/translation-orchestrator/internal/quality"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

const DefaultChunkSize = 3

// Translator performs one provider call for the given execution config.
type Translator interface {
	Translate(ctx context.Context, cfg config.ExecutionConfig, text string) (provider.Result, error)
}

// ConfigSource resolves the active configuration into an execution config.
type ConfigSource interface {
	Resolve() (config.ExecutionConfig, error)
}

type SegmentInput struct {
	SegmentID      string          `json:"segment_id"`
	OriginalText   string          `json:"original_text"`
	StartTime      json.RawMessage `json:"start_time,omitempty"`
	EndTime        json.RawMessage `json:"end_time,omitempty"`
	TranslatedText string          `json:"translated_text,omitempty"`
}

type CreateJobRequest struct {
	FileID                  string         `json:"file_id"`
	Segments                []SegmentInput `json:"segments"`
	UseExistingTranslations bool           `json:"use_existing_translations"`
}

// Orchestrator owns the job state machine. Jobs run on the queue workers;
// within a job, chunks run one after another and every chunk ends with one
// atomic save of the whole job.
type Orchestrator struct {
	store      jobs.Store
	translator Translator
	settings   ConfigSource
	publisher  events.Publisher
	queue      *jobs.Queue
	locks      *jobs.KeyedMutex

	chunkSize  int
	liveConfig bool
	now        func() time.Time
	newID      func() string
	tracer     trace.Tracer

	metrics singleflight.Group
}

type Option func(*Orchestrator)

func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

func WithMaxConcurrentJobs(n int) Option {
	return func(o *Orchestrator) {
		o.queue = jobs.NewQueue(n)
	}
}

// WithConfigMode selects config.ConfigModeLive to re-read the active
// configuration before every chunk instead of using the job snapshot.
func WithConfigMode(mode string) Option {
	return func(o *Orchestrator) {
		o.liveConfig = mode == config.ConfigModeLive
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

func NewOrchestrator(store jobs.Store, translator Translator, settings ConfigSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		translator: translator,
		settings:   settings,
		publisher:  events.NewMemoryBus(0),
		queue:      jobs.NewQueue(4),
		locks:      jobs.NewKeyedMutex(),
		chunkSize:  DefaultChunkSize,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		tracer:     otel.Tracer("translation-orchestrator/service"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the workers. Jobs interrupted by ctx stay in progress and
// are picked up again by Recover.
func (o *Orchestrator) Start(ctx context.Context) {
	o.queue.Start(ctx, o.run)
}

func (o *Orchestrator) Stop() {
	o.queue.Stop()
}

// QueueStats returns the number of queued and running jobs.
func (o *Orchestrator) QueueStats() (queued, running int) {
	return o.queue.Stats()
}

func (o *Orchestrator) CreateJob(ctx context.Context, req CreateJobRequest) (*jobs.Job, error) {
	segments, err := buildSegments(req)
	if err != nil {
		return nil, err
	}
	cfg, err := o.settings.Resolve()
	if err != nil {
		return nil, err
	}

	now := o.now()
	job := &jobs.Job{
		JobID:                   o.newID(),
		FileID:                  strings.TrimSpace(req.FileID),
		Segments:                segments,
		Status:                  jobs.StatusPending,
		Config:                  cfg,
		UseExistingTranslations: req.UseExistingTranslations,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	job.Recompute()

	if err := o.store.SaveJob(ctx, job); err != nil {
		log.Error("Failed to persist new job %s: %v", job.JobID, err)
		return nil, apperr.Persistence(err, "save job")
	}
	log.Info("Created job %s for file %s with %d segments (provider=%s model=%s)",
		job.JobID, job.FileID, job.TotalSegments, cfg.ProviderID, cfg.ModelID)
	o.publish(ctx, job, events.TypeCreated, "")
	o.queue.Enqueue(job.JobID)
	return job.Clone(), nil
}

func buildSegments(req CreateJobRequest) ([]jobs.Segment, error) {
	if strings.TrimSpace(req.FileID) == "" {
		return nil, apperr.Validation("file_id is required")
	}
	if len(req.Segments) == 0 {
		return nil, apperr.Validation("segments must not be empty")
	}

	seen := make(map[string]struct{}, len(req.Segments))
	out := make([]jobs.Segment, 0, len(req.Segments))
	for i, in := range req.Segments {
		if strings.TrimSpace(in.OriginalText) == "" {
			return nil, apperr.Validation("segment %d: original_text is required", i)
		}
		id := strings.TrimSpace(in.SegmentID)
		if id == "" {
			id = fmt.Sprintf("seg-%d", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, apperr.Validation("duplicate segment_id %q", id)
		}
		seen[id] = struct{}{}

		seg := jobs.Segment{
			SegmentID:    id,
			OriginalText: in.OriginalText,
			StartTime:    in.StartTime,
			EndTime:      in.EndTime,
			Status:       jobs.SegmentPending,
		}
		if req.UseExistingTranslations {
			if strings.TrimSpace(in.TranslatedText) == "" {
				return nil, apperr.Validation("segment %s: translated_text is required when use_existing_translations is set", id)
			}
			text := in.TranslatedText
			seg.TranslatedText = &text
		}
		out = append(out, seg)
	}
	return out, nil
}

func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "load job")
	}
	return job, nil
}

func (o *Orchestrator) ListJobs(ctx context.Context) ([]jobs.Summary, error) {
	list, err := o.store.ListJobs(ctx)
	if err != nil {
		return nil, storeError(err, "list jobs")
	}
	return list, nil
}

// UpdateSegment replaces a translation during the review window between
// completion and approval.
func (o *Orchestrator) UpdateSegment(ctx context.Context, jobID, segmentID, translation string) (*jobs.Job, error) {
	if strings.TrimSpace(translation) == "" {
		return nil, apperr.Validation("translated_text must not be empty")
	}

	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "load job")
	}
	if job.Status != jobs.StatusCompleted {
		return nil, apperr.InvalidState("job %s is %s; segments can only be edited on completed jobs", jobID, job.Status)
	}
	idx := job.SegmentIndex(segmentID)
	if idx < 0 {
		return nil, apperr.NotFound("segment %s not found in job %s", segmentID, jobID)
	}

	now := o.now()
	seg := &job.Segments[idx]
	if !seg.IsEdited && seg.TranslatedText != nil {
		machine := *seg.TranslatedText
		seg.MachineTranslation = &machine
	}
	seg.TranslatedText = &translation
	seg.IsEdited = true
	seg.EditedAt = &now
	job.UpdatedAt = now

	if err := o.store.SaveJob(ctx, job); err != nil {
		log.Error("Failed to persist job %s: %v", jobID, err)
		return nil, apperr.Persistence(err, "save job")
	}
	o.publish(ctx, job, events.TypeSegmentUpdated, segmentID)
	return job, nil
}

// CancelJob asks a pending or running job to stop. The flag is honoured
// between chunks; segments not yet translated end up failed.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "load job")
	}
	if job.Status != jobs.StatusPending && job.Status != jobs.StatusInProgress {
		return nil, apperr.InvalidState("job %s is %s and cannot be cancelled", jobID, job.Status)
	}
	if job.CancelRequested {
		return job, nil
	}
	job.CancelRequested = true
	job.UpdatedAt = o.now()
	if err := o.store.SaveJob(ctx, job); err != nil {
		log.Error("Failed to persist job %s: %v", jobID, err)
		return nil, apperr.Persistence(err, "save job")
	}
	log.Info("Cancellation requested for job %s", jobID)
	o.publish(ctx, job, events.TypeCancelRequest, "")
	o.queue.Enqueue(jobID)
	return job, nil
}

// Recover queues every unfinished job that is not already queued or running.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	list, err := o.store.ListJobs(ctx)
	if err != nil {
		return 0, storeError(err, "list jobs")
	}
	resumed := 0
	// oldest first so recovered jobs keep their submission order
	for i := len(list) - 1; i >= 0; i-- {
		s := list[i]
		if s.Status != jobs.StatusPending && s.Status != jobs.StatusInProgress {
			continue
		}
		if o.queue.Enqueue(s.JobID) {
			resumed++
		}
	}
	if resumed > 0 {
		log.Info("Resumed %d unfinished jobs", resumed)
	}
	return resumed, nil
}

// run drives one job from its first unprocessed segment to a terminal status.
func (o *Orchestrator) run(ctx context.Context, jobID string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_job", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	job, err := o.begin(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if job == nil {
		return nil
	}

	// chunk results are saved even when shutdown starts mid chunk
	persistCtx := context.WithoutCancel(ctx)
	scorer := quality.NewScorer(job.Config.TargetLanguage)
	for {
		start := job.FirstPending()
		if start < 0 {
			break
		}
		if job.CancelRequested {
			return o.finishCancelled(persistCtx, jobID)
		}
		if ctx.Err() != nil {
			log.Info("Job %s paused at segment %d/%d; it resumes on next recovery", jobID, start, job.TotalSegments)
			return nil
		}

		cfg := job.Config
		if o.liveConfig {
			if live, err := o.settings.Resolve(); err == nil {
				cfg = live
				scorer = quality.NewScorer(cfg.TargetLanguage)
			} else {
				log.Warn("Job %s keeps its snapshot config, active config unusable: %v", jobID, err)
			}
		}

		end := jobs.ChunkEnd(start, o.chunkSize, len(job.Segments))
		results := o.translateChunk(ctx, job, cfg, scorer, start, end)

		job, err = o.checkpoint(persistCtx, jobID, start, results)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return o.finalize(persistCtx, jobID)
}

// begin loads the job and moves it to in_progress. It returns nil when the
// job has nothing left to do.
func (o *Orchestrator) begin(ctx context.Context, jobID string) (*jobs.Job, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "load job")
	}
	if job.Status.Terminal() {
		return nil, nil
	}
	if job.Status == jobs.StatusPending {
		if err := job.Transition(jobs.StatusInProgress, o.now()); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrInvalidState, "start job")
		}
		if err := o.store.SaveJob(ctx, job); err != nil {
			log.Error("Failed to persist job %s: %v", jobID, err)
			return nil, apperr.Persistence(err, "save job")
		}
		log.Info("Job %s started: %d segments in chunks of %d", jobID, job.TotalSegments, o.chunkSize)
		o.publish(ctx, job, events.TypeStarted, "")
	}
	return job, nil
}

// translateChunk translates segments [start, end) of job. Provider calls run
// on a context detached from shutdown so an in-flight call always finishes.
func (o *Orchestrator) translateChunk(ctx context.Context, job *jobs.Job, cfg config.ExecutionConfig, scorer *quality.Scorer, start, end int) []jobs.Segment {
	ctx, span := o.tracer.Start(ctx, "orchestrator.chunk", trace.WithAttributes(
		attribute.String("job.id", job.JobID),
		attribute.Int("chunk.start", start),
		attribute.Int("chunk.end", end),
	))
	defer span.End()

	callCtx := context.WithoutCancel(ctx)
	out := make([]jobs.Segment, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, o.translateSegment(callCtx, job, cfg, scorer, job.Segments[i].Clone()))
	}
	return out
}

func (o *Orchestrator) translateSegment(ctx context.Context, job *jobs.Job, cfg config.ExecutionConfig, scorer *quality.Scorer, seg jobs.Segment) jobs.Segment {
	if job.UseExistingTranslations && seg.TranslatedText != nil && strings.TrimSpace(*seg.TranslatedText) != "" {
		return scored(seg, scorer, *seg.TranslatedText, 1.0, 0)
	}

	started := time.Now()
	res, err := o.translator.Translate(ctx, cfg, seg.OriginalText)
	elapsed := roundTo(time.Since(started).Seconds(), 3)
	if err != nil {
		reason := apperr.Message(err)
		log.Warn("Job %s segment %s failed: %s", job.JobID, seg.SegmentID, reason)
		text := jobs.FailedSentinel(reason)
		confidence, score := 0.0, 0.0
		seg.TranslatedText = &text
		seg.ConfidenceScore = &confidence
		seg.QualityScore = &score
		seg.Status = jobs.SegmentFailed
		seg.Error = reason
		seg.TranslationTime = elapsed
		return seg
	}
	return scored(seg, scorer, res.TranslatedText, res.Confidence, elapsed)
}

func scored(seg jobs.Segment, scorer *quality.Scorer, text string, confidence, elapsed float64) jobs.Segment {
	score := scorer.Score(seg.OriginalText, text, confidence)
	metrics := scorer.Evaluate(seg.OriginalText, text)
	seg.TranslatedText = &text
	seg.ConfidenceScore = &confidence
	seg.QualityScore = &score
	seg.QualityMetrics = &metrics
	seg.Status = jobs.SegmentCompleted
	seg.Error = ""
	seg.TranslationTime = elapsed
	return seg
}

// checkpoint merges the chunk results into the stored job and saves it in
// one write. The stored copy is re-read so a concurrent cancel request is kept.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID string, start int, results []jobs.Segment) (*jobs.Job, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "load job")
	}
	for i, seg := range results {
		job.Segments[start+i] = seg
	}
	job.Recompute()
	job.UpdatedAt = o.now()

	if err := o.store.SaveJob(ctx, job); err != nil {
		log.Error("Failed to persist job %s: %v", jobID, err)
		return nil, apperr.Persistence(err, "save chunk")
	}
	log.Debug("Job %s progress %d/%d", jobID, job.CompletedSegments, job.TotalSegments)
	o.publish(ctx, job, events.TypeProgress, "")
	return job, nil
}

func (o *Orchestrator) finalize(ctx context.Context, jobID string) error {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return storeError(err, "load job")
	}
	job.Recompute()
	outcome := job.OutcomeStatus()
	if err := job.Transition(outcome, o.now()); err != nil {
		return apperr.Wrap(err, apperr.ErrInvalidState, "finish job")
	}
	if outcome == jobs.StatusFailed {
		job.Error = fmt.Sprintf("%d of %d segments failed", job.FailedSegments, job.TotalSegments)
	}
	return o.saveTerminal(ctx, job)
}

func (o *Orchestrator) finishCancelled(ctx context.Context, jobID string) error {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return storeError(err, "load job")
	}
	for i := range job.Segments {
		seg := &job.Segments[i]
		if seg.Status != jobs.SegmentPending {
			continue
		}
		text := jobs.CancelledSentinel
		confidence, score := 0.0, 0.0
		seg.TranslatedText = &text
		seg.ConfidenceScore = &confidence
		seg.QualityScore = &score
		seg.Status = jobs.SegmentFailed
		seg.Error = "cancelled"
	}
	job.Recompute()
	if err := job.Transition(jobs.StatusFailed, o.now()); err != nil {
		return apperr.Wrap(err, apperr.ErrInvalidState, "cancel job")
	}
	job.Error = "cancelled by request"
	return o.saveTerminal(ctx, job)
}

func (o *Orchestrator) saveTerminal(ctx context.Context, job *jobs.Job) error {
	if err := o.store.SaveJob(ctx, job); err != nil {
		log.Error("Failed to persist job %s: %v", job.JobID, err)
		return apperr.Persistence(err, "save job")
	}
	kind := events.TypeCompleted
	if job.Status == jobs.StatusFailed {
		kind = events.TypeFailed
	}
	log.Info("Job %s finished %s: %d/%d segments, %d failed, avg confidence %.2f, avg quality %.2f",
		job.JobID, job.Status, job.CompletedSegments, job.TotalSegments, job.FailedSegments,
		job.AverageConfidence, job.AverageQualityScore)
	o.publish(ctx, job, kind, job.Error)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, job *jobs.Job, kind events.Type, message string) {
	err := o.publisher.Publish(context.WithoutCancel(ctx), events.Event{
		Timestamp:         o.now(),
		JobID:             job.JobID,
		Type:              kind,
		Status:            string(job.Status),
		CompletedSegments: job.CompletedSegments,
		TotalSegments:     job.TotalSegments,
		Message:           message,
	})
	if err != nil {
		log.Warn("Failed to publish %s for job %s: %v", kind, job.JobID, err)
	}
}

// storeError keeps typed errors such as NotFound and wraps the rest as
// persistence failures.
func storeError(err error, action string) error {
	if apperr.TypeOf(err) != apperr.ErrUnknown {
		return err
	}
	return apperr.Persistence(err, action)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
