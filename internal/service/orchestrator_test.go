package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/events"
	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
	"github.com/MimeLyc/translation-orchestrator/internal/persistence"
	"github.com/MimeLyc/translation-orchestrator/internal/provider"
)

type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
	fn    func(cfg config.ExecutionConfig, text string) (provider.Result, error)
}

func (f *fakeTranslator) Translate(_ context.Context, cfg config.ExecutionConfig, text string) (provider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(cfg, text)
	}
	return provider.Result{TranslatedText: "t:" + text, Confidence: 0.8}, nil
}

func (f *fakeTranslator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type staticConfig struct {
	mu  sync.Mutex
	cfg config.ExecutionConfig
	err error
}

func (s *staticConfig) Resolve() (config.ExecutionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.err
}

func (s *staticConfig) set(cfg config.ExecutionConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func testExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		ProviderID:     "mock",
		ProviderKind:   "mock",
		ModelID:        "mock-1",
		PromptContent:  "Translate.",
		MaxTokens:      100,
		SourceLanguage: "ar",
		TargetLanguage: "ur",
	}
}

type harness struct {
	store      persistence.Backend
	translator *fakeTranslator
	settings   *staticConfig
	bus        *events.MemoryBus
	orch       *Orchestrator
	approver   *Approver
}

func newHarness(t *testing.T, translator *fakeTranslator, opts ...Option) *harness {
	t.Helper()
	store, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return newHarnessWithStore(t, store, translator, opts...)
}

func newHarnessWithStore(t *testing.T, store persistence.Backend, translator *fakeTranslator, opts ...Option) *harness {
	t.Helper()
	if translator == nil {
		translator = &fakeTranslator{}
	}
	h := &harness{
		store:      store,
		translator: translator,
		settings:   &staticConfig{cfg: testExecConfig()},
		bus:        events.NewMemoryBus(100),
	}
	opts = append([]Option{WithPublisher(h.bus)}, opts...)
	h.orch = NewOrchestrator(store, translator, h.settings, opts...)
	h.approver = NewApprover(h.orch, store)
	h.orch.Start(context.Background())
	t.Cleanup(h.orch.Stop)
	return h
}

func segmentsOf(texts ...string) []SegmentInput {
	out := make([]SegmentInput, 0, len(texts))
	for i, text := range texts {
		out = append(out, SegmentInput{SegmentID: fmt.Sprintf("s%d", i+1), OriginalText: text})
	}
	return out
}

func (h *harness) waitForStatus(t *testing.T, jobID string, want jobs.Status) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		got, err := h.orch.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func (h *harness) completedJob(t *testing.T, texts ...string) *jobs.Job {
	t.Helper()
	job, err := h.orch.CreateJob(context.Background(), CreateJobRequest{FileID: "file-1", Segments: segmentsOf(texts...)})
	require.NoError(t, err)
	return h.waitForStatus(t, job.JobID, jobs.StatusCompleted)
}

func TestCreateJob_ProgressesChunkByChunk(t *testing.T) {
	release := make(chan struct{})
	translator := &fakeTranslator{fn: func(_ config.ExecutionConfig, text string) (provider.Result, error) {
		if text == "four" {
			<-release
		}
		return provider.Result{TranslatedText: "t:" + text, Confidence: 0.9}, nil
	}}
	h := newHarness(t, translator, WithChunkSize(3))

	created, err := h.orch.CreateJob(context.Background(), CreateJobRequest{
		FileID:   "file-1",
		Segments: segmentsOf("one", "two", "three", "four", "five"),
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, created.Status)
	assert.Equal(t, 5, created.TotalSegments)
	assert.Equal(t, 0, created.CompletedSegments)

	require.Eventually(t, func() bool {
		job, err := h.orch.GetJob(context.Background(), created.JobID)
		return err == nil && job.CompletedSegments == 3
	}, 3*time.Second, 10*time.Millisecond)

	mid, err := h.orch.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusInProgress, mid.Status)
	assert.Equal(t, jobs.SegmentPending, mid.Segments[3].Status)

	close(release)
	done := h.waitForStatus(t, created.JobID, jobs.StatusCompleted)
	assert.Equal(t, 5, done.CompletedSegments)
	assert.Equal(t, 0, done.FailedSegments)
	assert.InDelta(t, 0.9, done.AverageConfidence, 1e-9)
	assert.NotNil(t, done.CompletedAt)
	for i, seg := range done.Segments {
		assert.Equal(t, jobs.SegmentCompleted, seg.Status)
		require.NotNil(t, seg.TranslatedText)
		assert.Equal(t, "t:"+created.Segments[i].OriginalText, *seg.TranslatedText)
		require.NotNil(t, seg.QualityScore)
		assert.Greater(t, *seg.QualityScore, 0.0)
		assert.NotNil(t, seg.QualityMetrics)
	}
	assert.Equal(t, []string{"one", "two", "three", "four", "five"}, translator.Calls())

	progress := 0
	for _, e := range h.bus.Since(0) {
		if e.JobID == created.JobID && e.Type == events.TypeProgress {
			progress++
		}
	}
	assert.Equal(t, 2, progress)
}

func TestCreateJob_ProviderFailureIsAbsorbed(t *testing.T) {
	translator := &fakeTranslator{fn: func(_ config.ExecutionConfig, text string) (provider.Result, error) {
		if text == "three" {
			return provider.Result{}, apperr.Provider(errors.New("upstream 503"), "provider call failed")
		}
		return provider.Result{TranslatedText: "t:" + text, Confidence: 0.8}, nil
	}}
	h := newHarness(t, translator)

	created, err := h.orch.CreateJob(context.Background(), CreateJobRequest{
		FileID:   "file-1",
		Segments: segmentsOf("one", "two", "three", "four"),
	})
	require.NoError(t, err)

	job := h.waitForStatus(t, created.JobID, jobs.StatusFailed)
	assert.Equal(t, 4, job.CompletedSegments)
	assert.Equal(t, 1, job.FailedSegments)

	failed := job.Segments[2]
	assert.Equal(t, jobs.SegmentFailed, failed.Status)
	assert.Equal(t, 0.0, *failed.ConfidenceScore)
	assert.Equal(t, 0.0, *failed.QualityScore)
	assert.True(t, strings.HasPrefix(*failed.TranslatedText, jobs.FailedSentinelPrefix))
	assert.Contains(t, *failed.TranslatedText, "upstream 503")

	for _, i := range []int{0, 1, 3} {
		seg := job.Segments[i]
		assert.Equal(t, jobs.SegmentCompleted, seg.Status)
		assert.Equal(t, "t:"+seg.OriginalText, *seg.TranslatedText)
		assert.Equal(t, 0.8, *seg.ConfidenceScore)
	}
	assert.InDelta(t, 0.8, job.AverageConfidence, 1e-9, "failed segments are excluded from averages")
	assert.Equal(t, "1 of 4 segments failed", job.Error)
}

func TestCreateJob_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateJobRequest
	}{
		{name: "empty segments", req: CreateJobRequest{FileID: "f", Segments: nil}},
		{name: "missing file id", req: CreateJobRequest{Segments: segmentsOf("a")}},
		{name: "blank original text", req: CreateJobRequest{FileID: "f", Segments: segmentsOf("a", "  ")}},
		{name: "duplicate segment id", req: CreateJobRequest{FileID: "f", Segments: []SegmentInput{
			{SegmentID: "x", OriginalText: "a"}, {SegmentID: "x", OriginalText: "b"},
		}}},
		{name: "import without translation", req: CreateJobRequest{FileID: "f", UseExistingTranslations: true, Segments: segmentsOf("a")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.CreateJob(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, apperr.IsType(err, apperr.ErrValidation), err.Error())
		})
	}

	list, err := h.orch.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateJob_AssignsMissingSegmentIDs(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.orch.CreateJob(context.Background(), CreateJobRequest{
		FileID:   "f",
		Segments: []SegmentInput{{OriginalText: "a"}, {OriginalText: "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "seg-1", job.Segments[0].SegmentID)
	assert.Equal(t, "seg-2", job.Segments[1].SegmentID)
}

func TestCreateJob_ConfigError(t *testing.T) {
	h := newHarness(t, nil)
	h.settings.err = apperr.Validation("active provider is inactive")

	_, err := h.orch.CreateJob(context.Background(), CreateJobRequest{FileID: "f", Segments: segmentsOf("a")})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrValidation))
}

func TestCreateJob_UseExistingTranslations(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.orch.CreateJob(context.Background(), CreateJobRequest{
		FileID:                  "f",
		UseExistingTranslations: true,
		Segments: []SegmentInput{
			{SegmentID: "a", OriginalText: "hello", TranslatedText: "hola"},
			{SegmentID: "b", OriginalText: "bye", TranslatedText: "adios"},
		},
	})
	require.NoError(t, err)

	done := h.waitForStatus(t, job.JobID, jobs.StatusCompleted)
	assert.Empty(t, h.translator.Calls())
	assert.Equal(t, "hola", *done.Segments[0].TranslatedText)
	assert.Equal(t, 1.0, *done.Segments[0].ConfidenceScore)
	assert.Equal(t, 1.0, done.AverageConfidence)
}

func TestGetJob(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.GetJob(ctx, "missing")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrNotFound))

	job := h.completedJob(t, "a", "b")
	first, err := h.orch.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	second, err := h.orch.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListJobs_NewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	h := newHarness(t, nil, WithClock(clock))

	a := h.completedJob(t, "a")
	b := h.completedJob(t, "b")

	list, err := h.orch.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.JobID, list[0].JobID)
	assert.Equal(t, a.JobID, list[1].JobID)
}

func TestUpdateSegment(t *testing.T) {
	translator := &fakeTranslator{fn: func(_ config.ExecutionConfig, text string) (provider.Result, error) {
		if text == "bad" {
			return provider.Result{}, apperr.Provider(errors.New("boom"), "provider call failed")
		}
		return provider.Result{TranslatedText: "t:" + text, Confidence: 0.8}, nil
	}}
	h := newHarness(t, translator)
	ctx := context.Background()

	job := h.completedJob(t, "a", "b")
	updated, err := h.orch.UpdateSegment(ctx, job.JobID, "s2", "edited b")
	require.NoError(t, err)
	seg := updated.Segments[1]
	assert.True(t, seg.IsEdited)
	assert.NotNil(t, seg.EditedAt)
	assert.Equal(t, "edited b", *seg.TranslatedText)
	assert.Equal(t, "t:b", *seg.MachineTranslation)
	assert.Equal(t, jobs.StatusCompleted, updated.Status)

	// a second edit keeps the original machine output
	updated, err = h.orch.UpdateSegment(ctx, job.JobID, "s2", "edited again")
	require.NoError(t, err)
	assert.Equal(t, "t:b", *updated.Segments[1].MachineTranslation)

	_, err = h.orch.UpdateSegment(ctx, job.JobID, "nope", "x")
	assert.True(t, apperr.IsType(err, apperr.ErrNotFound))

	_, err = h.orch.UpdateSegment(ctx, job.JobID, "s1", " ")
	assert.True(t, apperr.IsType(err, apperr.ErrValidation))

	created, err := h.orch.CreateJob(ctx, CreateJobRequest{FileID: "f", Segments: segmentsOf("bad")})
	require.NoError(t, err)
	failed := h.waitForStatus(t, created.JobID, jobs.StatusFailed)
	_, err = h.orch.UpdateSegment(ctx, failed.JobID, "s1", "fixed")
	assert.True(t, apperr.IsType(err, apperr.ErrInvalidState))

	_, err = h.approver.Approve(ctx, job.JobID, "ann", "")
	require.NoError(t, err)
	_, err = h.orch.UpdateSegment(ctx, job.JobID, "s1", "late edit")
	assert.True(t, apperr.IsType(err, apperr.ErrInvalidState))
}

func TestCancelJob_FailsRemainingSegments(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	translator := &fakeTranslator{fn: func(_ config.ExecutionConfig, text string) (provider.Result, error) {
		if text == "one" {
			once.Do(func() { close(started) })
			<-release
		}
		return provider.Result{TranslatedText: "t:" + text, Confidence: 0.8}, nil
	}}
	h := newHarness(t, translator, WithChunkSize(2))
	ctx := context.Background()

	created, err := h.orch.CreateJob(ctx, CreateJobRequest{FileID: "f", Segments: segmentsOf("one", "two", "three", "four")})
	require.NoError(t, err)
	<-started

	cancelled, err := h.orch.CancelJob(ctx, created.JobID)
	require.NoError(t, err)
	assert.True(t, cancelled.CancelRequested)
	close(release)

	job := h.waitForStatus(t, created.JobID, jobs.StatusFailed)
	assert.Equal(t, jobs.SegmentCompleted, job.Segments[0].Status, "the in-flight chunk finishes")
	assert.Equal(t, jobs.SegmentCompleted, job.Segments[1].Status)
	assert.Equal(t, jobs.SegmentFailed, job.Segments[2].Status)
	assert.Equal(t, jobs.CancelledSentinel, *job.Segments[3].TranslatedText)
	assert.Equal(t, 4, job.CompletedSegments)
	assert.Equal(t, "cancelled by request", job.Error)
	assert.Equal(t, []string{"one", "two"}, translator.Calls())

	_, err = h.orch.CancelJob(ctx, created.JobID)
	assert.True(t, apperr.IsType(err, apperr.ErrInvalidState))
}

func TestRecover_ResumesFromFirstPendingChunk(t *testing.T) {
	store, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	done := "t:one"
	confidence, score := 0.8, 0.7
	now := time.Now().UTC()
	stranded := &jobs.Job{
		JobID:  "job-stranded",
		FileID: "f",
		Segments: []jobs.Segment{
			{SegmentID: "s1", OriginalText: "one", TranslatedText: &done, ConfidenceScore: &confidence, QualityScore: &score, Status: jobs.SegmentCompleted},
			{SegmentID: "s2", OriginalText: "two", Status: jobs.SegmentPending},
			{SegmentID: "s3", OriginalText: "three", Status: jobs.SegmentPending},
		},
		Status:    jobs.StatusInProgress,
		Config:    testExecConfig(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	stranded.Recompute()
	require.NoError(t, store.SaveJob(ctx, stranded))

	h := newHarnessWithStore(t, store, nil, WithChunkSize(1))
	resumed, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	job := h.waitForStatus(t, "job-stranded", jobs.StatusCompleted)
	assert.Equal(t, 3, job.CompletedSegments)
	assert.Equal(t, []string{"two", "three"}, h.translator.Calls())
	assert.Equal(t, "t:one", *job.Segments[0].TranslatedText)

	resumed, err = h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resumed)
}

func TestConfigSnapshotVersusLiveMode(t *testing.T) {
	for _, mode := range []string{config.ConfigModeSnapshot, config.ConfigModeLive} {
		t.Run(mode, func(t *testing.T) {
			release := make(chan struct{})
			var once sync.Once
			firstCall := make(chan struct{})
			translator := &fakeTranslator{fn: func(cfg config.ExecutionConfig, text string) (provider.Result, error) {
				if text == "one" {
					once.Do(func() { close(firstCall) })
					<-release
				}
				return provider.Result{TranslatedText: cfg.ModelID + ":" + text, Confidence: 0.8}, nil
			}}
			h := newHarness(t, translator, WithChunkSize(1), WithConfigMode(mode))

			created, err := h.orch.CreateJob(context.Background(), CreateJobRequest{FileID: "f", Segments: segmentsOf("one", "two")})
			require.NoError(t, err)
			<-firstCall

			changed := testExecConfig()
			changed.ModelID = "mock-2"
			h.settings.set(changed)
			close(release)

			job := h.waitForStatus(t, created.JobID, jobs.StatusCompleted)
			assert.Equal(t, "mock-1:one", *job.Segments[0].TranslatedText)
			if mode == config.ConfigModeLive {
				assert.Equal(t, "mock-2:two", *job.Segments[1].TranslatedText)
			} else {
				assert.Equal(t, "mock-1:two", *job.Segments[1].TranslatedText)
			}
			assert.Equal(t, "mock-1", job.Config.ModelID)
		})
	}
}

func TestConcurrentJobsAreIndependent(t *testing.T) {
	h := newHarness(t, nil, WithMaxConcurrentJobs(3), WithChunkSize(2))
	ctx := context.Background()

	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		job, err := h.orch.CreateJob(ctx, CreateJobRequest{
			FileID:   fmt.Sprintf("file-%d", i),
			Segments: segmentsOf("a", "b", "c", "d", "e"),
		})
		require.NoError(t, err)
		ids = append(ids, job.JobID)
	}
	for _, id := range ids {
		job := h.waitForStatus(t, id, jobs.StatusCompleted)
		assert.Equal(t, 5, job.CompletedSegments)
		assert.LessOrEqual(t, job.CompletedSegments, job.TotalSegments)
	}
}

type failingStore struct {
	persistence.Backend
	failSaves bool
}

func (f *failingStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	if f.failSaves {
		return errors.New("disk full")
	}
	return f.Backend.SaveJob(ctx, job)
}

func TestCreateJob_PersistenceFailure(t *testing.T) {
	inner, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := &failingStore{Backend: inner, failSaves: true}
	h := newHarnessWithStore(t, store, nil)

	_, err = h.orch.CreateJob(context.Background(), CreateJobRequest{FileID: "f", Segments: segmentsOf("a")})
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrPersistence))

	list, err := h.orch.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
