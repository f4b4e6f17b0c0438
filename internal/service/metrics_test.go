package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
)

func TestAggregate(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	list := []jobs.Summary{
		{JobID: "a", Status: jobs.StatusCompleted, TotalSegments: 4, CompletedSegments: 4,
			AverageConfidence: 0.8, AverageQualityScore: 0.7, AverageTranslationTime: 1.0},
		{JobID: "b", Status: jobs.StatusApproved, TotalSegments: 2, CompletedSegments: 2,
			AverageConfidence: 0.6, AverageQualityScore: 0.5, AverageTranslationTime: 4.0},
		{JobID: "c", Status: jobs.StatusFailed, TotalSegments: 3, CompletedSegments: 3, FailedSegments: 1,
			AverageConfidence: 0.9, AverageQualityScore: 0.9, AverageTranslationTime: 9.0},
		{JobID: "d", Status: jobs.StatusInProgress, TotalSegments: 5, CompletedSegments: 1},
		{JobID: "e", Status: jobs.StatusPending, TotalSegments: 5},
	}

	m := aggregate(list, now)
	assert.Equal(t, 5, m.TotalJobs)
	assert.Equal(t, 2, m.CompletedJobs)
	assert.Equal(t, 1, m.FailedJobs)
	assert.Equal(t, 2, m.ActiveJobs)
	// failed and unfinished jobs do not contribute segments
	assert.Equal(t, 4+2, m.TotalSegmentsTranslated)
	assert.Equal(t, 0.7, m.AverageConfidence)
	assert.Equal(t, 0.6, m.AverageQualityScore)
	// (4*1.0 + 2*4.0) / 6
	assert.Equal(t, 2.0, m.AverageTranslationTime)
	assert.Equal(t, now, m.Timestamp)
}

func TestAggregate_Empty(t *testing.T) {
	m := aggregate(nil, time.Time{})
	assert.Zero(t, m.TotalJobs)
	assert.Zero(t, m.AverageConfidence)
	assert.Zero(t, m.AverageTranslationTime)
}

func TestGetMetrics(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.completedJob(t, "a", "b")
	h.completedJob(t, "c")

	m, err := h.orch.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalJobs)
	assert.Equal(t, 2, m.CompletedJobs)
	assert.Equal(t, 3, m.TotalSegmentsTranslated)
	assert.Equal(t, 0.8, m.AverageConfidence)
}
