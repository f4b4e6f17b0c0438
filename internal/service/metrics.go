package service

import (
	"context"
	"time"

	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
)

type Metrics struct {
	TotalJobs               int       `json:"total_jobs"`
	CompletedJobs           int       `json:"completed_jobs"`
	FailedJobs              int       `json:"failed_jobs"`
	ActiveJobs              int       `json:"active_jobs"`
	TotalSegmentsTranslated int       `json:"total_segments_translated"`
	AverageConfidence       float64   `json:"average_confidence"`
	AverageQualityScore     float64   `json:"average_quality_score"`
	AverageTranslationTime  float64   `json:"average_translation_time"`
	Timestamp               time.Time `json:"timestamp"`
}

// GetMetrics aggregates every persisted job. Completed counts both completed
// and approved jobs; the segment total and the averages are taken over those
// jobs only, and the translation time is weighted by their segments.
func (o *Orchestrator) GetMetrics(ctx context.Context) (Metrics, error) {
	v, err, _ := o.metrics.Do("metrics", func() (any, error) {
		list, err := o.store.ListJobs(ctx)
		if err != nil {
			return nil, storeError(err, "list jobs")
		}
		return aggregate(list, o.now()), nil
	})
	if err != nil {
		return Metrics{}, err
	}
	return v.(Metrics), nil
}

func aggregate(list []jobs.Summary, now time.Time) Metrics {
	m := Metrics{TotalJobs: len(list), Timestamp: now}

	var confidence, quality, elapsed float64
	for _, s := range list {
		switch s.Status {
		case jobs.StatusCompleted, jobs.StatusApproved:
			translated := s.CompletedSegments - s.FailedSegments
			m.CompletedJobs++
			m.TotalSegmentsTranslated += translated
			confidence += s.AverageConfidence
			quality += s.AverageQualityScore
			elapsed += s.AverageTranslationTime * float64(translated)
		case jobs.StatusFailed:
			m.FailedJobs++
		default:
			m.ActiveJobs++
		}
	}
	if m.CompletedJobs > 0 {
		m.AverageConfidence = roundTo(confidence/float64(m.CompletedJobs), 4)
		m.AverageQualityScore = roundTo(quality/float64(m.CompletedJobs), 4)
	}
	if m.TotalSegmentsTranslated > 0 {
		m.AverageTranslationTime = roundTo(elapsed/float64(m.TotalSegmentsTranslated), 2)
	}
	return m
}
