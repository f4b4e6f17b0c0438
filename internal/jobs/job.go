package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// transitions lists the legal status moves. Nothing moves backwards and only a
// completed job can be approved.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusApproved},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to next or returns an error naming both states.
func (j *Job) Transition(next Status, now time.Time) error {
	if !CanTransition(j.Status, next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = now
	if next == StatusCompleted || next == StatusFailed {
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// Recompute refreshes the counters and averages from segment state. Averages
// only include completed segments.
func (j *Job) Recompute() {
	j.TotalSegments = len(j.Segments)
	j.CompletedSegments = 0
	j.FailedSegments = 0

	var confidence, quality, elapsed float64
	completed := 0
	for i := range j.Segments {
		seg := &j.Segments[i]
		switch seg.Status {
		case SegmentCompleted:
			j.CompletedSegments++
			completed++
			if seg.ConfidenceScore != nil {
				confidence += *seg.ConfidenceScore
			}
			if seg.QualityScore != nil {
				quality += *seg.QualityScore
			}
			elapsed += seg.TranslationTime
		case SegmentFailed:
			j.CompletedSegments++
			j.FailedSegments++
		}
	}

	j.AverageConfidence, j.AverageQualityScore, j.AverageTranslationTime = 0, 0, 0
	if completed > 0 {
		n := float64(completed)
		j.AverageConfidence = confidence / n
		j.AverageQualityScore = quality / n
		j.AverageTranslationTime = elapsed / n
	}
}

// OutcomeStatus is the terminal status once every segment has been visited.
func (j *Job) OutcomeStatus() Status {
	for i := range j.Segments {
		if j.Segments[i].Status == SegmentFailed {
			return StatusFailed
		}
	}
	return StatusCompleted
}

// FirstPending returns the index of the first unprocessed segment, or -1.
func (j *Job) FirstPending() int {
	for i := range j.Segments {
		if j.Segments[i].Status == SegmentPending {
			return i
		}
	}
	return -1
}

func (j *Job) SegmentIndex(segmentID string) int {
	for i := range j.Segments {
		if j.Segments[i].SegmentID == segmentID {
			return i
		}
	}
	return -1
}

func (j *Job) Summary() Summary {
	return Summary{
		JobID:                  j.JobID,
		FileID:                 j.FileID,
		Status:                 j.Status,
		TotalSegments:          j.TotalSegments,
		CompletedSegments:      j.CompletedSegments,
		FailedSegments:         j.FailedSegments,
		AverageConfidence:      j.AverageConfidence,
		AverageQualityScore:    j.AverageQualityScore,
		AverageTranslationTime: j.AverageTranslationTime,
		ProviderID:             j.Config.ProviderID,
		ModelID:                j.Config.ModelID,
		CreatedAt:              j.CreatedAt,
		UpdatedAt:              j.UpdatedAt,
		CompletedAt:            j.CompletedAt,
		ApprovedAt:             j.ApprovedAt,
		ApprovedBy:             j.ApprovedBy,
		EvaluationID:           j.EvaluationID,
	}
}

// Clone returns a deep copy that shares no pointers with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.CompletedAt = clonePtr(j.CompletedAt)
	out.ApprovedAt = clonePtr(j.ApprovedAt)
	if j.Segments != nil {
		out.Segments = make([]Segment, len(j.Segments))
		for i := range j.Segments {
			out.Segments[i] = j.Segments[i].Clone()
		}
	}
	return &out
}

// Redacted returns a deep copy whose config carries no usable credential.
func (j *Job) Redacted() *Job {
	out := j.Clone()
	if out != nil {
		out.Config = out.Config.Redacted()
	}
	return out
}

func (s Segment) Clone() Segment {
	out := s
	out.StartTime = cloneRaw(s.StartTime)
	out.EndTime = cloneRaw(s.EndTime)
	out.TranslatedText = clonePtr(s.TranslatedText)
	out.ConfidenceScore = clonePtr(s.ConfidenceScore)
	out.QualityScore = clonePtr(s.QualityScore)
	out.EditedAt = clonePtr(s.EditedAt)
	out.MachineTranslation = clonePtr(s.MachineTranslation)
	out.QualityMetrics = clonePtr(s.QualityMetrics)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// ChunkEnd returns the exclusive end of the chunk that starts at start.
func ChunkEnd(start, size, total int) int {
	if size <= 0 {
		size = 1
	}
	end := start + size
	if end > total {
		end = total
	}
	return end
}
