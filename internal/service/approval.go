package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/events"
	"github.com/MimeLyc/translation-orchestrator/internal/groundtruth"
	"github.com/MimeLyc/translation-orchestrator/internal/jobs"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

const (
	DefaultApprover       = "admin"
	defaultGroundTruthMax = 50
	maxGroundTruthLimit   = 500
)

// Approver promotes completed jobs into ground truth. It shares the
// orchestrator's store, per job locks and clock.
type Approver struct {
	orch  *Orchestrator
	truth groundtruth.Store
}

func NewApprover(orch *Orchestrator, truth groundtruth.Store) *Approver {
	return &Approver{orch: orch, truth: truth}
}

// Approve writes the ground truth record first and only then marks the job
// approved. If the second write fails the job stays completed and a retry
// overwrites the same record.
func (a *Approver) Approve(ctx context.Context, jobID, approver, notes string) (*groundtruth.Record, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		approver = DefaultApprover
	}

	o := a.orch
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "load job")
	}
	if job.Status != jobs.StatusCompleted {
		return nil, apperr.InvalidState("job %s is %s; only completed jobs can be approved", jobID, job.Status)
	}

	now := o.now()
	record := &groundtruth.Record{
		EvaluationID: groundtruth.EvaluationID(job.JobID),
		JobID:        job.JobID,
		FileID:       job.FileID,
		ProviderID:   job.Config.ProviderID,
		ModelID:      job.Config.ModelID,
		Approver:     approver,
		Notes:        notes,
		Segments:     make([]groundtruth.Segment, 0, len(job.Segments)),
		CreatedAt:    now,
	}
	for _, seg := range job.Segments {
		record.Segments = append(record.Segments, approvedSegment(seg.Clone(), approver, notes, now))
	}

	if err := a.truth.SaveRecord(ctx, record); err != nil {
		log.Error("Failed to persist ground truth for job %s: %v", jobID, err)
		return nil, apperr.Persistence(err, "save ground truth")
	}

	if err := job.Transition(jobs.StatusApproved, now); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInvalidState, "approve job")
	}
	job.ApprovedAt = &now
	job.ApprovedBy = approver
	job.EvaluationID = record.EvaluationID
	if err := o.store.SaveJob(ctx, job); err != nil {
		log.Error("Failed to persist approved job %s: %v", jobID, err)
		return nil, apperr.Persistence(err, "save job")
	}

	log.Info("Job %s approved by %s as %s", jobID, approver, record.EvaluationID)
	o.publish(ctx, job, events.TypeApproved, record.EvaluationID)
	return record, nil
}

func approvedSegment(seg jobs.Segment, approver, notes string, now time.Time) groundtruth.Segment {
	approved := ""
	if seg.TranslatedText != nil {
		approved = *seg.TranslatedText
	}
	machine := approved
	if seg.MachineTranslation != nil {
		machine = *seg.MachineTranslation
	}
	review := groundtruth.ReviewApproved
	if seg.IsEdited {
		review = groundtruth.ReviewEdited
	}
	return groundtruth.Segment{
		SegmentID:           seg.SegmentID,
		OriginalText:        seg.OriginalText,
		StartTime:           seg.StartTime,
		EndTime:             seg.EndTime,
		MachineTranslation:  machine,
		ApprovedTranslation: approved,
		ConfidenceScore:     seg.ConfidenceScore,
		QualityScore:        seg.QualityScore,
		Status:              string(seg.Status),
		IsEdited:            seg.IsEdited,
		EditedAt:            seg.EditedAt,
		ReviewStatus:        review,
		Approver:            approver,
		ApprovalNotes:       notes,
		ApprovedAt:          now,
	}
}

// GroundTruthDetail is a record together with its later corrections.
type GroundTruthDetail struct {
	groundtruth.Record
	Corrections []groundtruth.Correction `json:"corrections"`
}

func (a *Approver) GetGroundTruth(ctx context.Context, evaluationID string) (*GroundTruthDetail, error) {
	record, err := a.truth.GetRecord(ctx, evaluationID)
	if err != nil {
		return nil, storeError(err, "load ground truth")
	}
	corrections, err := a.truth.ListCorrections(ctx, evaluationID)
	if err != nil {
		return nil, storeError(err, "list corrections")
	}
	return &GroundTruthDetail{Record: *record, Corrections: corrections}, nil
}

func (a *Approver) ListGroundTruth(ctx context.Context, fileID string, limit int) ([]*groundtruth.Record, error) {
	switch {
	case limit <= 0:
		limit = defaultGroundTruthMax
	case limit > maxGroundTruthLimit:
		limit = maxGroundTruthLimit
	}
	records, err := a.truth.ListRecords(ctx, strings.TrimSpace(fileID), limit)
	if err != nil {
		return nil, storeError(err, "list ground truth")
	}
	return records, nil
}

type CorrectionRequest struct {
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	Editor    string `json:"editor"`
	Notes     string `json:"notes"`
}

// AddCorrection appends a manual fix to an approved segment. The record
// itself is never rewritten.
func (a *Approver) AddCorrection(ctx context.Context, evaluationID string, req CorrectionRequest) (*groundtruth.Correction, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.Validation("text is required")
	}
	record, err := a.truth.GetRecord(ctx, evaluationID)
	if err != nil {
		return nil, storeError(err, "load ground truth")
	}
	found := false
	for _, seg := range record.Segments {
		if seg.SegmentID == req.SegmentID {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.NotFound("segment %s not found in %s", req.SegmentID, evaluationID)
	}

	editor := strings.TrimSpace(req.Editor)
	if editor == "" {
		editor = DefaultApprover
	}
	correction := groundtruth.Correction{
		ID:           uuid.NewString(),
		EvaluationID: evaluationID,
		SegmentID:    req.SegmentID,
		Text:         req.Text,
		Editor:       editor,
		Notes:        req.Notes,
		CreatedAt:    a.orch.now(),
	}
	if err := a.truth.AddCorrection(ctx, correction); err != nil {
		log.Error("Failed to persist correction for %s: %v", evaluationID, err)
		return nil, apperr.Persistence(err, "save correction")
	}
	log.Info("Correction %s added to %s segment %s by %s", correction.ID, evaluationID, req.SegmentID, editor)
	return &correction, nil
}
