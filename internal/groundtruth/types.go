// Package groundtruth holds approved translations. Records are written once
// per approved job; later fixes are appended as corrections.
package groundtruth

import (
	"context"
	"encoding/json"
	"time"
)

type ReviewStatus string

const (
	ReviewApproved ReviewStatus = "approved"
	ReviewEdited   ReviewStatus = "edited"
)

type Segment struct {
	SegmentID           string          `json:"segment_id"`
	OriginalText        string          `json:"original_text"`
	StartTime           json.RawMessage `json:"start_time,omitempty"`
	EndTime             json.RawMessage `json:"end_time,omitempty"`
	MachineTranslation  string          `json:"machine_translation"`
	ApprovedTranslation string          `json:"approved_translation"`
	ConfidenceScore     *float64        `json:"confidence_score"`
	QualityScore        *float64        `json:"quality_score"`
	Status              string          `json:"status"`
	IsEdited            bool            `json:"is_edited"`
	EditedAt            *time.Time      `json:"edited_at"`
	ReviewStatus        ReviewStatus    `json:"review_status"`
	Approver            string          `json:"approver"`
	ApprovalNotes       string          `json:"approval_notes"`
	ApprovedAt          time.Time       `json:"approved_at"`
}

type Record struct {
	EvaluationID string    `json:"evaluation_id"`
	JobID        string    `json:"job_id"`
	FileID       string    `json:"file_id"`
	ProviderID   string    `json:"provider_id"`
	ModelID      string    `json:"model_id"`
	Approver     string    `json:"approver"`
	Notes        string    `json:"approval_notes"`
	Segments     []Segment `json:"segments"`
	CreatedAt    time.Time `json:"created_at"`
}

// Correction is a manual fix to one approved segment, appended after approval.
type Correction struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	SegmentID    string    `json:"segment_id"`
	Text         string    `json:"text"`
	Editor       string    `json:"editor"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists ground truth. SaveRecord replaces a record with the same
// evaluation id; callers only do that before the owning job is approved.
type Store interface {
	SaveRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, evaluationID string) (*Record, error)
	// ListRecords filters by file id when fileID is not empty, newest first.
	ListRecords(ctx context.Context, fileID string, limit int) ([]*Record, error)
	AddCorrection(ctx context.Context, correction Correction) error
	// ListCorrections returns corrections for one record in insertion order.
	ListCorrections(ctx context.Context, evaluationID string) ([]Correction, error)
}

// EvaluationID is stable per job; a repeated approval attempt overwrites the
// same record.
func EvaluationID(jobID string) string {
	return "approval-" + jobID
}
