package jobs

import (
	"encoding/json"
	"time"

	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/quality"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusApproved   Status = "approved"
)

// Terminal reports whether no further translation work happens for the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusApproved
}

type SegmentStatus string

const (
	SegmentPending   SegmentStatus = "pending"
	SegmentCompleted SegmentStatus = "completed"
	SegmentFailed    SegmentStatus = "failed"
)

const (
	FailedSentinelPrefix = "[Translation failed: "
	CancelledSentinel    = "[Translation cancelled]"
)

// FailedSentinel is stored as translated_text of a segment whose provider
// call failed.
func FailedSentinel(reason string) string {
	return FailedSentinelPrefix + reason + "]"
}

type Segment struct {
	SegmentID    string          `json:"segment_id"`
	OriginalText string          `json:"original_text"`
	StartTime    json.RawMessage `json:"start_time,omitempty"`
	EndTime      json.RawMessage `json:"end_time,omitempty"`

	TranslatedText  *string       `json:"translated_text"`
	ConfidenceScore *float64      `json:"confidence_score"`
	QualityScore    *float64      `json:"quality_score"`
	Status          SegmentStatus `json:"status"`
	Error           string        `json:"error,omitempty"`

	IsEdited           bool       `json:"is_edited"`
	EditedAt           *time.Time `json:"edited_at"`
	MachineTranslation *string    `json:"machine_translation,omitempty"`

	// seconds spent in the provider call
	TranslationTime float64          `json:"translation_time"`
	QualityMetrics  *quality.Metrics `json:"quality_metrics,omitempty"`
}

type Job struct {
	JobID    string    `json:"job_id"`
	FileID   string    `json:"file_id"`
	Segments []Segment `json:"segments"`

	TotalSegments     int    `json:"total_segments"`
	CompletedSegments int    `json:"completed_segments"`
	FailedSegments    int    `json:"failed_segments"`
	Status            Status `json:"status"`

	AverageConfidence      float64 `json:"average_confidence"`
	AverageQualityScore    float64 `json:"average_quality_score"`
	AverageTranslationTime float64 `json:"average_translation_time"`

	Config config.ExecutionConfig `json:"config"`
	// segments arriving with a translation are accepted without a provider call
	UseExistingTranslations bool   `json:"use_existing_translations,omitempty"`
	CancelRequested         bool   `json:"cancel_requested,omitempty"`
	Error                   string `json:"error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ApprovedAt   *time.Time `json:"approved_at"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	EvaluationID string     `json:"evaluation_id,omitempty"`
}

// Summary is the list view of a job, without segments.
type Summary struct {
	JobID                  string     `json:"job_id"`
	FileID                 string     `json:"file_id"`
	Status                 Status     `json:"status"`
	TotalSegments          int        `json:"total_segments"`
	CompletedSegments      int        `json:"completed_segments"`
	FailedSegments         int        `json:"failed_segments"`
	AverageConfidence      float64    `json:"average_confidence"`
	AverageQualityScore    float64    `json:"average_quality_score"`
	AverageTranslationTime float64    `json:"average_translation_time"`
	ProviderID             string     `json:"provider_id"`
	ModelID                string     `json:"model_id"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	CompletedAt            *time.Time `json:"completed_at"`
	ApprovedAt             *time.Time `json:"approved_at"`
	ApprovedBy             string     `json:"approved_by,omitempty"`
	EvaluationID           string     `json:"evaluation_id,omitempty"`
}
