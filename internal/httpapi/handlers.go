package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
	"github.com/MimeLyc/translation-orchestrator/internal/service"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func statusFor(t apperr.ErrorType) int {
	switch t {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrInvalidState:
		return http.StatusConflict
	case apperr.ErrProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	t := apperr.TypeOf(err)
	status := statusFor(t)
	if status >= http.StatusInternalServerError {
		log.Error("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, errorEnvelope{Error: apiError{
		Message: apperr.Message(err),
		Code:    t.Code(),
	}})
}

// bindJSON decodes the body and reports malformed input as a validation error.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

// actor picks the identity recorded for admin actions.
func actor(c *gin.Context, fromBody string) string {
	if v := strings.TrimSpace(fromBody); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.GetHeader("X-Actor")); v != "" {
		return v
	}
	return service.DefaultApprover
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(c, apperr.Validation("%s must be a non-negative integer", key))
		return 0, false
	}
	return n, true
}

type createJobResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	TotalSegments int    `json:"total_segments"`
}

func (s *Server) handleCreateJob(c *gin.Context) {
	var req service.CreateJobRequest
	if !bindJSON(c, &req) {
		return
	}
	job, err := s.orch.CreateJob(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createJobResponse{
		JobID:         job.JobID,
		Status:        string(job.Status),
		TotalSegments: job.TotalSegments,
	})
}

func (s *Server) handleListJobs(c *gin.Context) {
	list, err := s.orch.ListJobs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.orch.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Redacted())
}

type updateSegmentRequest struct {
	TranslatedText string `json:"translated_text"`
}

func (s *Server) handleUpdateSegment(c *gin.Context) {
	var req updateSegmentRequest
	if !bindJSON(c, &req) {
		return
	}
	job, err := s.orch.UpdateSegment(c.Request.Context(), c.Param("id"), c.Param("segment_id"), req.TranslatedText)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Redacted())
}

type approveRequest struct {
	Approver string `json:"approver"`
	Notes    string `json:"notes"`
}

func (s *Server) handleApproveJob(c *gin.Context) {
	var req approveRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	record, err := s.approver.Approve(c.Request.Context(), c.Param("id"), actor(c, req.Approver), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	job, err := s.orch.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job.Summary())
}

func (s *Server) handleMetrics(c *gin.Context) {
	m, err := s.orch.GetMetrics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
