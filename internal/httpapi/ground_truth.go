package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/translation-orchestrator/internal/service"
)

func (s *Server) handleListGroundTruth(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	records, err := s.approver.ListGroundTruth(c.Request.Context(), c.Query("file_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleGetGroundTruth(c *gin.Context) {
	detail, err := s.approver.GetGroundTruth(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleAddCorrection(c *gin.Context) {
	var req service.CorrectionRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Editor == "" {
		req.Editor = actor(c, "")
	}
	correction, err := s.approver.AddCorrection(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, correction)
}
