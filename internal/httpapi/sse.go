package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/translation-orchestrator/internal/apperr"
)

// progressEvent names the frames of a job stream.
const progressEvent = "progress"

// handleJobStream pushes the job summary every streamInterval and closes the
// stream once the job reaches a terminal status.
func (s *Server) handleJobStream(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := s.orch.GetJob(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// send reports whether the stream should continue.
	send := func() bool {
		job, err := s.orch.GetJob(c.Request.Context(), jobID)
		if err != nil {
			return false
		}
		c.SSEvent(progressEvent, job.Summary())
		if c.IsAborted() {
			return false
		}
		c.Writer.Flush()
		return !job.Status.Terminal()
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(c, apperr.Validation("since must be a non-negative integer"))
			return
		}
		since = n
	}
	c.JSON(http.StatusOK, gin.H{
		"events": s.bus.Since(since),
	})
}
