package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/translation-orchestrator/pkg/icron"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

type queueHealth struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

type jobCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type healthResponse struct {
	Status          string             `json:"status"`
	StoreDriver     string             `json:"store_driver"`
	SettingsVersion int64              `json:"settings_version"`
	Jobs            jobCounts          `json:"jobs"`
	Queue           queueHealth        `json:"queue"`
	Maintenance     *icron.TriggerInfo `json:"maintenance,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	m, err := s.orch.GetMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	queued, running := s.orch.QueueStats()

	resp := healthResponse{
		Status:          "ok",
		StoreDriver:     s.storeDriver,
		SettingsVersion: s.settings.Snapshot().Version,
		Jobs: jobCounts{
			Total:     m.TotalJobs,
			Active:    m.ActiveJobs,
			Completed: m.CompletedJobs,
			Failed:    m.FailedJobs,
		},
		Queue:     queueHealth{Queued: queued, Running: running},
		Timestamp: m.Timestamp,
	}
	if s.maintenanceCron != "" {
		info, err := icron.GetTriggerInfo(s.maintenanceCron, time.Now())
		if err != nil {
			log.Warn("Invalid maintenance schedule %q: %v", s.maintenanceCron, err)
		} else {
			resp.Maintenance = info
		}
	}
	c.JSON(http.StatusOK, resp)
}
