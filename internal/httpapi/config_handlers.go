package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/translation-orchestrator/internal/config"
)

type updateConfigRequest struct {
	config.ConfigPatch
	Actor string `json:"actor"`
}

type registerProviderRequest struct {
	config.ProviderConfig
	Actor string `json:"actor"`
}

type registerModelRequest struct {
	config.ModelConfig
	Actor string `json:"actor"`
}

type registerPromptRequest struct {
	config.PromptTemplate
	Actor string `json:"actor"`
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.GetActiveConfig())
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req updateConfigRequest
	if !bindJSON(c, &req) {
		return
	}
	active, err := s.settings.UpdateConfig(c.Request.Context(), req.ConfigPatch, actor(c, req.Actor))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, active)
}

// handleRegistry lists providers, models and prompts with credentials masked.
func (s *Server) handleRegistry(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.Snapshot().Redacted())
}

func (s *Server) handleRegisterProvider(c *gin.Context) {
	var req registerProviderRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.settings.RegisterProvider(c.Request.Context(), req.ProviderConfig, actor(c, req.Actor))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p.Redacted())
}

func (s *Server) handleRegisterModel(c *gin.Context) {
	var req registerModelRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := s.settings.RegisterModel(c.Request.Context(), req.ModelConfig, actor(c, req.Actor))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) handleRegisterPrompt(c *gin.Context) {
	var req registerPromptRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.settings.RegisterPrompt(c.Request.Context(), req.PromptTemplate, actor(c, req.Actor))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleChangeLog(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	entries, err := s.settings.GetChangeLog(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
