package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthDeps feeds the health endpoint.
type HealthDeps struct {
	Version        string
	DB             *gorm.DB
	DatabaseDriver string
	LLMProvider    string

	// LLMAvailable probes provider availability on each health request.
	// Nil means always available.
	LLMAvailable func() bool
}

type healthState struct {
	deps    HealthDeps
	started time.Time
}

func newHealthState(deps HealthDeps) *healthState {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	if deps.DatabaseDriver == "" {
		deps.DatabaseDriver = "sqlite"
	}
	return &healthState{deps: deps, started: time.Now()}
}

type healthDatabase struct {
	Connected bool   `json:"connected"`
	Driver    string `json:"driver"`
}

type healthLLM struct {
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
}

type healthResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Database      healthDatabase `json:"database"`
	LLMProvider   healthLLM      `json:"llm_provider"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	state := h.health

	connected := false
	if state.deps.DB != nil {
		if sqlDB, err := state.deps.DB.DB(); err == nil {
			connected = sqlDB.PingContext(c.Request.Context()) == nil
		}
	}

	llmAvailable := true
	if state.deps.LLMAvailable != nil {
		llmAvailable = state.deps.LLMAvailable()
	}

	status := "healthy"
	if !connected || !llmAvailable {
		status = "degraded"
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:        status,
		Version:       state.deps.Version,
		UptimeSeconds: int64(time.Since(state.started).Seconds()),
		Database: healthDatabase{
			Connected: connected,
			Driver:    state.deps.DatabaseDriver,
		},
		LLMProvider: healthLLM{
			Provider:  state.deps.LLMProvider,
			Available: llmAvailable,
		},
	})
}
