package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/store"
)

const defaultPerPage = 50

func pageFromQuery(c *gin.Context) store.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = defaultPerPage
	}
	return store.Page{Number: page, PerPage: perPage}
}

func (h *httpHandler) handleListEvaluations(c *gin.Context) {
	owner, repo := c.Param("owner"), c.Param("repo")
	status := c.DefaultQuery("status", store.EvaluationStatusPending)
	if status == "all" {
		status = ""
	}
	page := pageFromQuery(c)

	evaluations, err := h.store.Evaluations().ListByRepo(c.Request.Context(), owner, repo, status, page)
	if err != nil {
		h.logger.Error("evaluation list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	total, err := h.store.Evaluations().CountByRepo(c.Request.Context(), owner, repo, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"evaluations": evaluations,
		"total":       total,
		"page":        page.Number,
		"per_page":    page.PerPage,
	})
}

func (h *httpHandler) handleListContributors(c *gin.Context) {
	owner, repo := c.Param("owner"), c.Param("repo")
	page := pageFromQuery(c)

	contributors, err := h.store.Contributors().ListByRepo(c.Request.Context(), owner, repo, page)
	if err != nil {
		h.logger.Error("contributor list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	total, err := h.store.Contributors().CountByRepo(c.Request.Context(), owner, repo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"contributors": contributors,
		"total":        total,
		"page":         page.Number,
		"per_page":     page.PerPage,
	})
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	owner, repo := c.Param("owner"), c.Param("repo")
	page := pageFromQuery(c)

	filter := store.EventFilter{EventType: c.Query("event_type")}
	if raw := c.Query("contributor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contributor_id"})
			return
		}
		filter.ContributorID = id
	}

	events, err := h.store.Events().ListByRepo(c.Request.Context(), owner, repo, filter, page)
	if err != nil {
		h.logger.Error("event list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	total, err := h.store.Events().CountByRepo(c.Request.Context(), owner, repo, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events":   events,
		"total":    total,
		"page":     page.Number,
		"per_page": page.PerPage,
	})
}

type approvePayload struct {
	Note string `json:"note"`
}

func (h *httpHandler) handleApproveEvaluation(c *gin.Context) {
	var payload approvePayload
	_ = c.ShouldBindJSON(&payload)

	evaluation, err := h.engine.ApproveEvaluation(c.Request.Context(), c.Param("id"), payload.Note)
	if err != nil {
		h.respondEvaluationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluation": evaluation})
}

type overridePayload struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *httpHandler) handleOverrideEvaluation(c *gin.Context) {
	var payload overridePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	evaluation, err := h.engine.OverrideEvaluation(c.Request.Context(), c.Param("id"), payload.Delta, payload.Reason)
	if err != nil {
		h.respondEvaluationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluation": evaluation})
}

func (h *httpHandler) respondEvaluationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "evaluation_not_found"})
	case errors.Is(err, store.ErrEvaluationNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "evaluation_not_pending"})
	default:
		h.logger.Error("evaluation resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolution_failed"})
	}
}

type adjustPayload struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *httpHandler) handleAdjustCredit(c *gin.Context) {
	contributorID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contributor_id"})
		return
	}
	var payload adjustPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	contributor, err := h.engine.AdjustCredit(c.Request.Context(), contributorID, payload.Delta, payload.Reason)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "contributor_not_found"})
			return
		}
		h.logger.Error("credit adjustment failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "adjustment_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contributor": contributor})
}

type blacklistPayload struct {
	Blacklisted bool   `json:"blacklisted"`
	Reason      string `json:"reason"`
}

func (h *httpHandler) handleSetBlacklist(c *gin.Context) {
	contributorID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contributor_id"})
		return
	}
	var payload blacklistPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	contributor, err := h.engine.SetBlacklist(c.Request.Context(), contributorID, payload.Blacklisted, payload.Reason)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "contributor_not_found"})
			return
		}
		h.logger.Error("blacklist update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "blacklist_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contributor": contributor})
}
