package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/github"
)

const maxWebhookBody = 1 << 20

// handleWebhook verifies, parses, and dispatches a forge webhook. The
// response returns as soon as the synchronous pipeline stages finish;
// classification continues in the background.
func (h *httpHandler) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	signature := c.GetHeader(github.SignatureHeader)
	if err := github.VerifySignature(h.webhookSecret, body, signature); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, github.ErrMalformedSignature) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		c.JSON(status, gin.H{"error": "invalid_signature"})
		return
	}

	event, err := github.ParseEvent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	ctx := c.Request.Context()
	switch event.Kind {
	case github.EventPROpened:
		err = h.engine.HandlePROpened(ctx, event.PullRequest)
	case github.EventReviewSubmitted:
		err = h.engine.HandleReviewSubmitted(ctx, event.Review)
	case github.EventCommentCreated:
		err = h.engine.HandleCommentCreated(ctx, event.Comment)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "not processed"})
		return
	}

	if err != nil {
		h.logger.Error("webhook pipeline failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pipeline_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
