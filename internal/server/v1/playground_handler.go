package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/internal/playground"
	"github.com/nulzo/model-playground/internal/server/middleware"
	"github.com/nulzo/model-playground/internal/server/validator"
	"github.com/nulzo/model-playground/internal/store"
	"github.com/nulzo/model-playground/pkg/api"
	"go.uber.org/zap"
)

type PlaygroundHandler struct {
	orchestrator *playground.Orchestrator
	history      *playground.History
	quota        *middleware.QuotaGuard
	validator    *validator.Validator
	logger       *zap.Logger
}

// NewPlaygroundHandler wires the stream and history endpoints. A nil quota
// guard leaves streaming unmetered.
func NewPlaygroundHandler(o *playground.Orchestrator, h *playground.History, quota *middleware.QuotaGuard, v *validator.Validator, logger *zap.Logger) *PlaygroundHandler {
	return &PlaygroundHandler{
		orchestrator: o,
		history:      h,
		quota:        quota,
		validator:    v,
		logger:       logger,
	}
}

// StreamQuery handles GET /playground/stream for EventSource clients.
func (h *PlaygroundHandler) StreamQuery(c *gin.Context) {
	var q api.StreamQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	ids := q.ProviderIDs
	if ids == "" {
		ids = q.Models
	}

	h.stream(c, playground.Request{
		Prompt:      q.Prompt,
		ProviderIDs: strings.Split(ids, ","),
		CallerID:    middleware.CallerID(c),
		SessionID:   q.SessionID,
	})
}

// Stream handles POST /playground/stream.
func (h *PlaygroundHandler) Stream(c *gin.Context) {
	var req api.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	h.stream(c, playground.Request{
		Prompt:      req.Prompt,
		ProviderIDs: req.ProviderIDs,
		CallerID:    middleware.CallerID(c),
		SessionID:   req.SessionID,
	})
}

func (h *PlaygroundHandler) stream(c *gin.Context, req playground.Request) {
	if err := h.orchestrator.Validate(req); err != nil {
		_ = c.Error(streamProblem(err))
		return
	}
	if h.quota != nil && !h.quota.Admit(c) {
		return
	}

	inv, err := h.orchestrator.StreamPrompt(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(streamProblem(err))
		return
	}

	// set headers for sse
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	events := inv.Events()
	c.Stream(func(w io.Writer) bool {
		e, ok := <-events
		if !ok {
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		data, err := json.Marshal(e)
		if err != nil {
			h.logger.Error("failed to encode stream event", zap.String("type", string(e.Type)), zap.Error(err))
			return true
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		return err == nil
	})
}

func streamProblem(err error) *api.Problem {
	switch {
	case errors.Is(err, playground.ErrEmptyPrompt):
		return api.ValidationError(map[string]string{"prompt": err.Error()})
	case errors.Is(err, playground.ErrNoProviders), errors.Is(err, playground.ErrUnknownProvider):
		return api.ValidationError(map[string]string{"providerIds": err.Error()})
	default:
		return api.InternalError("Failed to start stream", err)
	}
}

// ListSessions handles GET /playground/sessions.
func (h *PlaygroundHandler) ListSessions(c *gin.Context) {
	var q api.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	page, err := h.history.List(c.Request.Context(), middleware.CallerID(c), q.Page, q.PageSize)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to list sessions", err))
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetSession handles GET /playground/sessions/:id.
func (h *PlaygroundHandler) GetSession(c *gin.Context) {
	detail, err := h.history.Get(c.Request.Context(), middleware.CallerID(c), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		_ = c.Error(api.NotFoundError("Session not found"))
		return
	}
	if err != nil {
		_ = c.Error(api.InternalError("Failed to load session", err))
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetTurn handles GET /playground/turns/:id.
func (h *PlaygroundHandler) GetTurn(c *gin.Context) {
	turn, err := h.history.Turn(c.Request.Context(), middleware.CallerID(c), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		_ = c.Error(api.NotFoundError("Turn not found"))
		return
	}
	if err != nil {
		_ = c.Error(api.InternalError("Failed to load turn", err))
		return
	}
	c.JSON(http.StatusOK, turn)
}
