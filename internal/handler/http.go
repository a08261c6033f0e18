// Package handler exposes the engine over HTTP. It translates JSON requests
// into engine calls and engine errors into status codes; no game rules live
// here.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"game-session-engine/internal/allocation"
	"game-session-engine/internal/engine"
	"game-session-engine/internal/model"
)

// HTTPHandler holds the dependencies for the HTTP handlers.
type HTTPHandler struct {
	svc    *engine.Service
	logger zerolog.Logger
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(svc *engine.Service, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:    svc,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		v1.POST("/sessions", h.CreateSession)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/:id", h.GetSession)
		v1.GET("/sessions/:id/events", h.GetSessionEvents)
		v1.GET("/sessions/:id/numbers", h.GetAvailableNumbers)
		v1.POST("/sessions/:id/join", h.Join)
		v1.POST("/sessions/:id/start", h.Start)
		v1.POST("/sessions/:id/claim", h.Claim)
		v1.POST("/sessions/:id/answer", h.Answer)
		v1.POST("/sessions/:id/cancel", h.Cancel)
	}
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createSessionRequest struct {
	Kind        string                  `json:"kind" binding:"required"`
	CreatedBy   string                  `json:"created_by" binding:"required"`
	Scope       string                  `json:"scope" binding:"required"`
	MinCapacity int                     `json:"min_capacity"`
	MaxCapacity int                     `json:"max_capacity"`
	NumberPick  *model.NumberPickConfig `json:"number_pick,omitempty"`
	Quiz        *model.QuizConfig       `json:"quiz,omitempty"`
	Prize       *model.PrizeConfig      `json:"prize,omitempty"`
}

// CreateSession handles POST /v1/sessions.
func (h *HTTPHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.svc.CreateSession(c.Request.Context(), engine.CreateSessionRequest{
		Kind:        model.SessionKind(req.Kind),
		CreatedBy:   req.CreatedBy,
		Scope:       req.Scope,
		MinCapacity: req.MinCapacity,
		MaxCapacity: req.MaxCapacity,
		NumberPick:  req.NumberPick,
		Quiz:        req.Quiz,
		Prize:       req.Prize,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions handles GET /v1/sessions?scope=<scope>, returning the open
// sessions of a scope.
func (h *HTTPHandler) ListSessions(c *gin.Context) {
	scope := c.Query("scope")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope is required"})
		return
	}

	sessions, err := h.svc.ListOpenSessions(c.Request.Context(), scope)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession handles GET /v1/sessions/:id.
func (h *HTTPHandler) GetSession(c *gin.Context) {
	state, err := h.svc.GetSessionState(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetSessionEvents handles GET /v1/sessions/:id/events.
func (h *HTTPHandler) GetSessionEvents(c *gin.Context) {
	events, err := h.svc.SessionEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetAvailableNumbers handles GET /v1/sessions/:id/numbers.
func (h *HTTPHandler) GetAvailableNumbers(c *gin.Context) {
	numbers, err := h.svc.AvailableNumbers(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": numbers})
}

type joinRequest struct {
	ExternalID  string `json:"external_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

// Join handles POST /v1/sessions/:id/join.
func (h *HTTPHandler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participant, err := h.svc.Join(c.Request.Context(), c.Param("id"), req.ExternalID, req.DisplayName)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

type callerRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
}

// Start handles POST /v1/sessions/:id/start.
func (h *HTTPHandler) Start(c *gin.Context) {
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.StartSession(c.Request.Context(), c.Param("id"), req.CallerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

type claimRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Number     *int   `json:"number" binding:"required"`
}

// Claim handles POST /v1/sessions/:id/claim.
func (h *HTTPHandler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.SubmitClaim(c.Request.Context(), c.Param("id"), req.ExternalID, *req.Number); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "claimed", "number": *req.Number})
}

type answerRequest struct {
	ExternalID    string `json:"external_id" binding:"required"`
	QuestionIndex *int   `json:"question_index" binding:"required"`
	AnswerIndex   *int   `json:"answer_index" binding:"required"`
}

// Answer handles POST /v1/sessions/:id/answer.
func (h *HTTPHandler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	correct, err := h.svc.SubmitAnswer(c.Request.Context(), c.Param("id"), req.ExternalID, *req.QuestionIndex, *req.AnswerIndex)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"correct": correct})
}

// Cancel handles POST /v1/sessions/:id/cancel.
func (h *HTTPHandler) Cancel(c *gin.Context) {
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.CancelSession(c.Request.Context(), c.Param("id"), req.CallerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// writeError maps engine errors onto HTTP status codes.
func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidConfig),
		errors.Is(err, engine.ErrInvalidAnswer),
		errors.Is(err, engine.ErrInvalidQuestion),
		errors.Is(err, allocation.ErrOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrWrongPhase),
		errors.Is(err, engine.ErrSessionFull),
		errors.Is(err, engine.ErrAlreadyJoined),
		errors.Is(err, engine.ErrNotEnrolled),
		errors.Is(err, engine.ErrNotEligible),
		errors.Is(err, engine.ErrNotEnoughParticipants),
		errors.Is(err, engine.ErrAlreadyAnswered),
		errors.Is(err, engine.ErrTooLate),
		errors.Is(err, allocation.ErrAlreadyClaimed),
		errors.Is(err, allocation.ErrDuplicateNotAllowed):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
