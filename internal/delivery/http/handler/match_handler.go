package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/delivery/http/middleware"
	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/usecase/matching"
)

type MatchHandler struct {
	service *matching.Service
	log     *zap.Logger
}

func NewMatchHandler(service *matching.Service, log *zap.Logger) *MatchHandler {
	return &MatchHandler{
		service: service,
		log:     log,
	}
}

// CreateRequestBody represents a new match request
type CreateRequestBody struct {
	Difficulty string   `json:"difficulty" binding:"required,difficulty"`
	Topics     []string `json:"topics" binding:"required,min=1,max=20,dive,required"`
	Languages  []string `json:"languages" binding:"required,min=1,max=20,dive,required"`
}

// CreateRequest handles POST /match/requests
func (h *MatchHandler) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
		})
		return
	}

	userID := middleware.UserID(c)
	authToken := middleware.AuthToken(c)

	req, err := h.service.Create(c.Request.Context(), userID, matching.CreateInput{
		Difficulty: body.Difficulty,
		Topics:     body.Topics,
		Languages:  body.Languages,
	}, authToken)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

// GetStatus handles GET /match/requests/:id
func (h *MatchHandler) GetStatus(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// CancelRequest handles DELETE /match/requests/:id
func (h *MatchHandler) CancelRequest(c *gin.Context) {
	reqID := c.Param("id")
	userID := middleware.UserID(c)

	if err := h.service.Cancel(c.Request.Context(), reqID, userID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reqId":  reqID,
		"status": string(domain.StatusCancelled),
	})
}

// StreamEvents handles GET /match/requests/:id/events as a server-sent event
// stream: an initial snapshot, then 1 Hz heartbeats while queued or a single
// terminal event, after which the stream closes. Client disconnect while the
// request is queued cancels it implicitly.
func (h *MatchHandler) StreamEvents(c *gin.Context) {
	reqID := c.Param("id")
	userID := middleware.UserID(c)

	stream, err := h.service.OpenStream(c.Request.Context(), reqID, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-stream.Events()
		if !ok {
			return false
		}
		c.SSEvent("status", ev)
		return true
	})
}

func (h *MatchHandler) writeError(c *gin.Context, err error) {
	var dup *domain.DuplicateRequestError
	var matched *domain.AlreadyMatchedError

	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "user already has an active match request",
			ReqID: dup.ReqID,
		})
	case errors.As(err, &matched):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     "request already matched, join the session instead",
			SessionID: matched.SessionID,
		})
	case errors.Is(err, domain.ErrDuplicateStream):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "duplicate stream",
		})
	case errors.Is(err, domain.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "match request not found",
		})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error: "request belongs to another user",
		})
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
		})
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.log.Error("store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "service temporarily unavailable",
		})
	default:
		h.log.Error("unhandled API error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
		})
	}
}
