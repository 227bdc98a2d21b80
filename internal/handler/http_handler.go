package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/service"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/response"
)

// Handler serves the read-only history API.
type Handler struct {
	history        service.HistoryService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(history service.HistoryService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		history:        history,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers the history routes under api.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	protected := api.Group("")
	protected.Use(h.authMiddleware.RequireAuth())
	{
		protected.GET("/chats", h.ListChats)
		protected.GET("/chats/:chat_id/messages", h.GetMessages)
		protected.GET("/calls", h.ListCalls)
		protected.GET("/users/:user_id/presence", h.GetPresence)
	}
}

// ListChats returns the caller's chats, most recently active first.
func (h *Handler) ListChats(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	chats, err := h.history.ListChats(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		writeError(c, err, "failed to list chats")
		return
	}
	response.Success(c, chats)
}

// GetMessages returns one page of a chat the caller takes part in.
func (h *Handler) GetMessages(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	page, err := h.history.GetMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("chat_id"), c.Query("before"), limit)
	if err != nil {
		writeError(c, err, "failed to get messages")
		return
	}
	response.Success(c, response.Page{
		Items:      page.Messages,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// ListCalls returns the caller's call history.
func (h *Handler) ListCalls(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	calls, err := h.history.ListCalls(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		writeError(c, err, "failed to list calls")
		return
	}
	response.Success(c, calls)
}

// GetPresence reports whether a user is online.
func (h *Handler) GetPresence(c *gin.Context) {
	status, err := h.history.Presence(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "failed to get presence")
		return
	}
	response.Success(c, status)
}

// queryLimit parses the optional limit parameter. Zero means the default
// page size.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		response.BadRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func writeError(c *gin.Context, err error, internalMsg string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(c, domain.PublicMessage(err))
	case errors.Is(err, domain.ErrAuthentication):
		response.Unauthorized(c, domain.PublicMessage(err))
	case errors.Is(err, domain.ErrAccessDenied):
		response.Forbidden(c, domain.PublicMessage(err))
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(c, domain.PublicMessage(err))
	case errors.Is(err, domain.ErrConflict):
		response.Conflict(c, domain.PublicMessage(err))
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(internalMsg)
		response.InternalError(c, internalMsg)
	}
}
