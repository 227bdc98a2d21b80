package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/response"
)

// TokenIssuer mints credentials for an existing user.
type TokenIssuer interface {
	IssuePair(ctx context.Context, userID string) (*jwt.TokenPair, error)
}

// IssueTokensRequest is the body of POST /dev/tokens.
type IssueTokensRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// DevHandler mints token pairs without a login flow. Only registered when
// auth.dev_tokens is enabled.
type DevHandler struct {
	issuer TokenIssuer
}

func NewDevHandler(issuer TokenIssuer) *DevHandler {
	return &DevHandler{issuer: issuer}
}

// RegisterRoutes registers the dev routes.
func (h *DevHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/dev/tokens", h.IssueTokens)
}

// IssueTokens mints an access/refresh pair for the user in the body.
func (h *DevHandler) IssueTokens(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req IssueTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "userId is required")
		return
	}

	pair, err := h.issuer.IssuePair(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		l.Error().Err(err).Str(log.FieldUserID, req.UserID).Msg("issue tokens failed")
		response.InternalError(c, "failed to issue tokens")
		return
	}
	response.Created(c, pair)
}
