package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/auth"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/call"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/chat"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/hub"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/registry"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/response"
)

// Admission credential locations.
const (
	RefreshHeaderKey  = "X-Refresh-Token"
	AccessQueryKey    = "token"
	RefreshQueryKey   = "refreshToken"
	mirrorCallTimeout = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler admits websocket connections and dispatches their frames.
type WSHandler struct {
	hub      *hub.Hub
	registry *presence.Registry
	mirror   registry.PresenceMirror
	auth     *auth.Authenticator
	calls    call.Service
	chats    chat.Relay
	metrics  *metrics.Metrics
}

// NewWSHandler creates a websocket handler. mirror may be nil when Redis is
// disabled.
func NewWSHandler(h *hub.Hub, reg *presence.Registry, mirror registry.PresenceMirror, authenticator *auth.Authenticator, calls call.Service, chats chat.Relay, m *metrics.Metrics) *WSHandler {
	return &WSHandler{
		hub:      h,
		registry: reg,
		mirror:   mirror,
		auth:     authenticator,
		calls:    calls,
		chats:    chats,
		metrics:  m,
	}
}

// RegisterRoutes registers the websocket endpoint.
func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket authenticates the request and upgrades it. A request
// without a valid credential gets a 401 and no websocket.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	access, refresh := credentials(c)
	identity, err := h.auth.Authenticate(ctx, access, refresh)
	if err != nil {
		if domain.IsClientError(err) {
			response.Unauthorized(c, domain.PublicMessage(err))
			return
		}
		l.Error().Err(err).Msg("admission failed")
		response.InternalError(c, "failed to admit connection")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := domain.NewSession(uuid.New().String(), identity.UserID, identity.RefreshToken)
	client := hub.NewClient(h.hub, conn, session)
	client.SetDisconnectHandler(h.handleDisconnect)

	h.hub.Register(client)
	if prev := h.registry.Register(session.UserID, client); prev != nil {
		cl := log.Ctx(client.Context())
		cl.Info().Str("previous_conn_id", prev.ID()).Msg("connection superseded")
	}
	h.metrics.ConnectionOpened()
	h.markOnline(client)

	go client.WritePump()
	go h.auth.Watch(client.Context(), client, session)
	go client.ReadPump(h.handleMessage)
}

// credentials reads the access token from the Authorization header or the
// token query parameter, and the refresh token from its header or query
// parameter.
func credentials(c *gin.Context) (access, refresh string) {
	if token, ok := middleware.BearerToken(c.GetHeader(middleware.AuthHeaderKey)); ok {
		access = token
	} else {
		access = c.Query(AccessQueryKey)
	}
	refresh = c.GetHeader(RefreshHeaderKey)
	if refresh == "" {
		refresh = c.Query(RefreshQueryKey)
	}
	return access, refresh
}

func (h *WSHandler) handleDisconnect(client *hub.Client) {
	h.metrics.ConnectionClosed()

	// The client context may already be cancelled by Close.
	ctx := context.WithoutCancel(client.Context())
	l := log.Ctx(ctx)

	if !h.registry.Unregister(client.UserID(), client) {
		l.Debug().Msg("superseded connection closed")
		return
	}
	h.calls.Disconnect(ctx, client.UserID())
	h.markOffline(ctx, client)
	l.Debug().Msg("client disconnected")
}

func (h *WSHandler) markOnline(client *hub.Client) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(client.Context(), mirrorCallTimeout)
	defer cancel()
	if err := h.mirror.MarkOnline(ctx, client.UserID(), client.ID()); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to mirror presence")
	}
}

func (h *WSHandler) markOffline(ctx context.Context, client *hub.Client) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorCallTimeout)
	defer cancel()
	if err := h.mirror.MarkOffline(ctx, client.UserID(), client.ID()); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to clear mirrored presence")
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.Send(domain.NewErrorMessage(domain.CodeBadRequest, "invalid message format"))
		return
	}

	var err error
	switch base.Type {
	case domain.MsgTypePing:
		client.Send(&domain.BaseMessage{Type: domain.MsgTypePong})

	case domain.MsgTypeRefreshToken:
		var msg domain.RefreshTokenRequest
		if !decode(client, message, &msg) {
			return
		}
		h.refresh(ctx, client, msg.RefreshToken)

	case domain.MsgTypeJoinChat, domain.MsgTypeLeaveChat:
		var msg domain.ChatRoomMessage
		if !decode(client, message, &msg) {
			return
		}
		if base.Type == domain.MsgTypeJoinChat {
			err = h.chats.JoinChat(ctx, client, &msg)
		} else {
			err = h.chats.LeaveChat(ctx, client, &msg)
		}

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageRequest
		if !decode(client, message, &msg) {
			return
		}
		err = h.chats.SendMessage(ctx, client, &msg)

	case domain.MsgTypeMessageRead:
		var msg domain.MarkReadRequest
		if !decode(client, message, &msg) {
			return
		}
		err = h.chats.MarkRead(ctx, client, &msg)

	case domain.MsgTypeTyping, domain.MsgTypeStopTyping:
		var msg domain.TypingRequest
		if !decode(client, message, &msg) {
			return
		}
		err = h.chats.Typing(ctx, client, &msg, base.Type == domain.MsgTypeTyping)

	case domain.MsgTypeCallInvite:
		var msg domain.CallInviteRequest
		if !decode(client, message, &msg) {
			return
		}
		err = h.calls.Invite(ctx, client, &msg)

	case domain.MsgTypeCallAccept:
		var msg domain.CallAcceptRequest
		if !decode(client, message, &msg) {
			return
		}
		err = h.calls.Accept(ctx, client, &msg)

	case domain.MsgTypeCallReject, domain.MsgTypeCallEnd, domain.MsgTypeCallOfferRequest:
		var msg domain.CallChannelRequest
		if !decode(client, message, &msg) {
			return
		}
		switch base.Type {
		case domain.MsgTypeCallReject:
			err = h.calls.Reject(ctx, client, &msg)
		case domain.MsgTypeCallEnd:
			err = h.calls.End(ctx, client, &msg)
		default:
			err = h.calls.RequestOffer(ctx, client, &msg)
		}

	case domain.MsgTypeICECandidate:
		var msg domain.ICECandidateRequest
		if !decode(client, message, &msg) {
			return
		}
		err = h.calls.RelayICECandidate(ctx, client, &msg)

	default:
		client.Send(domain.NewErrorMessage(domain.CodeBadRequest, "unknown message type"))
		return
	}

	if err != nil {
		l := log.Ctx(ctx)
		evt := l.Debug()
		if !domain.IsClientError(err) {
			evt = l.Error()
		}
		evt.Err(err).Str(log.FieldEvent, base.Type).Msg("frame handling failed")
	}
}

// refresh handles an on-demand refresh. A rejected credential closes the
// connection after an auth-error.
func (h *WSHandler) refresh(ctx context.Context, client *hub.Client, presented string) {
	l := log.Ctx(ctx)
	ev, err := h.auth.Refresh(ctx, client.Session, presented, auth.TriggerOnDemand)
	if err != nil {
		if domain.IsClientError(err) {
			l.Info().Err(err).Msg("on-demand refresh rejected, closing connection")
			client.Send(domain.NewAuthError(domain.PublicMessage(err)))
			client.Close()
			return
		}
		l.Error().Err(err).Msg("on-demand refresh failed")
		client.Send(domain.NewErrorMessage(domain.CodeInternal, "failed to refresh token"))
		return
	}
	client.Send(ev)
}

func decode(client *hub.Client, message []byte, v interface{}) bool {
	if err := json.Unmarshal(message, v); err != nil {
		client.Send(domain.NewErrorMessage(domain.CodeBadRequest, "invalid message payload"))
		return false
	}
	return true
}
