package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/config"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/response"
)

// DefaultSTUNServer is prepended when no STUN server is configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// ICEHandler serves ICE server configuration.
type ICEHandler struct {
	iceServers []webrtc.ICEServer
}

// NewICEHandler validates the configured servers and always includes a STUN
// server as fallback.
func NewICEHandler(cfg config.ICEConfig) (*ICEHandler, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Servers)+1)
	hasSTUN := false
	for _, s := range cfg.Servers {
		for _, raw := range s.URLs {
			uri, err := stun.ParseURI(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid ice server url %q: %w", raw, err)
			}
			if uri.Scheme == stun.SchemeTypeSTUN || uri.Scheme == stun.SchemeTypeSTUNS {
				hasSTUN = true
			}
		}
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	if !hasSTUN {
		servers = append([]webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}}, servers...)
	}
	return &ICEHandler{iceServers: servers}, nil
}

// RegisterRoutes registers the ICE routes.
func (h *ICEHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/ice-servers", h.GetICEServers)
}

// GetICEServers returns the ICE servers clients should use for calls.
func (h *ICEHandler) GetICEServers(c *gin.Context) {
	response.Success(c, gin.H{"iceServers": h.iceServers})
}
