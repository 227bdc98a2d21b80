package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/auth"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/config"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/hub"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
)

// wsCredentials accepts "access:<user>" and "refresh:<user>" tokens.
type wsCredentials struct{}

func (wsCredentials) ValidateAccessToken(token string) (string, error) {
	if !strings.HasPrefix(token, "access:") {
		return "", errors.New("invalid")
	}
	return strings.TrimPrefix(token, "access:"), nil
}

func (wsCredentials) ValidateRefreshToken(token string) (string, error) {
	if !strings.HasPrefix(token, "refresh:") {
		return "", errors.New("invalid")
	}
	return strings.TrimPrefix(token, "refresh:"), nil
}

func (wsCredentials) MintAccessToken(ctx context.Context, userID string) (string, time.Time, error) {
	return "access:" + userID, time.Now().Add(time.Minute), nil
}

func (wsCredentials) RefreshTokenMatches(ctx context.Context, userID, token string) (bool, error) {
	return token == "refresh:"+userID, nil
}

type wsUsers map[string]*domain.User

func (u wsUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

// handledFrame is what the fake collaborators reply with.
type handledFrame struct {
	Type  string `json:"type"`
	Frame string `json:"frame"`
}

func reply(from presence.Conn, frame string) error {
	from.Send(&handledFrame{Type: "handled", Frame: frame})
	return nil
}

type fakeCalls struct {
	mu          sync.Mutex
	disconnects []string
}

func (f *fakeCalls) Invite(ctx context.Context, from presence.Conn, req *domain.CallInviteRequest) error {
	return reply(from, domain.MsgTypeCallInvite)
}

func (f *fakeCalls) Accept(ctx context.Context, from presence.Conn, req *domain.CallAcceptRequest) error {
	return reply(from, domain.MsgTypeCallAccept)
}

func (f *fakeCalls) Reject(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error {
	return reply(from, domain.MsgTypeCallReject)
}

func (f *fakeCalls) End(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error {
	return reply(from, domain.MsgTypeCallEnd)
}

func (f *fakeCalls) RequestOffer(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error {
	return reply(from, domain.MsgTypeCallOfferRequest)
}

func (f *fakeCalls) RelayICECandidate(ctx context.Context, from presence.Conn, req *domain.ICECandidateRequest) error {
	return reply(from, domain.MsgTypeICECandidate)
}

func (f *fakeCalls) Disconnect(ctx context.Context, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, userID)
}

func (f *fakeCalls) disconnected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

func (f *fakeCalls) ActiveCalls() int                                { return 0 }
func (f *fakeCalls) Run(ctx context.Context, interval time.Duration) {}
func (f *fakeCalls) Stop()                                           {}

type fakeRelay struct{}

func (fakeRelay) JoinChat(ctx context.Context, from presence.Conn, req *domain.ChatRoomMessage) error {
	return reply(from, domain.MsgTypeJoinChat)
}

func (fakeRelay) LeaveChat(ctx context.Context, from presence.Conn, req *domain.ChatRoomMessage) error {
	return reply(from, domain.MsgTypeLeaveChat)
}

func (fakeRelay) SendMessage(ctx context.Context, from presence.Conn, req *domain.SendMessageRequest) error {
	return reply(from, domain.MsgTypeSendMessage+":"+from.UserID())
}

func (fakeRelay) MarkRead(ctx context.Context, from presence.Conn, req *domain.MarkReadRequest) error {
	return reply(from, domain.MsgTypeMessageRead)
}

func (fakeRelay) Typing(ctx context.Context, from presence.Conn, req *domain.TypingRequest, typing bool) error {
	if typing {
		return reply(from, domain.MsgTypeTyping)
	}
	return reply(from, domain.MsgTypeStopTyping)
}

type wsFixture struct {
	server   *httptest.Server
	hub      *hub.Hub
	registry *presence.Registry
	calls    *fakeCalls
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	users := wsUsers{
		"alice": {ID: "alice", Name: "Alice", IsActive: true},
		"bob":   {ID: "bob", Name: "Bob", IsActive: true},
		"dave":  {ID: "dave", Name: "Dave", IsActive: false},
	}
	h := hub.NewHub(config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       time.Minute,
		WriteWait:      time.Second,
		MaxMessageSize: 65536,
		SendBufferSize: 16,
	})
	go h.Run()

	f := &wsFixture{hub: h, registry: presence.NewRegistry(), calls: &fakeCalls{}}
	authenticator := auth.NewAuthenticator(wsCredentials{}, users, 0, nil)
	ws := NewWSHandler(h, f.registry, nil, authenticator, f.calls, fakeRelay{}, nil)

	r := gin.New()
	ws.RegisterRoutes(r)
	f.server = httptest.NewServer(r)
	t.Cleanup(func() {
		f.server.Close()
		h.Stop()
	})
	return f
}

func (f *wsFixture) dial(t *testing.T, query url.Values, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return websocket.DefaultDialer.Dial(u, header)
}

func (f *wsFixture) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer access:"+userID)
	conn, _, err := f.dial(t, nil, header)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	// A pong proves the read loop, and therefore registration, is live.
	ping(t, conn)
	return conn
}

func ping(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": domain.MsgTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if got := readFrame(t, conn); got["type"] != domain.MsgTypePong {
		t.Fatalf("ping reply = %v, want pong", got)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketRejectsBadCredentials(t *testing.T) {
	f := newWSFixture(t)

	tests := []struct {
		name   string
		query  url.Values
		header http.Header
	}{
		{"no credentials", nil, nil},
		{"garbage access token", url.Values{AccessQueryKey: {"nope"}}, nil},
		{"refresh token of unknown user", url.Values{RefreshQueryKey: {"refresh:someone-else"}}, nil},
		{"inactive user", url.Values{AccessQueryKey: {"access:dave"}}, nil},
		{"unknown user", url.Values{AccessQueryKey: {"access:mallory"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := f.dial(t, tt.query, tt.header)
			if err == nil {
				conn.Close()
				t.Fatal("dial succeeded, want rejection")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("response = %v, want 401", resp)
			}
		})
	}
	if f.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", f.registry.Count())
	}
}

func TestWebSocketAdmission(t *testing.T) {
	f := newWSFixture(t)

	tests := []struct {
		name   string
		query  url.Values
		header http.Header
	}{
		{"bearer header", nil, http.Header{"Authorization": {"Bearer access:alice"}}},
		{"token query", url.Values{AccessQueryKey: {"access:alice"}}, nil},
		{"refresh header only", nil, http.Header{RefreshHeaderKey: {"refresh:alice"}}},
		{"refresh query only", url.Values{RefreshQueryKey: {"refresh:alice"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := f.dial(t, tt.query, tt.header)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()
			ping(t, conn)
			if _, ok := f.registry.Lookup("alice"); !ok {
				t.Error("alice not registered")
			}
		})
	}
}

func TestWebSocketDispatch(t *testing.T) {
	f := newWSFixture(t)
	conn := f.connect(t, "alice")

	tests := []struct {
		frame string
		want  string
	}{
		{`{"type":"join-chat","chatId":"c1"}`, domain.MsgTypeJoinChat},
		{`{"type":"leave-chat","chatId":"c1"}`, domain.MsgTypeLeaveChat},
		{`{"type":"send-message","receiverId":"bob","content":"hi"}`, domain.MsgTypeSendMessage + ":alice"},
		{`{"type":"message-read","chatId":"c1","messageId":"m1"}`, domain.MsgTypeMessageRead},
		{`{"type":"typing","receiverId":"bob"}`, domain.MsgTypeTyping},
		{`{"type":"stop-typing","receiverId":"bob"}`, domain.MsgTypeStopTyping},
		{`{"type":"call-invite","channelId":"ch","calleeId":"bob","callType":"audio","offer":{}}`, domain.MsgTypeCallInvite},
		{`{"type":"call-accept","channelId":"ch","answer":{}}`, domain.MsgTypeCallAccept},
		{`{"type":"call-reject","channelId":"ch"}`, domain.MsgTypeCallReject},
		{`{"type":"call-end","channelId":"ch"}`, domain.MsgTypeCallEnd},
		{`{"type":"call-offer-request","channelId":"ch"}`, domain.MsgTypeCallOfferRequest},
		{`{"type":"ice-candidate","channelId":"ch","candidate":{}}`, domain.MsgTypeICECandidate},
	}
	for _, tt := range tests {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
			t.Fatalf("write %s: %v", tt.want, err)
		}
		got := readFrame(t, conn)
		if got["type"] != "handled" || got["frame"] != tt.want {
			t.Errorf("reply to %s = %v", tt.frame, got)
		}
	}
}

func TestWebSocketMalformedFrames(t *testing.T) {
	f := newWSFixture(t)
	conn := f.connect(t, "alice")

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"unknown type", `{"type":"dance"}`},
		{"bad payload", `{"type":"send-message","content":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("write: %v", err)
			}
			got := readFrame(t, conn)
			if got["type"] != domain.MsgTypeError || got["code"] != domain.CodeBadRequest {
				t.Errorf("reply = %v, want BAD_REQUEST error", got)
			}
		})
	}
	// The connection survives bad frames.
	ping(t, conn)
}

func TestWebSocketRefresh(t *testing.T) {
	f := newWSFixture(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer access:alice")
	header.Set(RefreshHeaderKey, "refresh:alice")
	conn, _, err := f.dial(t, nil, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": domain.MsgTypeRefreshToken}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readFrame(t, conn)
	if got["type"] != domain.MsgTypeTokenRefreshed || got["accessToken"] != "access:alice" {
		t.Fatalf("reply = %v, want token-refreshed", got)
	}
}

func TestWebSocketRefreshRejectedClosesConnection(t *testing.T) {
	f := newWSFixture(t)
	conn := f.connect(t, "alice")

	// Admitted without a refresh token, so there is nothing to refresh with.
	if err := conn.WriteJSON(map[string]string{"type": domain.MsgTypeRefreshToken}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readFrame(t, conn)
	if got["type"] != domain.MsgTypeAuthError {
		t.Fatalf("reply = %v, want auth-error", got)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection still open after auth-error")
	}
	waitFor(t, "disconnect cleanup", func() bool { return len(f.calls.disconnected()) == 1 })
	if _, ok := f.registry.Lookup("alice"); ok {
		t.Error("alice still registered")
	}
}

func TestWebSocketDisconnectCleanup(t *testing.T) {
	f := newWSFixture(t)
	conn := f.connect(t, "alice")
	if f.registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", f.registry.Count())
	}

	conn.Close()
	waitFor(t, "disconnect", func() bool { return len(f.calls.disconnected()) == 1 })
	if got := f.calls.disconnected(); got[0] != "alice" {
		t.Errorf("disconnected = %v, want [alice]", got)
	}
	if f.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", f.registry.Count())
	}
}

func TestWebSocketSupersededConnection(t *testing.T) {
	f := newWSFixture(t)
	first := f.connect(t, "alice")
	second := f.connect(t, "alice")
	waitFor(t, "both clients in hub", func() bool { return f.hub.ClientCount() == 2 })

	// The replaced connection stays open until its own client leaves.
	ping(t, first)

	first.Close()
	waitFor(t, "first client removed", func() bool { return f.hub.ClientCount() == 1 })
	if got := f.calls.disconnected(); len(got) != 0 {
		t.Fatalf("superseded close ran cleanup: %v", got)
	}
	if _, ok := f.registry.Lookup("alice"); !ok {
		t.Fatal("current connection unregistered by superseded close")
	}

	second.Close()
	waitFor(t, "disconnect", func() bool { return len(f.calls.disconnected()) == 1 })
}
