package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	fcmScope           = "https://www.googleapis.com/auth/firebase.messaging"
	defaultFCMEndpoint = "https://fcm.googleapis.com"
)

// FCMConfig configures the Firebase Cloud Messaging HTTP v1 sender.
type FCMConfig struct {
	ProjectID string
	// CredentialsFile is a service account JSON key. When empty, Application
	// Default Credentials are used.
	CredentialsFile string
	Endpoint        string
	Timeout         time.Duration
}

// FCMSender sends pushes through the FCM HTTP v1 API.
type FCMSender struct {
	client   *http.Client
	endpoint string
	project  string
}

// NewFCMSender builds a sender authenticated with a Google service account.
func NewFCMSender(ctx context.Context, cfg FCMConfig) (*FCMSender, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("fcm project id is required")
	}

	var creds *google.Credentials
	var err error
	if cfg.CredentialsFile != "" {
		data, readErr := os.ReadFile(cfg.CredentialsFile)
		if readErr != nil {
			return nil, fmt.Errorf("read fcm credentials: %w", readErr)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, fcmScope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, fcmScope)
	}
	if err != nil {
		return nil, fmt.Errorf("load fcm credentials: %w", err)
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return NewFCMSenderWithClient(client, cfg.Endpoint, cfg.ProjectID), nil
}

// NewFCMSenderWithClient builds a sender on an already authenticated client.
func NewFCMSenderWithClient(client *http.Client, endpoint, projectID string) *FCMSender {
	if endpoint == "" {
		endpoint = defaultFCMEndpoint
	}
	return &FCMSender{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		project:  projectID,
	}
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *fcmAndroid       `json:"android,omitempty"`
	APNS         *fcmAPNS          `json:"apns,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type fcmAndroid struct {
	Priority    string `json:"priority,omitempty"`
	CollapseKey string `json:"collapse_key,omitempty"`
	TTL         string `json:"ttl,omitempty"`
}

type fcmAPNS struct {
	Headers map[string]string `json:"headers,omitempty"`
}

type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// Send posts push to FCM. An unregistered device token yields
// ErrUnregisteredToken.
func (s *FCMSender) Send(ctx context.Context, push *Push) error {
	body, err := json.Marshal(fcmRequest{Message: buildFCMMessage(push)})
	if err != nil {
		return fmt.Errorf("marshal fcm message: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.endpoint, s.project)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var fcmErr fcmErrorResponse
	if json.Unmarshal(data, &fcmErr) == nil {
		for _, d := range fcmErr.Error.Details {
			if d.ErrorCode == "UNREGISTERED" {
				return ErrUnregisteredToken
			}
		}
		if fcmErr.Error.Status != "" {
			return fmt.Errorf("fcm %d %s: %s", resp.StatusCode, fcmErr.Error.Status, fcmErr.Error.Message)
		}
	}
	return fmt.Errorf("fcm returned status %d", resp.StatusCode)
}

func buildFCMMessage(push *Push) fcmMessage {
	msg := fcmMessage{
		Token: push.Token,
		Data:  push.Data,
	}
	if push.Title != "" || push.Body != "" {
		msg.Notification = &fcmNotification{Title: push.Title, Body: push.Body}
	}

	android := &fcmAndroid{CollapseKey: push.CollapseKey}
	headers := map[string]string{}
	if push.HighPriority {
		android.Priority = "HIGH"
		headers["apns-priority"] = "10"
	}
	if push.TTL > 0 {
		android.TTL = fmt.Sprintf("%ds", int(push.TTL.Seconds()))
		headers["apns-expiration"] = fmt.Sprintf("%d", time.Now().Add(push.TTL).Unix())
	}
	if push.CollapseKey != "" {
		headers["apns-collapse-id"] = push.CollapseKey
	}
	msg.Android = android
	if len(headers) > 0 {
		msg.APNS = &fcmAPNS{Headers: headers}
	}
	return msg
}

var _ Sender = (*FCMSender)(nil)
