package worker

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

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultFCMBaseURL = "https://fcm.googleapis.com"
	fcmScope          = "https://www.googleapis.com/auth/firebase.messaging"
)

// FCMTransport sends push notifications through the FCM HTTP v1 API.
type FCMTransport struct {
	client    *http.Client
	baseURL   string
	projectID string
	tokens    oauth2.TokenSource
	logger    *zap.Logger
}

type FCMConfig struct {
	ProjectID       string // defaults to the credentials' project
	CredentialsFile string // service account JSON; empty uses application default credentials
	TokenSource     oauth2.TokenSource
	BaseURL         string        // defaults to fcm.googleapis.com
	Timeout         time.Duration // per request
}

// NewFCMTransport creates a new FCM transport. Access tokens come from
// cfg.TokenSource when set, otherwise from Google credentials, and are
// refreshed before they expire.
func NewFCMTransport(ctx context.Context, cfg FCMConfig, logger *zap.Logger) (*FCMTransport, error) {
	tokens := cfg.TokenSource
	projectID := cfg.ProjectID
	if tokens == nil {
		creds, err := fcmCredentials(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("load fcm credentials: %w", err)
		}
		tokens = creds.TokenSource
		if projectID == "" {
			projectID = creds.ProjectID
		}
	}
	if projectID == "" {
		return nil, fmt.Errorf("fcm transport requires a project id")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultFCMBaseURL
	}

	return &FCMTransport{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		projectID: projectID,
		tokens:    oauth2.ReuseTokenSource(nil, tokens),
		logger:    logger,
	}, nil
}

func fcmCredentials(ctx context.Context, file string) (*google.Credentials, error) {
	if file == "" {
		return google.FindDefaultCredentials(ctx, fcmScope)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return google.CredentialsFromJSON(ctx, data, fcmScope)
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      fcmAndroid        `json:"android"`
	APNs         fcmAPNs           `json:"apns"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority string `json:"priority"`
}

type fcmAPNs struct {
	Headers map[string]string `json:"headers"`
}

type fcmResponse struct {
	Name string `json:"name"`
}

type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// Send posts one message to messages:send and returns the FCM message name.
func (f *FCMTransport) Send(ctx context.Context, msg PushMessage) (string, error) {
	body, err := json.Marshal(fcmRequest{Message: fcmMessage{
		Token:        msg.Token,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Android:      fcmAndroid{Priority: strings.ToUpper(msg.Priority.Android)},
		APNs:         fcmAPNs{Headers: map[string]string{"apns-priority": msg.Priority.APNs}},
	}})
	if err != nil {
		return "", &TransportError{Reason: ReasonUnknown, Err: fmt.Errorf("marshal fcm request: %w", err)}
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", f.baseURL, f.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Reason: ReasonUnknown, Err: fmt.Errorf("failed to create fcm request: %w", err)}
	}
	tok, err := f.tokens.Token()
	if err != nil {
		return "", &TransportError{Reason: ReasonAuth, Err: fmt.Errorf("fcm access token: %w", err)}
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ZenPush/1.0.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &TransportError{Reason: ReasonUnavailable, Err: fmt.Errorf("fcm request failed: %w", err)}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyFCMError(resp.StatusCode, bodyBytes)
	}

	var out fcmResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil || out.Name == "" {
		return "", &TransportError{Reason: ReasonUnknown, Err: fmt.Errorf("fcm returned unreadable response: %s", string(bodyBytes))}
	}

	f.logger.Debug("push sent via FCM",
		zap.String("message_id", out.Name),
		zap.Int("status_code", resp.StatusCode),
	)

	return out.Name, nil
}

func (f *FCMTransport) Name() string {
	return "fcm"
}

func classifyFCMError(status int, body []byte) error {
	var parsed fcmErrorResponse
	_ = json.Unmarshal(body, &parsed)

	code := parsed.Error.Status
	for _, d := range parsed.Error.Details {
		if d.ErrorCode != "" {
			code = d.ErrorCode
			break
		}
	}

	msg := parsed.Error.Message
	if msg == "" {
		msg = string(body)
	}

	reason := ReasonUnknown
	switch {
	case code == "UNREGISTERED", code == "NOT_FOUND", code == "SENDER_ID_MISMATCH":
		reason = ReasonInvalidToken
	case code == "INVALID_ARGUMENT":
		// Also returned for malformed payloads; only a token complaint is per-device.
		if strings.Contains(strings.ToLower(msg), "registration token") {
			reason = ReasonInvalidToken
		} else {
			reason = ReasonInvalidRequest
		}
	case status == http.StatusUnauthorized, code == "UNAUTHENTICATED", code == "THIRD_PARTY_AUTH_ERROR", code == "PERMISSION_DENIED":
		reason = ReasonAuth
	case status == http.StatusTooManyRequests, code == "QUOTA_EXCEEDED", code == "RESOURCE_EXHAUSTED":
		reason = ReasonThrottled
	case status >= 500, code == "UNAVAILABLE", code == "INTERNAL":
		reason = ReasonUnavailable
	}
	if code == "" {
		return &TransportError{Reason: reason, Err: fmt.Errorf("fcm returned status %d: %s", status, msg)}
	}
	return &TransportError{Reason: reason, Err: fmt.Errorf("fcm returned status %d (%s): %s", status, code, msg)}
}
