package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func testPush() PushMessage {
	return PushMessage{
		Token: "device-token",
		Title: "Stay Hydrated",
		Body:  "Remember to drink some water! 💧",
		Data: map[string]string{
			"type":     "water",
			"deepLink": DeepLink("mentalzen", "water"),
		},
		Priority: HighPriority,
	}
}

func TestDeepLink(t *testing.T) {
	if got := DeepLink("mentalzen", "diet"); got != "mentalzen://reminder/diet" {
		t.Errorf("DeepLink = %q", got)
	}
}

func TestReasonOf(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), &TransportError{Reason: ReasonThrottled, Err: errors.New("slow down")})
	if got := ReasonOf(wrapped); got != ReasonThrottled {
		t.Errorf("ReasonOf = %s, want throttled", got)
	}
	if got := ReasonOf(errors.New("plain")); got != ReasonUnknown {
		t.Errorf("ReasonOf = %s, want unknown", got)
	}
	if got := describeError(errors.New("plain")); got != "unknown: plain" {
		t.Errorf("describeError = %q", got)
	}
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(zap.NewNop())
	id, err := tr.Send(context.Background(), testPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(id, "log-") {
		t.Errorf("id = %q", id)
	}
	if tr.Name() != "log" {
		t.Errorf("name = %q", tr.Name())
	}
}

// Mock SNS client
type mockSNS struct {
	endpointErr error
	publishErr  error
	token       string
	publish     *sns.PublishInput
}

func (m *mockSNS) CreatePlatformEndpoint(ctx context.Context, in *sns.CreatePlatformEndpointInput, _ ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error) {
	if m.endpointErr != nil {
		return nil, m.endpointErr
	}
	m.token = aws.ToString(in.Token)
	return &sns.CreatePlatformEndpointOutput{EndpointArn: aws.String("arn:aws:sns:us-east-1:123:endpoint/GCM/app/abc")}, nil
}

func (m *mockSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	m.publish = in
	return &sns.PublishOutput{MessageId: aws.String("sns-msg-1")}, nil
}

func TestSNSTransport_Send(t *testing.T) {
	client := &mockSNS{}
	tr := newSNSTransport(client, "arn:aws:sns:us-east-1:123:app/GCM/app", zap.NewNop())

	id, err := tr.Send(context.Background(), testPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "sns-msg-1" {
		t.Errorf("id = %q", id)
	}
	if client.token != "device-token" {
		t.Errorf("endpoint token = %q", client.token)
	}
	if aws.ToString(client.publish.MessageStructure) != "json" {
		t.Error("expected json message structure")
	}
	if got := aws.ToString(client.publish.MessageAttributes["AWS.SNS.MOBILE.APNS.PRIORITY"].StringValue); got != "10" {
		t.Errorf("apns priority = %q", got)
	}

	var structure map[string]string
	if err := json.Unmarshal([]byte(aws.ToString(client.publish.Message)), &structure); err != nil {
		t.Fatalf("message is not json: %v", err)
	}
	for _, key := range []string{"default", "GCM", "APNS", "APNS_SANDBOX"} {
		if structure[key] == "" {
			t.Errorf("missing %s payload", key)
		}
	}
	if !strings.Contains(structure["GCM"], `"priority":"HIGH"`) {
		t.Errorf("GCM payload lacks high priority: %s", structure["GCM"])
	}
	if !strings.Contains(structure["APNS"], `"deepLink":"mentalzen://reminder/water"`) {
		t.Errorf("APNS payload lacks deep link: %s", structure["APNS"])
	}
}

func TestSNSTransport_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		endpointErr error
		publishErr  error
		want        Reason
	}{
		{"endpoint_disabled", nil, &types.EndpointDisabledException{Message: aws.String("disabled")}, ReasonInvalidToken},
		{"bad_token", &types.InvalidParameterException{Message: aws.String("invalid token")}, nil, ReasonInvalidToken},
		{"bad_publish_param", nil, &types.InvalidParameterException{Message: aws.String("too long")}, ReasonUnknown},
		{"throttled", nil, &types.ThrottledException{Message: aws.String("rate")}, ReasonThrottled},
		{"internal", nil, &types.InternalErrorException{Message: aws.String("boom")}, ReasonUnavailable},
		{"app_disabled", &types.PlatformApplicationDisabledException{Message: aws.String("off")}, nil, ReasonUnavailable},
		{"other", nil, errors.New("network"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newSNSTransport(&mockSNS{endpointErr: tt.endpointErr, publishErr: tt.publishErr}, "arn", zap.NewNop())
			_, err := tr.Send(context.Background(), testPush())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ReasonOf(err); got != tt.want {
				t.Errorf("reason = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestNewSNSTransport_RequiresARN(t *testing.T) {
	if _, err := NewSNSTransport(context.Background(), SNSConfig{Region: "us-east-1"}, zap.NewNop()); err == nil {
		t.Error("expected error without platform application ARN")
	}
}

func TestFCMTransport_Send(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody fcmRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"projects/zen/messages/0:123"}`))
	}))
	defer server.Close()

	tr, err := NewFCMTransport(context.Background(), FCMConfig{ProjectID: "zen", TokenSource: staticToken("secret"), BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	id, err := tr.Send(context.Background(), testPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "projects/zen/messages/0:123" {
		t.Errorf("id = %q", id)
	}
	if gotPath != "/v1/projects/zen/messages:send" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
	msg := gotBody.Message
	if msg.Token != "device-token" || msg.Notification.Title != "Stay Hydrated" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Android.Priority != "HIGH" || msg.APNs.Headers["apns-priority"] != "10" {
		t.Errorf("unexpected priority android=%q apns=%q", msg.Android.Priority, msg.APNs.Headers["apns-priority"])
	}
	if msg.Data["deepLink"] != "mentalzen://reminder/water" || msg.Data["type"] != "water" {
		t.Errorf("unexpected data %+v", msg.Data)
	}
}

func TestFCMTransport_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Reason
	}{
		{"unregistered", 404, `{"error":{"code":404,"status":"NOT_FOUND","details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"UNREGISTERED"}]}}`, ReasonInvalidToken},
		{"invalid_registration_token", 400, `{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"The registration token is not a valid FCM registration token"}}`, ReasonInvalidToken},
		{"invalid_payload", 400, `{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"Invalid value at 'message.android.priority'"}}`, ReasonInvalidRequest},
		{"sender_mismatch", 403, `{"error":{"code":403,"status":"PERMISSION_DENIED","details":[{"errorCode":"SENDER_ID_MISMATCH"}]}}`, ReasonInvalidToken},
		{"expired_credentials", 401, `{"error":{"code":401,"status":"UNAUTHENTICATED","message":"Request had invalid authentication credentials."}}`, ReasonAuth},
		{"apns_auth", 401, `{"error":{"code":401,"status":"UNAUTHENTICATED","details":[{"errorCode":"THIRD_PARTY_AUTH_ERROR"}]}}`, ReasonAuth},
		{"quota", 429, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[{"errorCode":"QUOTA_EXCEEDED"}]}}`, ReasonThrottled},
		{"plain_429", 429, `slow down`, ReasonThrottled},
		{"unavailable", 503, `{"error":{"code":503,"status":"UNAVAILABLE"}}`, ReasonUnavailable},
		{"bad_gateway", 502, `<html>`, ReasonUnavailable},
		{"forbidden", 403, `{"error":{"code":403,"status":"PERMISSION_DENIED"}}`, ReasonAuth},
		{"teapot", 418, `?`, ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr, _ := NewFCMTransport(context.Background(), FCMConfig{ProjectID: "zen", TokenSource: staticToken("t"), BaseURL: server.URL}, zap.NewNop())
			_, err := tr.Send(context.Background(), testPush())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ReasonOf(err); got != tt.want {
				t.Errorf("reason = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestFCMTransport_NetworkErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	tr, _ := NewFCMTransport(context.Background(), FCMConfig{ProjectID: "zen", TokenSource: staticToken("t"), BaseURL: url}, zap.NewNop())
	_, err := tr.Send(context.Background(), testPush())
	if got := ReasonOf(err); got != ReasonUnavailable {
		t.Errorf("reason = %s, want unavailable (err %v)", got, err)
	}
}

func staticToken(tok string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
}

// rotatingTokens hands out a new short-lived token on every call.
type rotatingTokens struct {
	mu  sync.Mutex
	n   int
	err error
}

func (r *rotatingTokens) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.n++
	return &oauth2.Token{
		AccessToken: fmt.Sprintf("tok-%d", r.n),
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(-time.Second), // already stale, forces a refresh next time
	}, nil
}

func TestFCMTransport_RefreshesExpiredToken(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"name":"projects/zen/messages/1"}`))
	}))
	defer server.Close()

	tr, err := NewFCMTransport(context.Background(), FCMConfig{ProjectID: "zen", TokenSource: &rotatingTokens{}, BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := tr.Send(context.Background(), testPush()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	if len(auths) != 2 || auths[0] != "Bearer tok-1" || auths[1] != "Bearer tok-2" {
		t.Errorf("authorization headers = %v, want a fresh token per expiry", auths)
	}
}

func TestFCMTransport_TokenErrorIsAuth(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	tr, _ := NewFCMTransport(context.Background(), FCMConfig{
		ProjectID:   "zen",
		TokenSource: &rotatingTokens{err: errors.New("invalid_grant")},
		BaseURL:     server.URL,
	}, zap.NewNop())

	_, err := tr.Send(context.Background(), testPush())
	if got := ReasonOf(err); got != ReasonAuth {
		t.Errorf("reason = %s, want auth (err %v)", got, err)
	}
	if called {
		t.Error("request sent without a token")
	}
}

func TestNewFCMTransport_RequiresCredentials(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "service-account.json")
	if _, err := NewFCMTransport(context.Background(), FCMConfig{ProjectID: "zen", CredentialsFile: missing}, zap.NewNop()); err == nil {
		t.Error("expected error for missing credentials file")
	}
	if _, err := NewFCMTransport(context.Background(), FCMConfig{TokenSource: staticToken("t")}, zap.NewNop()); err == nil {
		t.Error("expected error without a project id")
	}
}
