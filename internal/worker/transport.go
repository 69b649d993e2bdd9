package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport delivers a push notification to one device token.
// Implementations: SNS mobile push, FCM HTTP v1, LogTransport.
type Transport interface {
	Send(ctx context.Context, msg PushMessage) (string, error)
	Name() string
}

// Priority carries the per-platform delivery priority hints.
type Priority struct {
	Android string // "high" | "normal"
	APNs    string // apns-priority header value
}

// HighPriority is the highest priority both platforms accept.
var HighPriority = Priority{Android: "high", APNs: "10"}

// PushMessage is what the dispatcher hands to a transport.
type PushMessage struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string // at least "type" and "deepLink"
	Priority Priority
}

// DeepLink builds the in-app route for a reminder type.
func DeepLink(scheme, reminderType string) string {
	return fmt.Sprintf("%s://reminder/%s", scheme, reminderType)
}

// Reason is a machine readable classification of a transport failure.
type Reason string

const (
	ReasonInvalidToken   Reason = "invalid_token"
	ReasonInvalidRequest Reason = "invalid_request" // provider rejected the payload itself
	ReasonAuth           Reason = "auth"            // our credentials were rejected or unavailable
	ReasonThrottled      Reason = "throttled"
	ReasonUnavailable    Reason = "unavailable"
	ReasonCircuitOpen    Reason = "circuit_open"
	ReasonUnknown        Reason = "unknown"
)

// TransportError wraps a delivery failure with its Reason.
type TransportError struct {
	Reason Reason
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the Reason from err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonUnknown
}

// describeError is what gets stored on a failed job.
func describeError(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Error()
	}
	return fmt.Sprintf("%s: %v", ReasonUnknown, err)
}

// LogTransport is a transport that only logs notifications (for testing/development)
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg PushMessage) (string, error) {
	id := "log-" + uuid.NewString()
	t.logger.Info("logging push notification (development mode)",
		zap.String("message_id", id),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.Any("data", msg.Data),
		zap.String("android_priority", msg.Priority.Android),
		zap.String("apns_priority", msg.Priority.APNs),
	)
	return id, nil
}

func (t *LogTransport) Name() string {
	return "log"
}
