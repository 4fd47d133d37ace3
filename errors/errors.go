package errors

import "fmt"

var (
	// ErrNotParticipant is a caller error: the sender does not belong to the
	// conversation. Never retried.
	ErrNotParticipant = fmt.Errorf("sender is not a participant of the conversation")

	// ErrUnavailable wraps transient storage failures. The caller may retry
	// with backoff; retries are idempotent when a dedup token is supplied.
	ErrUnavailable = fmt.Errorf("durable storage unavailable")

	// ErrUnauthenticated is fatal for the connection attempt that produced it.
	ErrUnauthenticated = fmt.Errorf("invalid credential proof")

	// ErrDeliveryTimeout stays inside the broker: the recipient did not
	// acknowledge in time and the message falls back to catch-up replay.
	ErrDeliveryTimeout = fmt.Errorf("recipient did not acknowledge in time")

	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrChannelClosed        = fmt.Errorf("delivery channel is closed")

	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	ErrInvalidMessage = fmt.Errorf("message content is empty or too long")

	ErrAttachmentType     = fmt.Errorf("attachment content type not allowed")
	ErrAttachmentNotFound = fmt.Errorf("attachment not found")

	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")
)
