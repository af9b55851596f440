package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how the messaging core reacts to them.
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindPersistence   Kind = "persistence"
	KindDelivery      Kind = "delivery"
	KindConnection    Kind = "connection"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrEmptyContent      = fmt.Errorf("content is empty")
	ErrContentTooLong    = fmt.Errorf("content exceeds maximum length")
	ErrUnknownEvent      = fmt.Errorf("unknown event type")
	ErrMalformedFrame    = fmt.Errorf("malformed frame")
	ErrInvalidPayload    = fmt.Errorf("invalid payload")
	ErrMissingTarget     = fmt.Errorf("conversationId or recipientId is required")
	ErrMissingReadTarget = fmt.Errorf("messageId or conversationId is required")
	ErrSelfConversation  = fmt.Errorf("cannot start a conversation with yourself")
	ErrInvalidAttachment = fmt.Errorf("invalid attachment")
	ErrRateLimited       = fmt.Errorf("too many frames")

	ErrNotParticipant = fmt.Errorf("not a conversation participant")
	ErrInvalidToken   = fmt.Errorf("invalid or expired token")

	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrMessageNotFound      = fmt.Errorf("message not found")
	ErrProfileNotFound      = fmt.Errorf("profile not found")

	ErrStoreUnavailable = fmt.Errorf("message store unavailable")
	ErrSequenceConflict = fmt.Errorf("sequence number conflict")

	ErrNotificationFailed = fmt.Errorf("notification delivery failed")

	ErrSlowConsumer = fmt.Errorf("slow consumer")
	ErrActorClosed  = fmt.Errorf("connection closed")
)

type classified struct {
	sentinel error
	kind     Kind
}

// kinds is ordered: when an error wraps several sentinels, the first listed wins.
// Persistence comes last since it is usually the cause being wrapped.
var kinds = []classified{
	{ErrEmptyContent, KindValidation},
	{ErrContentTooLong, KindValidation},
	{ErrUnknownEvent, KindValidation},
	{ErrMalformedFrame, KindValidation},
	{ErrInvalidPayload, KindValidation},
	{ErrMissingTarget, KindValidation},
	{ErrMissingReadTarget, KindValidation},
	{ErrSelfConversation, KindValidation},
	{ErrInvalidAttachment, KindValidation},
	{ErrRateLimited, KindValidation},
	{ErrNotParticipant, KindAuthorization},
	{ErrInvalidToken, KindAuthorization},
	{ErrConversationNotFound, KindNotFound},
	{ErrMessageNotFound, KindNotFound},
	{ErrProfileNotFound, KindNotFound},
	{ErrNotificationFailed, KindDelivery},
	{ErrSlowConsumer, KindConnection},
	{ErrActorClosed, KindConnection},
	{ErrStoreUnavailable, KindPersistence},
	{ErrSequenceConflict, KindPersistence},
}

// KindOf walks the wrap chain and returns the category of the first listed
// sentinel it finds.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, c := range kinds {
		if stderrors.Is(err, c.sentinel) {
			return c.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the caller may safely resend the same intent.
func Retryable(err error) bool {
	return KindOf(err) == KindPersistence
}

// Code is the value carried by the "code" field of an error frame.
func Code(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "validation_error"
	case KindAuthorization:
		return "authorization_error"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence_error"
	case KindConnection:
		return "connection_error"
	default:
		return "internal_error"
	}
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		if stderrors.Is(err, ErrInvalidToken) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is and As are re-exported so callers don't need two errors imports.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
