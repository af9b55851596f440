package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_Wrapped_Sentinels_Are_Classified_Deterministically(t *testing.T) {
	req := require.New(t)

	// Given a notification failure caused by an unavailable store
	err := fmt.Errorf("%w: %w", ErrNotificationFailed, ErrStoreUnavailable)

	// When it is classified many times
	// Then the delivery failure always wins over its cause
	for range 100 {
		req.Equal(KindDelivery, KindOf(err))
	}
	req.False(Retryable(err))
	req.Equal("internal_error", Code(err))
}

func TestKindOf(t *testing.T) {
	req := require.New(t)

	req.Equal(KindUnknown, KindOf(nil))
	req.Equal(KindUnknown, KindOf(fmt.Errorf("boom")))
	req.Equal(KindValidation, KindOf(fmt.Errorf("%w: %w", ErrInvalidPayload, fmt.Errorf("field"))))
	req.Equal(KindNotFound, KindOf(fmt.Errorf("lookup: %w", ErrMessageNotFound)))
	req.Equal(KindPersistence, KindOf(fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrSequenceConflict)))
	req.True(Retryable(ErrStoreUnavailable))
}

func TestHTTPStatus(t *testing.T) {
	req := require.New(t)

	req.Equal(http.StatusBadRequest, HTTPStatus(ErrEmptyContent))
	req.Equal(http.StatusUnauthorized, HTTPStatus(ErrInvalidToken))
	req.Equal(http.StatusForbidden, HTTPStatus(ErrNotParticipant))
	req.Equal(http.StatusNotFound, HTTPStatus(ErrConversationNotFound))
	req.Equal(http.StatusServiceUnavailable, HTTPStatus(ErrStoreUnavailable))
	req.Equal(http.StatusInternalServerError, HTTPStatus(ErrSlowConsumer))
}
