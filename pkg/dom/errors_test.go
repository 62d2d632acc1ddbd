package dom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrRateLimitExceeded_Error(t *testing.T) {
	r := require.New(t)
	sourceErr := &ErrRateLimitExceeded{RetryIn: time.Second}
	errWrapped := fmt.Errorf("%w: wrapped", sourceErr)
	otherErr := ErrNotFound
	var as *ErrRateLimitExceeded

	var err error = sourceErr
	r.ErrorAs(err, &as)
	r.EqualValues(sourceErr.RetryIn, as.RetryIn)

	r.ErrorAs(errWrapped, &as)
	r.EqualValues(sourceErr.RetryIn, as.RetryIn)

	if errors.As(otherErr, &as) {
		t.Error("wrong error casted")
	}
}

func TestRetryableFatal(t *testing.T) {
	r := require.New(t)

	r.NoError(Retryable(nil))
	r.NoError(Fatal(nil))

	retryErr := Retryable(context.DeadlineExceeded)
	r.True(IsRetryable(retryErr))
	r.False(IsFatal(retryErr))
	r.ErrorIs(retryErr, context.DeadlineExceeded)
	// wrapping twice keeps a single layer
	r.Same(retryErr, Retryable(retryErr))

	fatalErr := fmt.Errorf("put object: %w", Fatal(ErrAuth))
	r.True(IsFatal(fatalErr))
	r.False(IsRetryable(fatalErr))
	r.ErrorIs(fatalErr, ErrAuth)
	r.Contains(fatalErr.Error(), "Fatal: AuthError")
}

func TestErrCode(t *testing.T) {
	r := require.New(t)
	r.EqualValues(http.StatusServiceUnavailable, ErrCode(fmt.Errorf("%w: closed", ErrControlUnavailable)))
	r.EqualValues(http.StatusNotFound, ErrCode(ErrNotFound))
	r.EqualValues(http.StatusBadRequest, ErrCode(ErrInvalidArg))
	r.EqualValues(http.StatusConflict, ErrCode(ErrInvalidTransition))
	r.EqualValues(http.StatusTooManyRequests, ErrCode(&ErrRateLimitExceeded{RetryIn: time.Second}))
	r.EqualValues(http.StatusInternalServerError, ErrCode(errors.New("boom")))
}
