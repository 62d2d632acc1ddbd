package dom

import (
	"errors"
	"net/http"
	"time"
)

var (
	ErrInternal             = errors.New("InternalError")
	ErrNotImplemented       = errors.New("NotImplemented")
	ErrInvalidStorageConfig = errors.New("InvalidStorageConfig")
	ErrAlreadyExists        = errors.New("AlreadyExists")
	ErrNotFound             = errors.New("NotFound")
	ErrInvalidArg           = errors.New("InvalidArg")
	ErrAuth                 = errors.New("AuthError")
	ErrInvalidTransition    = errors.New("InvalidTransition")
	ErrLeaseLost            = errors.New("LeaseLost")
	ErrStaleEpoch           = errors.New("StaleEpoch")
	ErrControlUnavailable   = errors.New("ControlUnavailable")
)

func ErrCode(err error) int {
	var rlErr *ErrRateLimitExceeded
	switch {
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArg):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrAuth):
		return http.StatusForbidden
	case errors.Is(err, ErrControlUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type ErrRateLimitExceeded struct {
	RetryIn time.Duration
}

func (e *ErrRateLimitExceeded) Error() string {
	return "RateLimitExceeded"
}

// ErrRetryable marks a transient destination or network condition.
// The attempt is rescheduled with backoff.
type ErrRetryable struct {
	Err error
}

func (e *ErrRetryable) Error() string {
	if e.Err == nil {
		return "Retryable"
	}
	return "Retryable: " + e.Err.Error()
}

func (e *ErrRetryable) Unwrap() error {
	return e.Err
}

// ErrFatal marks a permanent condition. The pair goes straight to FAILED.
type ErrFatal struct {
	Err error
}

func (e *ErrFatal) Error() string {
	if e.Err == nil {
		return "Fatal"
	}
	return "Fatal: " + e.Err.Error()
}

func (e *ErrFatal) Unwrap() error {
	return e.Err
}

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	var r *ErrRetryable
	if errors.As(err, &r) {
		return err
	}
	return &ErrRetryable{Err: err}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var f *ErrFatal
	if errors.As(err, &f) {
		return err
	}
	return &ErrFatal{Err: err}
}

func IsRetryable(err error) bool {
	var r *ErrRetryable
	return errors.As(err, &r)
}

func IsFatal(err error) bool {
	var f *ErrFatal
	return errors.As(err, &f)
}
