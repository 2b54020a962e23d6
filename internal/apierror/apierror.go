package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ugamusic/distro/model"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrUnprocessable  ErrorCode = "UNPROCESSABLE"
	ErrUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying error when Details carries one, so sentinel
// errors stay reachable through errors.Is.
func (e APIError) Unwrap() error {
	if err, ok := e.Details.(error); ok {
		return err
	}
	return nil
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// domainErrors maps engine sentinels to error codes. Order matters: the first
// match wins.
var domainErrors = []struct {
	target error
	code   ErrorCode
}{
	{model.ErrInvalidTransition, ErrConflict},
	{model.ErrDuplicateDistribution, ErrConflict},
	{model.ErrConcurrentModification, ErrConflict},
	{model.ErrStaleSnapshot, ErrConflict},
	{model.ErrNotLive, ErrConflict},
	{model.ErrInvalidSnapshot, ErrUnprocessable},
	{model.ErrInvalidEvent, ErrUnprocessable},
	{model.ErrInvariantViolation, ErrUnprocessable},
	{model.ErrUnknownPlatform, ErrBadRequest},
	{model.ErrPlatformDisabled, ErrUnavailable},
	{model.ErrFeatureFlagNotFound, ErrNotFound},
}

// CodeFor returns the error code for err, falling back to ErrInternalServer.
func CodeFor(err error) ErrorCode {
	for _, d := range domainErrors {
		if errors.Is(err, d.target) {
			return d.code
		}
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

func MapErrorToHTTPStatus(err error) int {
	switch CodeFor(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrInvalidInput, ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
