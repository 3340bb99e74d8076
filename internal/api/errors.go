package api

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int, code string) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Code:       code,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, CodeInvalidInput)
}

// NewValidationError is a bad request carrying the reason the input was
// rejected.
func NewValidationError(reason string) *ApiError {
	e := NewBadRequestError()
	e.Message = reason
	return e
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, CodeNotFound)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict, CodeConflict)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError, CodeInternal)
	e.Err = err
	return e
}

func NewServiceUnavailableError(err error) *ApiError {
	e := newApiError(http.StatusServiceUnavailable, CodeServiceUnavailable)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, CodeUnauthorized)
}
