package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatrelay/internal/chat"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
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

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewUnprocessableEntityError() *ApiError {
	return newApiError(http.StatusUnprocessableEntity)
}

// errorFor translates an error returned by the chat core into the response
// sent to the client. Validation failures carry their message so the caller
// can tell which field was rejected.
func errorFor(err error) *ApiError {
	switch {
	case errors.Is(err, chat.ErrValidationFailed):
		e := NewUnprocessableEntityError()
		e.Message = err.Error()
		return e
	case errors.Is(err, chat.ErrRoomNotFound), errors.Is(err, chat.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, chat.ErrUnauthorized), errors.Is(err, chat.ErrNotAMember):
		return NewForbiddenError()
	case errors.Is(err, chat.ErrCapacityExceeded):
		e := NewConflictError()
		e.Message = chat.ErrCapacityExceeded.Error()
		return e
	default:
		return NewInternalServerError(err)
	}
}
