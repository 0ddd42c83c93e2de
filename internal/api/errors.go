package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatengine/internal/chat"
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

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewRequestTooLargeError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusRequestEntityTooLarge,
		Message:    lower(http.StatusText(http.StatusRequestEntityTooLarge)),
	}
}

// errorFromService maps a chat service failure onto its HTTP form. Causes of
// internal failures are kept in Err for logging and never serialized.
func errorFromService(err error) *ApiError {
	var errResp *ApiError
	switch chat.KindOf(err) {
	case chat.KindValidation:
		errResp = NewBadRequestError()
	case chat.KindNotFound:
		errResp = NewNotFoundError()
	case chat.KindAccessDenied:
		errResp = NewForbiddenError()
	case chat.KindAuthentication:
		errResp = NewUnauthorizedError()
	default:
		return NewInternalServerError(err)
	}

	errResp.Message = chat.PublicMessage(err)
	errResp.Err = err
	return errResp
}
