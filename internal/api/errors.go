package api

import (
	"errors"
	"net/http"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest         = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidToken       = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrValidation         = &AppError{Code: http.StatusBadRequest, Message: "validation error"}
	ErrPayloadTooLarge    = &AppError{Code: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	ErrTooManyRequests    = &AppError{Code: http.StatusTooManyRequests, Message: "too many requests"}
	ErrBadGateway         = &AppError{Code: http.StatusBadGateway, Message: "upstream model request failed"}
	ErrServiceUnavailable = &AppError{Code: http.StatusServiceUnavailable, Message: "service temporarily unavailable"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
