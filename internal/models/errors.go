package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes surfaced to callers.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotAuthenticated  = "NOT_AUTHENTICATED"
	CodeAlreadyFriends    = "ALREADY_FRIENDS"
	CodeAlreadyPending    = "ALREADY_PENDING"
	CodeHasIncomingInvite = "HAS_INCOMING_INVITE"
	CodeBlocked           = "BLOCKED"
	CodeMutationInFlight  = "MUTATION_IN_FLIGHT"
	CodeInvalidState      = "INVALID_STATE"
	CodeNetwork           = "NETWORK_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewNotAuthenticatedError() *AppError {
	return &AppError{
		Code:    CodeNotAuthenticated,
		Message: "You must be signed in",
	}
}

func NewAlreadyFriendsError() *AppError {
	return &AppError{
		Code:    CodeAlreadyFriends,
		Message: "You are already friends",
	}
}

func NewAlreadyPendingError() *AppError {
	return &AppError{
		Code:    CodeAlreadyPending,
		Message: "Friend invite already sent",
	}
}

func NewHasIncomingInviteError() *AppError {
	return &AppError{
		Code:    CodeHasIncomingInvite,
		Message: "This user already sent you an invite",
	}
}

func NewBlockedError() *AppError {
	return &AppError{
		Code:    CodeBlocked,
		Message: "You cannot invite this user",
	}
}

func NewMutationInFlightError(key string) *AppError {
	return &AppError{
		Code:    CodeMutationInFlight,
		Message: fmt.Sprintf("An action on %s is already in progress", key),
	}
}

// NewInvalidStateError reports an edge whose status does not allow the requested transition.
func NewInvalidStateError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidState,
		Message: message,
	}
}

func NewNetworkError(err error) *AppError {
	return &AppError{
		Code:    CodeNetwork,
		Message: "Network request failed",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code in err's chain, or "" if there is none.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
