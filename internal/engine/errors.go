package engine

import (
	"fmt"

	"portal-gateway/internal/validation"
)

type AppError struct {
	Code     string        `json:"code"`
	Status   int           `json:"-"`
	Message  string        `json:"message"`
	Redirect string        `json:"redirect,omitempty"`
	Details  []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// HTTPStatus reports the response status for the error.
func (e *AppError) HTTPStatus() int {
	return e.Status
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

// ForbiddenError is returned when a fine-grained check denies access. The
// shell follows Redirect to the unauthorized page.
func ForbiddenError(msg, redirect string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg, Redirect: redirect}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

// ValidationErrorFrom converts struct validation failures into a 422.
func ValidationErrorFrom(err error) *AppError {
	fes := validation.FieldErrors(err)
	details := make([]ErrorDetail, 0, len(fes))
	for _, fe := range fes {
		details = append(details, ErrorDetail{
			Field:   fe.Field,
			Rule:    fe.Rule,
			Message: fe.Field + " failed " + fe.Rule,
		})
	}
	if len(details) == 0 {
		details = append(details, ErrorDetail{Message: err.Error()})
	}
	return ValidationError(details)
}

func UpstreamError(service string, err error) *AppError {
	return &AppError{
		Code:    "UPSTREAM_ERROR",
		Status:  502,
		Message: fmt.Sprintf("%s unavailable: %v", service, err),
	}
}
