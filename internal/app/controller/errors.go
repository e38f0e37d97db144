package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/ikkim/account-backend/internal/app/service"
	apperrors "github.com/ikkim/account-backend/internal/errors"
	"github.com/ikkim/account-backend/internal/middleware"
)

// respondServiceError maps service error kinds to HTTP responses.
func respondServiceError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, service.ErrEmailAlreadyExists):
		apperrors.BadRequest(c, apperrors.AuthEmailAlreadyExists, "Email is already registered")
	case errors.Is(err, service.ErrValidation):
		apperrors.BadRequest(c, apperrors.ValidationInvalidInput, capitalize(err.Error()))
	case errors.Is(err, service.ErrInvalidCredentials):
		apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthInvalidCredentials, "Invalid email or password")
	case errors.Is(err, service.ErrInvalidCode):
		apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthCodeInvalid, "Invalid or expired code")
	case errors.Is(err, service.ErrUnauthenticated):
		apperrors.Unauthorized(c, "")
	case errors.Is(err, service.ErrUserNotFound):
		apperrors.NotFound(c, apperrors.UserNotFound, "User not found")
	case errors.Is(err, service.ErrNotFound):
		apperrors.NotFound(c, apperrors.ResourceNotFound, "Resource not found")
	default:
		middleware.GetLoggerFromContext(c).Error("Unhandled service error", err, map[string]interface{}{
			"action": action,
		})
		apperrors.ParseAndRespond(c, http.StatusInternalServerError, err, action)
	}
}

// respondBindingError reports the first rejected field of a request body.
func respondBindingError(c *gin.Context, err error) {
	apperrors.BadRequest(c, apperrors.ValidationInvalidInput, bindingErrorMessage(err))
}

func bindingErrorMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Request body is not valid JSON"
	}

	fe := fieldErrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "url":
		return fmt.Sprintf("%s must be an absolute URL", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	// FrontBaseURL -> frontBaseUrl
	s = strings.Replace(s, "URL", "Url", 1)
	return strings.ToLower(s[:1]) + s[1:]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
