package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func errOrderClosed(status string) *DomainError {
	return domainError(http.StatusConflict, "ORDER_CLOSED", "Order is closed", map[string]any{
		"status": status,
		"reason": "comments are disabled once an order is complete or cancelled",
	})
}

func errRateLimited() *DomainError {
	return domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Please wait a moment and try again.", nil)
}
