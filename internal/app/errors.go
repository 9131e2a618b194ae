package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error the HTTP layer can translate directly: Status and
// Code go on the wire, Message is user-facing, Details is optional structure.
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

// errNotFound is the uniform not-found response. Membership checks return it
// for resources outside the caller's households, so ids are not probeable.
func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
