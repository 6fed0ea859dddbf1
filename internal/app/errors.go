package app

import (
	"errors"
	"fmt"
	"net/http"

	"memberportal/api/internal/auth"
	"memberportal/api/internal/crm"
	"memberportal/api/internal/member"
	"memberportal/api/internal/portal"
	"memberportal/api/internal/session"
	"memberportal/api/internal/store"
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

func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr     *DomainError
		validationErr *portal.ValidationError
		transportErr  *crm.TransportError
		serviceErr    *crm.ServiceError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Some fields need attention", map[string]any{
			"section":     validationErr.Section,
			"fieldErrors": validationErr.Fields,
		}
	case errors.Is(err, portal.ErrSectionHidden):
		return http.StatusForbidden, "SECTION_HIDDEN", "Section not available", nil
	case errors.Is(err, portal.ErrNotEditing):
		return http.StatusConflict, "NOT_EDITING", "Section is not in edit mode", nil
	case errors.Is(err, portal.ErrEditing):
		return http.StatusConflict, "EDIT_IN_PROGRESS", "Section has unsaved edits", nil
	case errors.Is(err, portal.ErrSaveInProgress):
		return http.StatusConflict, "SAVE_IN_PROGRESS", "Section is being saved", nil
	case errors.Is(err, portal.ErrNotLoaded):
		return http.StatusConflict, "NOT_LOADED", "Section failed to load", nil
	case errors.Is(err, portal.ErrNotList):
		return http.StatusUnprocessableEntity, "NOT_LIST", "Section has no entries", nil
	case errors.Is(err, member.ErrUnknownField), errors.Is(err, member.ErrInvalidValue), errors.Is(err, member.ErrReadOnly):
		return http.StatusUnprocessableEntity, "INVALID_FIELD", err.Error(), nil
	case errors.Is(err, portal.ErrClosed), errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, crm.ErrUnauthorized):
		return http.StatusBadGateway, "CRM_UNAUTHORIZED", "Member records service rejected the request", nil
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, "CRM_UNAVAILABLE", "Member records service unavailable", nil
	case errors.As(err, &serviceErr):
		return http.StatusBadGateway, "CRM_ERROR", firstNonBlank(serviceErr.Message, "Member records service error"), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
