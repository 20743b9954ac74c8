package app

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"avatarstudio/api/internal/failure"
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
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var fe *failure.Error
	if !errors.As(err, &fe) {
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
	}
	switch fe.Kind {
	case failure.KindValidation:
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", fe.Message, fieldDetails(fe.Fields)
	case failure.KindUploadRejected:
		if slices.Contains(fe.Fields, "size") {
			return http.StatusRequestEntityTooLarge, "UPLOAD_REJECTED", fe.Message, nil
		}
		return http.StatusUnsupportedMediaType, "UPLOAD_REJECTED", fe.Message, nil
	case failure.KindNotAvailable:
		return http.StatusConflict, "NOT_AVAILABLE", fe.Message, nil
	case failure.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND", fe.Message, nil
	case failure.KindPersistence:
		return http.StatusServiceUnavailable, "PERSISTENCE_FAILED", "The change could not be saved, please retry", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func fieldDetails(fields []string) any {
	if len(fields) == 0 {
		return nil
	}
	return map[string]any{"fields": fields}
}
