package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Freeeeeet/class_scheduler/internal/service"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError переводит ошибку сервиса в HTTP-статус
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Message, Field: validationErr.Field})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrAlreadyEnrolled), errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return decodeBody(r, dst, false)
}

// decodeOptionalJSON пустое тело не ошибка
func decodeOptionalJSON(r *http.Request, dst any) error {
	return decodeBody(r, dst, true)
}

func decodeBody(r *http.Request, dst any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return &service.ValidationError{Message: "request body is required"}
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) {
		if optional {
			return nil
		}
		return &service.ValidationError{Message: "request body is required"}
	}
	if err != nil {
		return &service.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}
