package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes shared by more than one handler.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "RESOURCE_NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// AcceptedAt acknowledges background work and points the client at the
// resource it should poll, for example a forecast run's status URL.
func AcceptedAt(w http.ResponseWriter, location string, data any) {
	w.Header().Set("Location", location)
	Accepted(w, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// InvalidRequest writes a 400 INVALID_REQUEST envelope. fields maps a request
// field to its problems and may be nil.
func InvalidRequest(w http.ResponseWriter, message string, fields map[string][]string) {
	var details any
	if len(fields) > 0 {
		details = fields
	}
	Error(w, http.StatusBadRequest, CodeInvalidRequest, message, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}
