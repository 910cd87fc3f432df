package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func ParseRequestBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dest)
	if err != nil {
		slog.Error("error parsing request body", "error", err)
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("error parsing request body: %v", err))
		return false
	}
	return true
}

// Envelope is the response wrapper used by every api endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeJson(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

func WriteJsonResponse(w http.ResponseWriter, data interface{}) {
	writeJson(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func WriteCreated(w http.ResponseWriter, data interface{}) {
	writeJson(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

func WriteSuccess(w http.ResponseWriter, message string) {
	writeJson(w, http.StatusOK, Envelope{Success: true, Message: message})
}

func WriteError(w http.ResponseWriter, status int, message string) {
	writeJson(w, status, Envelope{Success: false, Error: message})
}

func URLParamUUID(r *http.Request, key string) (uuid.UUID, error) {
	param := chi.URLParam(r, key)

	if len(param) == 0 {
		return uuid.Nil, fmt.Errorf("missing {%v} url parameter", key)
	}

	id, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid '%v' provided: %w", param, err)
	}

	return id, nil
}
