package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/demandcast/internal/api/middleware"
	"github.com/kiranshivaraju/demandcast/internal/api/response"
	"github.com/kiranshivaraju/demandcast/internal/apikey"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

type createKeyResponse struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key appears in this response only.
func NewCreateKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.InvalidRequest(w, "Invalid JSON body", nil)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.InvalidRequest(w, "name is required", nil)
			return
		}

		key, raw, err := apikey.Generate(req.Name, req.Scopes)
		if err != nil {
			if errors.Is(err, apikey.ErrInvalidScope) {
				response.InvalidRequest(w, err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to generate key", nil)
			return
		}

		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to store key", nil)
			return
		}
		response.Created(w, createKeyResponse{Key: raw, APIKey: key})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListAPIKeys(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to list keys", nil)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
// A key cannot revoke itself.
func NewRevokeKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.InvalidRequest(w, "keyID must be a UUID", nil)
			return
		}
		if self, ok := mw.GetAPIKey(r); ok && self.ID == id {
			response.Error(w, http.StatusConflict, "CONFLICT", "A key cannot revoke itself", nil)
			return
		}

		if err := s.RevokeAPIKey(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "Key not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to revoke key", nil)
			return
		}
		response.NoContent(w)
	}
}
