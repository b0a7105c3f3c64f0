package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/demandcast/internal/api/response"
	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// batchQuery reads the optional sector and region query parameters. The region is
// canonicalized through the registry so "jaipur" finds rows stored as "Jaipur".
func batchQuery(w http.ResponseWriter, r *http.Request, regions *region.Registry) (models.Sector, string, bool) {
	q := r.URL.Query()

	sector := models.Sector(strings.ToLower(strings.TrimSpace(q.Get("sector"))))
	if sector != "" && !sector.Valid() {
		response.InvalidRequest(w, "Unknown sector", nil)
		return "", "", false
	}

	name := strings.TrimSpace(q.Get("region"))
	if name != "" {
		reg, err := regions.Lookup(name)
		if err != nil {
			response.Error(w, http.StatusNotFound, "REGION_UNKNOWN", "Region is not in the registry", nil)
			return "", "", false
		}
		name = reg.Name
	}
	return sector, name, true
}

// NewListPredictionsHandler returns an http.HandlerFunc for GET /api/v1/predictions.
func NewListPredictionsHandler(s store.Store, regions *region.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sector, name, ok := batchQuery(w, r, regions)
		if !ok {
			return
		}

		preds, err := s.ListPredictions(r.Context(), store.PredictionFilter{Sector: sector, Region: name})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to list predictions", nil)
			return
		}
		if preds == nil {
			preds = []*models.DemandPrediction{}
		}
		response.JSON(w, preds)
	}
}

// NewListAlertsHandler returns an http.HandlerFunc for GET /api/v1/alerts.
func NewListAlertsHandler(s store.Store, regions *region.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sector, name, ok := batchQuery(w, r, regions)
		if !ok {
			return
		}

		f := store.AlertFilter{Sector: sector, Region: name}
		q := r.URL.Query()
		if v := q.Get("resolved"); v != "" {
			resolved, err := strconv.ParseBool(v)
			if err != nil {
				response.InvalidRequest(w, "resolved must be true or false", nil)
				return
			}
			f.Resolved = &resolved
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				response.InvalidRequest(w, "limit must be a positive integer", nil)
				return
			}
			f.Limit = limit
		}

		alerts, err := s.ListAlerts(r.Context(), f)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to list alerts", nil)
			return
		}
		if alerts == nil {
			alerts = []*models.Alert{}
		}
		limit := f.EffectiveLimit()
		response.Collection(w, alerts, response.PaginationMeta{
			Page:    1,
			Limit:   limit,
			Total:   len(alerts),
			HasNext: len(alerts) == limit,
		})
	}
}

// NewResolveAlertHandler returns an http.HandlerFunc for POST /api/v1/alerts/{alertID}/resolve.
func NewResolveAlertHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "alertID"))
		if err != nil {
			response.InvalidRequest(w, "alertID must be a UUID", nil)
			return
		}

		if err := s.ResolveAlert(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "Alert not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to resolve alert", nil)
			return
		}
		response.JSON(w, map[string]any{"id": id, "is_resolved": true})
	}
}

// NewListRegionsHandler returns an http.HandlerFunc for GET /api/v1/regions.
func NewListRegionsHandler(regions *region.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, regions.List())
	}
}
