package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/demandcast/internal/api/response"
	"github.com/kiranshivaraju/demandcast/internal/forecast"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// Forecaster defines the pipeline operations the handlers depend on.
type Forecaster interface {
	Generate(ctx context.Context, req models.ForecastRequest) (*models.SectorForecast, error)
	Trigger(ctx context.Context, req models.ForecastRequest) (*models.ForecastRun, error)
	Run(ctx context.Context, id uuid.UUID) (*models.ForecastRun, error)
}

// NewForecastHandler returns an http.HandlerFunc for POST /api/v1/forecasts.
// With ?async=true the pipeline runs in the background and a pending run is returned.
func NewForecastHandler(svc Forecaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ForecastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.InvalidRequest(w, "Invalid JSON body", nil)
			return
		}
		if req.Sector == "" || req.Region == "" {
			details := map[string][]string{}
			if req.Sector == "" {
				details["sector"] = []string{"sector is required"}
			}
			if req.Region == "" {
				details["region"] = []string{"region is required"}
			}
			response.InvalidRequest(w, "Missing required fields", details)
			return
		}

		async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
		if async {
			run, err := svc.Trigger(r.Context(), req)
			if err != nil {
				writeForecastError(w, err)
				return
			}
			response.AcceptedAt(w, "/api/v1/forecasts/runs/"+run.ID.String(), run)
			return
		}

		// A paid inference call is not torn down because the client went away.
		f, err := svc.Generate(context.WithoutCancel(r.Context()), req)
		if err != nil {
			writeForecastError(w, err)
			return
		}
		response.JSON(w, f)
	}
}

// NewRunHandler returns an http.HandlerFunc for GET /api/v1/forecasts/runs/{runID}.
func NewRunHandler(svc Forecaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.InvalidRequest(w, "runID must be a UUID", nil)
			return
		}

		run, err := svc.Run(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "Run not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, run)
	}
}

var statusByKind = map[forecast.Kind]int{
	forecast.KindInvalidRequest:       http.StatusBadRequest,
	forecast.KindRegionUnknown:        http.StatusNotFound,
	forecast.KindInferenceUnavailable: http.StatusBadGateway,
	forecast.KindInferenceTimeout:     http.StatusGatewayTimeout,
	forecast.KindTimeout:              http.StatusGatewayTimeout,
	forecast.KindInferenceMalformed:   http.StatusBadGateway,
	forecast.KindResponseUnparsable:   http.StatusUnprocessableEntity,
	forecast.KindNoValidPredictions:   http.StatusUnprocessableEntity,
	forecast.KindPersistenceConflict:  http.StatusConflict,
}

var messageByKind = map[forecast.Kind]string{
	forecast.KindRegionUnknown:        "Region is not in the registry",
	forecast.KindInferenceUnavailable: "The inference provider is not available",
	forecast.KindInferenceTimeout:     "Inference took too long and was cancelled",
	forecast.KindTimeout:              "The forecast did not finish in time",
	forecast.KindInferenceMalformed:   "The inference provider returned a malformed response",
	forecast.KindResponseUnparsable:   "The model response contained no parseable JSON",
	forecast.KindNoValidPredictions:   "The model response contained no valid predictions",
	forecast.KindPersistenceConflict:  "Another forecast for this sector and region is being saved",
}

// writeForecastError maps a pipeline failure to its status and error code.
func writeForecastError(w http.ResponseWriter, err error) {
	kind := forecast.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		response.Error(w, http.StatusInternalServerError, string(forecast.KindInternal), "An unexpected error occurred", nil)
		return
	}

	var fe *forecast.Error
	hasStage := errors.As(err, &fe)

	msg := messageByKind[kind]
	if kind == forecast.KindInvalidRequest {
		msg = err.Error()
		if hasStage {
			msg = fe.Err.Error()
		}
	}

	var details any
	if hasStage {
		details = map[string]string{"stage": string(fe.Stage)}
	}
	response.Error(w, status, string(kind), msg, details)
}
