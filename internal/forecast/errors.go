package forecast

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/demandcast/internal/ai"
	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"github.com/kiranshivaraju/demandcast/pkg/normalize"
)

// ErrInvalidRequest is returned for a request with an unknown sector or timeframe.
var ErrInvalidRequest = errors.New("invalid forecast request")

// Kind names a fatal pipeline failure. The values double as API error codes.
type Kind string

const (
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindRegionUnknown        Kind = "REGION_UNKNOWN"
	KindInferenceUnavailable Kind = "INFERENCE_UNAVAILABLE"
	KindInferenceTimeout     Kind = "INFERENCE_TIMEOUT"
	KindTimeout              Kind = "FORECAST_TIMEOUT"
	KindInferenceMalformed   Kind = "INFERENCE_MALFORMED"
	KindResponseUnparsable   Kind = "RESPONSE_UNPARSABLE"
	KindNoValidPredictions   Kind = "NO_VALID_PREDICTIONS"
	KindPersistenceConflict  Kind = "PERSISTENCE_CONFLICT"
	KindInternal             Kind = "INTERNAL_ERROR"
)

// Error is a fatal pipeline failure with the stage it happened in.
type Error struct {
	Kind  Kind
	Stage models.Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("forecast failed at %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// fail wraps err with the kind its sentinel maps to. An expired deadline is an
// inference timeout only while the provider call is in flight.
func fail(stage models.Stage, err error) *Error {
	kind := kindOf(err)
	if kind == KindTimeout && stage == models.StageInferring {
		kind = KindInferenceTimeout
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, region.ErrRegionUnknown):
		return KindRegionUnknown
	case errors.Is(err, ai.ErrInferenceTimeout):
		return KindInferenceTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ai.ErrInferenceUnavailable):
		return KindInferenceUnavailable
	case errors.Is(err, ai.ErrInferenceMalformed):
		return KindInferenceMalformed
	case errors.Is(err, normalize.ErrResponseUnparsable):
		return KindResponseUnparsable
	case errors.Is(err, normalize.ErrNoValidPredictions):
		return KindNoValidPredictions
	case errors.Is(err, store.ErrPersistenceConflict):
		return KindPersistenceConflict
	default:
		return KindInternal
	}
}

// KindOf returns the failure kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return kindOf(err)
}
