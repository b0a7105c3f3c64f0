package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ClassifyError maps a provider SDK or transport error onto the inference sentinels.
// Errors already carrying a sentinel are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInferenceUnavailable) || errors.Is(err, ErrInferenceMalformed) || errors.Is(err, ErrInferenceTimeout) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", ErrInferenceMalformed, err)
	}

	return fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
}

// StatusError maps a non-success HTTP status from the inference endpoint.
func StatusError(status int, msg string) error {
	switch status {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %s", ErrInferenceTimeout, status, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrInferenceUnavailable, status, msg)
	}
}
