// Package ai holds the error taxonomy shared by every inference provider and the
// decorators applied around them.
package ai

import "errors"

var (
	// ErrInferenceUnavailable covers connection failures, auth failures and non-success
	// statuses from the inference endpoint.
	ErrInferenceUnavailable = errors.New("inference unavailable")
	// ErrInferenceMalformed means the response envelope lacks its transport fields.
	ErrInferenceMalformed = errors.New("inference response malformed")
	// ErrInferenceTimeout means the call exceeded its deadline. Callers treat it as a
	// kind of unavailability.
	ErrInferenceTimeout = errors.New("inference timeout")
)
