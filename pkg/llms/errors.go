package llms

import "errors"

var (
	// ErrUpstreamTimeout reports that a provider call exceeded its budget.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstream reports a non-timeout provider failure (status >= 400 or
	// network error).
	ErrUpstream = errors.New("upstream error")

	// ErrSchemaViolation reports a structured-output response that could not
	// be parsed even after one repair attempt.
	ErrSchemaViolation = errors.New("schema violation")
)
