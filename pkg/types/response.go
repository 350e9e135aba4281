// Package types holds the JSON envelopes shared by every API response.
package types

// SuccessEnvelope wraps 2xx bodies. Meta is set once a request id is known.
type SuccessEnvelope struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id"`
}

// APIError is the public face of a failure. Details appear only for codes
// whose metadata allows them.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
