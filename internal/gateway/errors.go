package gateway

import "fmt"

// GatewayError is a structured rejection from a provider: the request
// reached the gateway and the gateway said no. It carries the HTTP
// status, the provider error body and, when known, our Payment's public
// id.
type GatewayError struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Body       string `json:"body,omitempty"`
	PaymentRef string `json:"paymentRef,omitempty"`
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s gateway error (%d %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s gateway error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// GatewayUnavailableError means the provider could not be reached or
// used at all: connectivity failure, open circuit breaker, missing
// credentials or a disabled feature. Callers can fail over or queue
// instead of reporting a declined payment.
type GatewayUnavailableError struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("%s gateway unavailable: %s", e.Provider, e.Reason)
}

func (e *GatewayUnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable builds a GatewayUnavailableError wrapping err.
func Unavailable(provider, reason string, err error) *GatewayUnavailableError {
	return &GatewayUnavailableError{Provider: provider, Reason: reason, Err: err}
}
