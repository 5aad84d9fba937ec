// Package gateway - errors.go defines the error taxonomy and its single
// mapping to HTTP at the response boundary.
//
// DESIGN: Handlers return errors; writeError is the only place that turns
// them into status codes and JSON bodies. Upstream failures keep the
// upstream's status and body verbatim.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/inferencegate/gateway/internal/upstream"
)

// Kind classifies gateway errors for clients and logs.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindBadRequest   Kind = "bad_request"
	KindUpstream     Kind = "upstream_error"
	KindTransport    Kind = "transport_error"
	KindInternal     Kind = "internal_error"
)

type apiError struct {
	kind    Kind
	status  int
	message string
	trace   string
}

func (e *apiError) Error() string { return e.message }

func errUnauthorized(msg string) *apiError {
	return &apiError{kind: KindUnauthorized, status: http.StatusUnauthorized, message: msg}
}

func errRateLimited(msg string) *apiError {
	return &apiError{kind: KindRateLimited, status: http.StatusTooManyRequests, message: msg}
}

func errBadRequest(msg string) *apiError {
	return &apiError{kind: KindBadRequest, status: http.StatusBadRequest, message: msg}
}

func errTransport(err error) *apiError {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	return &apiError{kind: KindTransport, status: status, message: err.Error()}
}

func errInternal(cause any, trace string) *apiError {
	return &apiError{
		kind:    KindInternal,
		status:  http.StatusInternalServerError,
		message: fmt.Sprintf("%v", cause),
		trace:   trace,
	}
}

// writeError maps an error to its HTTP response and returns the status
// written, for metrics.
func (g *Gateway) writeError(w http.ResponseWriter, err error) int {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		// Pass the upstream failure through untouched.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ue.StatusCode)
		_, _ = w.Write(ue.Body)
		return ue.StatusCode
	}

	var ae *apiError
	if !errors.As(err, &ae) {
		ae = errTransportOrInternal(err)
	}

	body := map[string]any{
		"message": ae.message,
		"type":    string(ae.kind),
	}
	if ae.trace != "" {
		body["trace"] = ae.trace
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
	return ae.status
}

// errTransportOrInternal classifies bare errors reaching the boundary:
// context and network failures are transport, anything else internal.
func errTransportOrInternal(err error) *apiError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errTransport(err)
	}
	return &apiError{kind: KindInternal, status: http.StatusInternalServerError, message: err.Error()}
}
