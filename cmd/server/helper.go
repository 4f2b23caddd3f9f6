package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/circuitbreaker"
	"github.com/yourorg/credit-stake-ea/internal/engine"
	"github.com/yourorg/credit-stake-ea/internal/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response
type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Op     string `json:"op,omitempty"`
	TxHash string `json:"txHash,omitempty"`
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// writeError maps err to a status code and writes it
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Status: "error", Error: err.Error()}

	var pending *model.PendingError
	var submission *model.SubmissionError
	switch {
	case errors.As(err, &pending):
		body.Status, body.Op, body.TxHash = "pending", pending.Op, pending.TxHash
	case errors.As(err, &submission):
		body.Op, body.TxHash = submission.Op, submission.TxHash
	}

	entry := logrus.WithField("status", status).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Warn("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeJSON(w, status, body)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrOperationPending):
		return http.StatusAccepted
	case errors.Is(err, model.ErrNotEligible),
		errors.Is(err, model.ErrNotStaked),
		errors.Is(err, model.ErrNothingToWithdraw),
		errors.Is(err, model.ErrAlreadyStaked),
		errors.Is(err, engine.ErrNoPendingOperation):
		return http.StatusConflict
	case errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrSubmissionFailed):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrSyncUnsupported), errors.Is(err, engine.ErrNoMetricsSource):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

// decodeBody reads a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

// queryScore parses an optional score query parameter
func queryScore(r *http.Request, key string) (model.Score, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("%w: malformed %s %q", model.ErrInvalidInput, key, raw)
	}
	return model.Score(v), true, nil
}

// requireMethod writes 405 unless r uses method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}
