package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/metrics"
	"github.com/rsclarke/tallyview/internal/types"
)

const maxBodyBytes = 1 << 16 // 64KB

var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads a single JSON object from the request body into v.
// Unknown fields and trailing data are rejected. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errBodyTooLarge
		}
		return &errdefs.ValidationError{Reason: "invalid JSON", Cause: err}
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return errdefs.Validation("", "unexpected trailing data")
	}
	return nil
}

// writeError maps err onto a status code. Details of unexpected errors are
// logged and never returned to the caller.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *errdefs.ValidationError
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, types.ErrorResponse{Error: "request body too large"})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, errdefs.ErrValidation):
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid request"})
	case errors.Is(err, errdefs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "not found"})
	case errors.Is(err, errdefs.ErrGone):
		writeJSON(w, http.StatusGone, types.ErrorResponse{Error: "this link is no longer active"})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func formatUnixPtr(ts *int64) *string {
	if ts == nil {
		return nil
	}
	s := formatUnix(*ts)
	return &s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts responses per server and status code.
func instrument(server string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(server, strconv.Itoa(rec.status)).Inc()
	})
}
