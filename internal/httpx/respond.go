package httpx

import (
	"errors"
	"io"
	"net/http"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/analytics"
	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/logger"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
	"github.com/ariefcatur/go-channel-sync/internal/validate"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = gojson.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string                `json:"error"`
	Fields []validate.FieldError `json:"fields,omitempty"`
}

// writeError is the single place errors become status codes. Upstream and
// persistence causes are logged here and never sent to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := classify(err)
	log := logger.FromContext(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", code), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, body)
}

func classify(err error) (int, errorBody) {
	var se *reconcile.SyncError
	if errors.As(err, &se) {
		return statusFor(se.Kind), errorBody{Error: se.Public()}
	}
	var ve *validate.Error
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorBody{Error: "validation failed", Fields: ve.Fields}
	}
	switch {
	case errors.Is(err, analytics.ErrInvalidRange):
		return http.StatusBadRequest, errorBody{Error: analytics.ErrInvalidRange.Error()}
	case errors.Is(err, errBadJSON):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not found"}
	case errors.Is(err, catalog.ErrConflict):
		return http.StatusConflict, errorBody{Error: "already exists"}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error"}
}

func statusFor(kind error) int {
	switch kind {
	case reconcile.ErrUnauthorized:
		return http.StatusUnauthorized
	case reconcile.ErrChannelNotFound, reconcile.ErrProductNotFound:
		return http.StatusNotFound
	case reconcile.ErrInvalidChannelType, reconcile.ErrValidation, reconcile.ErrInvalidState:
		return http.StatusBadRequest
	case reconcile.ErrSyncInProgress:
		return http.StatusConflict
	case reconcile.ErrNotConfigured:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var errBadJSON = errors.New("invalid json")

// decodeJSON reads an optional JSON body; an empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return errBadJSON
	}
	if len(b) == 0 {
		return nil
	}
	if err := gojson.Unmarshal(b, v); err != nil {
		return errBadJSON
	}
	return nil
}
