package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/transfer"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// stoppedImportBody is returned when an import ends early after committing
// some batches.
type stoppedImportBody struct {
	Error  errorDetail      `json:"error"`
	Report *transfer.Report `json:"report"`
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindAmbiguous:
		return http.StatusConflict
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindTypeMismatch:
		return http.StatusUnprocessableEntity
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindConnectionFailed:
		return http.StatusBadGateway
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Warn("failed to encode response: " + err.Error())
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, StatusFor(err), errorBody{Error: detailFor(r, err)})
}

func detailFor(r *http.Request, err error) errorDetail {
	return errorDetail{
		Kind:      errs.KindOf(err).String(),
		Message:   errs.Message(err),
		RequestID: middleware.GetReqID(r.Context()),
	}
}
