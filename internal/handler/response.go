package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs unexpected failures and writes the mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if !apperrors.IsAppError(err) {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	httputil.WriteError(w, err)
}

// decodeJSON reads the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.ValidationError("Request body too large")
		}
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}
