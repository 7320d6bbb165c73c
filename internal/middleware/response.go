package middleware

import (
	"net/http"

	apperrors "github.com/interviewace/session-server/internal/errors"
	"github.com/interviewace/session-server/internal/httputil"
)

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func writeErrorWithStatus(w http.ResponseWriter, status int, err *apperrors.AppError) {
	httputil.WriteErrorWithStatus(w, status, err)
}
