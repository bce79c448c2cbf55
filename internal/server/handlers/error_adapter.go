package handlers

import (
	"net/http"

	apperrors "github.com/nmdm/nmdm/internal/errors"
)

var defaultHTTPErrorResponder = apperrors.RespondWithError

var httpErrorResponder = defaultHTTPErrorResponder

// SetHTTPErrorResponder lets the server package route handler errors through
// its central error handler. Nil restores the default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = defaultHTTPErrorResponder
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
