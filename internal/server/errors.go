package server

import (
	"net/http"

	apperrors "github.com/nmdm/nmdm/internal/errors"
)

// HandleError is the single path by which the router and handlers report
// errors to clients.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
