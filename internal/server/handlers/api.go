package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nmdm/nmdm/internal/core/registry"
	apperrors "github.com/nmdm/nmdm/internal/errors"
	"github.com/nmdm/nmdm/internal/metrics"
)

// maxBodyBytes bounds request bodies, including raw output submissions.
const maxBodyBytes = 1 << 20

// API serves the /v1 pair and port resources backed by a registry.
type API struct {
	registry *registry.Registry
}

// NewAPI creates the control-plane handlers.
func NewAPI(reg *registry.Registry) *API {
	return &API{registry: reg}
}

// Routes mounts the pair and port endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/pairs", func(r chi.Router) {
		r.Get("/", a.ListPairs)
		r.Post("/", a.CreatePair)
		r.Get("/{unit}", a.GetPair)
		r.Delete("/{unit}", a.DeletePair)
	})
	r.Route("/ports/{name}", func(r chi.Router) {
		r.Get("/", a.GetPort)
		r.Post("/output", a.SubmitOutput)
		r.Get("/input", a.ConsumeInput)
		r.Put("/rate", a.SetRate)
		r.Put("/carrier", a.SetCarrier)
		r.Get("/modem", a.GetModem)
		r.Post("/flush", a.Flush)
	})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	envelope := apperrors.FromError(r.Context(), err)
	metrics.RecordOperation(operation, false)
	metrics.RecordOperationError(operation, envelope.Code)
	respondWithError(w, r, envelope)
}

func (a *API) ok(w http.ResponseWriter, operation string, status int, body interface{}) {
	metrics.RecordOperation(operation, true)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a single JSON object into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF && allowEmpty {
			return nil
		}
		return apperrors.NewInvalidInputError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
