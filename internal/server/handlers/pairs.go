package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/registry"
	apperrors "github.com/nmdm/nmdm/internal/errors"
)

// CreatePairRequest optionally pins the unit number of a new pair.
type CreatePairRequest struct {
	Unit *uint64 `json:"unit,omitempty"`
}

// PairListResponse is returned by GET /v1/pairs.
type PairListResponse struct {
	Count int              `json:"count"`
	Pairs []core.PairStats `json:"pairs"`
}

// ListPairs handles GET /v1/pairs.
func (a *API) ListPairs(w http.ResponseWriter, r *http.Request) {
	entries := a.registry.List()
	resp := PairListResponse{Count: len(entries), Pairs: make([]core.PairStats, 0, len(entries))}
	for _, entry := range entries {
		resp.Pairs = append(resp.Pairs, entry.Stats())
	}
	a.ok(w, "list_pairs", http.StatusOK, resp)
}

// CreatePair handles POST /v1/pairs. Without a unit the lowest free one is used.
func (a *API) CreatePair(w http.ResponseWriter, r *http.Request) {
	var req CreatePairRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		a.fail(w, r, "create_pair", err)
		return
	}

	var (
		entry *registry.Entry
		err   error
	)
	if req.Unit != nil {
		entry, err = a.registry.Create(*req.Unit)
	} else {
		entry, err = a.registry.CreateNext()
	}
	if err != nil {
		a.fail(w, r, "create_pair", err)
		return
	}

	w.Header().Set("Location", "/v1/pairs/"+strconv.FormatUint(entry.Unit, 10))
	a.ok(w, "create_pair", http.StatusCreated, entry.Stats())
}

// GetPair handles GET /v1/pairs/{unit}.
func (a *API) GetPair(w http.ResponseWriter, r *http.Request) {
	unit, err := parseUnit(r)
	if err != nil {
		a.fail(w, r, "get_pair", err)
		return
	}
	entry, err := a.registry.Get(unit)
	if err != nil {
		a.fail(w, r, "get_pair", err)
		return
	}
	a.ok(w, "get_pair", http.StatusOK, entry.Stats())
}

// DeletePair handles DELETE /v1/pairs/{unit}. A pair still holding data is
// refused with PAIR_BUSY unless force=true.
func (a *API) DeletePair(w http.ResponseWriter, r *http.Request) {
	unit, err := parseUnit(r)
	if err != nil {
		a.fail(w, r, "delete_pair", err)
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			a.fail(w, r, "delete_pair", apperrors.NewInvalidInputError("force must be a boolean"))
			return
		}
	}

	if err := a.registry.Destroy(unit, force); err != nil {
		a.fail(w, r, "delete_pair", err)
		return
	}
	a.ok(w, "delete_pair", http.StatusOK, map[string]interface{}{
		"unit":   unit,
		"status": "destroyed",
	})
}

func parseUnit(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "unit")
	unit, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewInvalidInputError("unit must be a non-negative integer: " + raw)
	}
	return unit, nil
}
