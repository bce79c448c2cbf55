package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/registry"
	apperrors "github.com/nmdm/nmdm/internal/errors"
	"github.com/nmdm/nmdm/internal/metrics"
)

// defaultInputChunk is used by GET input when max is omitted.
const defaultInputChunk = 4096

// SubmitResponse reports how much of a submitted body was queued.
type SubmitResponse struct {
	Port      string `json:"port"`
	Submitted int    `json:"submitted"`
	Accepted  int    `json:"accepted"`
	Pending   int    `json:"pending_output"`
}

// RateRequest sets either a plain bit rate or full line parameters.
type RateRequest struct {
	BitsPerSec *int64           `json:"bits_per_sec,omitempty"`
	LineParams *core.LineParams `json:"line_params,omitempty"`
}

// CarrierRequest raises or drops the port's carrier output.
type CarrierRequest struct {
	Asserted bool `json:"asserted"`
}

// FlushRequest selects the queues to discard: input, output or both.
type FlushRequest struct {
	Queue string `json:"queue"`
}

// ModemResponse describes the modem lines seen by a port.
type ModemResponse struct {
	Port    string   `json:"port"`
	Carrier bool     `json:"carrier"`
	Lines   string   `json:"lines"`
	Signals []string `json:"signals"`
}

func (a *API) endpoint(r *http.Request) (string, *link.Endpoint, error) {
	name := chi.URLParam(r, "name")
	ep, err := a.registry.Open(name)
	if err != nil {
		return name, nil, err
	}
	return name, ep, nil
}

func portStats(name string, ep *link.Endpoint) core.EndpointStats {
	stats := ep.Stats()
	stats.Name = name
	if unit, side, err := registry.ParseName(name); err == nil {
		stats.Peer = registry.Name(unit, side.Other())
	}
	return stats
}

// GetPort handles GET /v1/ports/{name}.
func (a *API) GetPort(w http.ResponseWriter, r *http.Request) {
	name, ep, err := a.endpoint(r)
	if err != nil {
		a.fail(w, r, "get_port", err)
		return
	}
	a.ok(w, "get_port", http.StatusOK, portStats(name, ep))
}

// SubmitOutput handles POST /v1/ports/{name}/output. The raw body is queued
// without blocking. A body that only partly fits is accepted up to the free
// space; a body of which nothing fits fails with CAPACITY_EXCEEDED.
func (a *API) SubmitOutput(w http.ResponseWriter, r *http.Request) {
	name, ep, err := a.endpoint(r)
	if err != nil {
		a.fail(w, r, "submit_output", err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.fail(w, r, "submit_output", apperrors.NewInvalidInputError(fmt.Sprintf("read body: %v", err)))
		return
	}

	n, err := ep.SubmitOutput(body)
	if err != nil && (n == 0 || !errors.Is(err, link.ErrCapacityExceeded)) {
		a.fail(w, r, "submit_output", err)
		return
	}

	a.ok(w, "submit_output", http.StatusAccepted, SubmitResponse{
		Port:      name,
		Submitted: len(body),
		Accepted:  n,
		Pending:   ep.Pending(),
	})
}

// ConsumeInput handles GET /v1/ports/{name}/input?max=N and returns the
// consumed bytes as application/octet-stream.
func (a *API) ConsumeInput(w http.ResponseWriter, r *http.Request) {
	_, ep, err := a.endpoint(r)
	if err != nil {
		a.fail(w, r, "consume_input", err)
		return
	}

	limit := defaultInputChunk
	if raw := r.URL.Query().Get("max"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			a.fail(w, r, "consume_input", apperrors.NewInvalidInputError("max must be a positive integer"))
			return
		}
	}

	data, err := ep.ConsumeInput(limit)
	if err != nil {
		a.fail(w, r, "consume_input", err)
		return
	}

	metrics.RecordOperation("consume_input", true)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Pending-Input", strconv.Itoa(ep.Buffered()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SetRate handles PUT /v1/ports/{name}/rate.
func (a *API) SetRate(w http.ResponseWriter, r *http.Request) {
	name, ep, err := a.endpoint(r)
	if err != nil {
		a.fail(w, r, "set_rate", err)
		return
	}

	var req RateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		a.fail(w, r, "set_rate", err)
		return
	}

	switch {
	case req.BitsPerSec != nil && req.LineParams != nil:
		err = apperrors.NewInvalidInputError("set either bits_per_sec or line_params, not both")
	case req.BitsPerSec != nil:
		err = ep.SetRate(*req.BitsPerSec)
	case req.LineParams != nil:
		err = ep.SetLineParams(*req.LineParams)
	default:
		err = apperrors.NewInvalidInputError("bits_per_sec or line_params is required")
	}
	if err != nil {
		a.fail(w, r, "set_rate", err)
		return
	}
	a.ok(w, "set_rate", http.StatusOK, portStats(name, ep))
}

// SetCarrier handles PUT /v1/ports/{name}/carrier. The peer's DCD has changed
// by the time the response is written.
func (a *API) SetCarrier(w http.ResponseWriter, r *http.Request) {
	name, ep, err := a.endpoint(r)
	if err != nil {
		a.fail(w, r, "set_carrier", err)
		return
	}

	var req CarrierRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		a.fail(w, r, "set_carrier", err)
		return
	}
	if err := ep.SetCarrier(req.Asserted); err != nil {
		a.fail(w, r, "set_carrier", err)
		return
	}
	a.ok(w, "set_carrier", http.StatusOK, modemResponse(name, ep))
}

// GetModem handles GET /v1/ports/{name}/modem.
func (a *API) GetModem(w http.ResponseWriter, r *http.Request) {
	name, ep, err := a.endpoint(r)
	if err != nil {
		a.fail(w, r, "get_modem", err)
		return
	}
	a.ok(w, "get_modem", http.StatusOK, modemResponse(name, ep))
}

// Flush handles POST /v1/ports/{name}/flush.
func (a *API) Flush(w http.ResponseWriter, r *http.Request) {
	name, ep, err := a.endpoint(r)
	if err != nil {
		a.fail(w, r, "flush", err)
		return
	}

	req := FlushRequest{Queue: "both"}
	if err := decodeJSON(w, r, &req, true); err != nil {
		a.fail(w, r, "flush", err)
		return
	}

	var which link.FlushQueue
	switch req.Queue {
	case "input":
		which = link.FlushInput
	case "output":
		which = link.FlushOutput
	case "both", "":
		which = link.FlushBoth
	default:
		a.fail(w, r, "flush", apperrors.NewInvalidInputError("queue must be input, output or both"))
		return
	}

	if err := ep.Flush(which); err != nil {
		a.fail(w, r, "flush", err)
		return
	}
	a.ok(w, "flush", http.StatusOK, portStats(name, ep))
}

func modemResponse(name string, ep *link.Endpoint) ModemResponse {
	lines := ep.Modem()
	resp := ModemResponse{
		Port:    name,
		Carrier: ep.Carrier(),
		Lines:   lines.String(),
		Signals: []string{},
	}
	for _, bit := range []core.Signal{core.SignalDTR, core.SignalRTS, core.SignalDCD, core.SignalDSR, core.SignalCTS} {
		if lines&bit != 0 {
			resp.Signals = append(resp.Signals, bit.String())
		}
	}
	return resp
}
