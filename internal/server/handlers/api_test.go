package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/registry"
	apperrors "github.com/nmdm/nmdm/internal/errors"
)

type apiFixture struct {
	reg    *registry.Registry
	router http.Handler
}

func newAPIFixture(t *testing.T, opts registry.Options) *apiFixture {
	t.Helper()
	opts.Link.NewTicker = link.ManualTicks
	reg := registry.New(opts)
	t.Cleanup(func() { _ = reg.Shutdown(true) })

	r := chi.NewRouter()
	r.Route("/v1", NewAPI(reg).Routes)
	return &apiFixture{reg: reg, router: r}
}

func (f *apiFixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestCreateAndListPairs(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})

	rec := f.do(t, http.MethodPost, "/v1/pairs", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/v1/pairs/0", rec.Header().Get("Location"))

	var created core.PairStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, uint64(0), created.Unit)
	assert.Equal(t, "nmdm0A", created.A.Name)
	assert.Equal(t, "nmdm0B", created.B.Name)
	assert.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodPost, "/v1/pairs", `{"unit":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/pairs", `{"unit":5}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.CodeConflict, errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/v1/pairs", `{"unit":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/pairs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list PairListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, uint64(0), list.Pairs[0].Unit)
	assert.Equal(t, uint64(5), list.Pairs[1].Unit)

	rec = f.do(t, http.MethodGet, "/v1/pairs/5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/pairs/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidInput, errorCode(t, rec))
}

func TestPairLimitIsResourceExhausted(t *testing.T) {
	f := newAPIFixture(t, registry.Options{MaxPairs: 1})

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/pairs", "").Code)

	rec := f.do(t, http.MethodPost, "/v1/pairs", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.CodeResourceExhausted, errorCode(t, rec))
}

func TestOutputCrossesToPeerInput(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})
	_, err := f.reg.Create(0)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/ports/nmdm0A/output", "hello modem")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))
	assert.Equal(t, 11, submitted.Accepted)
	assert.Equal(t, 11, submitted.Submitted)

	f.reg.Executor().RunPending()

	rec = f.do(t, http.MethodGet, "/v1/ports/nmdm0B/input?max=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "6", rec.Header().Get("X-Pending-Input"))

	rec = f.do(t, http.MethodGet, "/v1/ports/nmdm0B/input", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, " modem", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/ports/nmdm0B/input", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.CodeNoDataAvailable, errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/ports/nmdm0B/input?max=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutputBeyondCapacity(t *testing.T) {
	f := newAPIFixture(t, registry.Options{Link: link.Options{BufferSize: 8}})
	_, err := f.reg.Create(0)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/ports/nmdm0A/output", "0123456789AB")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))
	assert.Equal(t, 12, submitted.Submitted)
	assert.Equal(t, 8, submitted.Accepted)
	assert.Equal(t, 8, submitted.Pending)

	rec = f.do(t, http.MethodPost, "/v1/ports/nmdm0A/output", "more")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperrors.CodeCapacityExceeded, errorCode(t, rec))
}

func TestSetRate(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})
	_, err := f.reg.Create(0)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPut, "/v1/ports/nmdm0A/rate", `{"bits_per_sec":9600}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats core.EndpointStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(9600), stats.RateBitsPerSec)
	assert.Equal(t, "nmdm0A", stats.Name)

	rec = f.do(t, http.MethodPut, "/v1/ports/nmdm0B/rate",
		`{"line_params":{"baud":9600,"data_bits":7,"parity":"even","stop_bits":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 10, stats.BitsPerChar)

	rec = f.do(t, http.MethodPut, "/v1/ports/nmdm0A/rate", `{"bits_per_sec":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidRate, errorCode(t, rec))
	assert.Equal(t, int64(9600), f.mustOpen(t, "nmdm0A").Rate())

	rec = f.do(t, http.MethodPut, "/v1/ports/nmdm0A/rate", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidInput, errorCode(t, rec))

	rec = f.do(t, http.MethodPut, "/v1/ports/nmdm0A/rate",
		`{"bits_per_sec":300,"line_params":{"baud":300,"data_bits":8,"stop_bits":1}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func (f *apiFixture) mustOpen(t *testing.T, name string) *link.Endpoint {
	t.Helper()
	ep, err := f.reg.Open(name)
	require.NoError(t, err)
	return ep
}

func TestCarrierIsVisibleToPeer(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})
	_, err := f.reg.Create(3)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPut, "/v1/ports/nmdm3A/carrier", `{"asserted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var own ModemResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&own))
	assert.False(t, own.Carrier)
	assert.Contains(t, own.Signals, "DTR")

	rec = f.do(t, http.MethodGet, "/v1/ports/nmdm3B/modem", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var peer ModemResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&peer))
	assert.True(t, peer.Carrier)
	assert.ElementsMatch(t, []string{"DCD", "DSR"}, peer.Signals)

	rec = f.do(t, http.MethodPut, "/v1/ports/nmdm3A/carrier", `{"asserted":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.mustOpen(t, "nmdm3B").Carrier())
}

func TestFlushDiscardsQueues(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})
	entry, err := f.reg.Create(0)
	require.NoError(t, err)

	_, err = entry.Pair.A().SubmitOutput([]byte("abc"))
	require.NoError(t, err)
	f.reg.Executor().RunPending()
	require.Equal(t, 3, entry.Pair.B().Buffered())

	rec := f.do(t, http.MethodPost, "/v1/ports/nmdm0B/flush", `{"queue":"input"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, entry.Pair.B().Buffered())

	rec = f.do(t, http.MethodPost, "/v1/ports/nmdm0B/flush", `{"queue":"sideways"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/ports/nmdm0B/flush", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeletePair(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})
	entry, err := f.reg.Create(1)
	require.NoError(t, err)
	_, err = entry.Pair.A().SubmitOutput([]byte("unread"))
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, "/v1/pairs/1", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.CodePairBusy, errorCode(t, rec))

	rec = f.do(t, http.MethodDelete, "/v1/pairs/1?force=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/pairs/1?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/pairs/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, errorCode(t, rec))
}

func TestPortNames(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})

	rec := f.do(t, http.MethodGet, "/v1/ports/ttyS0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidInput, errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/ports/nmdm4A", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloneOnOpenCreatesPairs(t *testing.T) {
	f := newAPIFixture(t, registry.Options{CloneOnOpen: true})

	rec := f.do(t, http.MethodPost, "/v1/ports/nmdm7B/output", "x")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.reg.Count())

	_, err := f.reg.Get(7)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/v1/ports/nmdm7B", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var port core.EndpointStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &port))
	assert.Equal(t, "nmdm7B", port.Name)
	assert.Equal(t, "nmdm7A", port.Peer)
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	f := newAPIFixture(t, registry.Options{})
	_, err := f.reg.Create(0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/v1/ports/nmdm0A/carrier", bytes.NewBufferString(`{"on":true}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
