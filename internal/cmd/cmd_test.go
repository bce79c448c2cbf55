package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/registry"
	"github.com/nmdm/nmdm/internal/server/handlers"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "0.0.0.0", Port: 8181},
		Link: config.LinkConfig{
			BufferSize:  2048,
			Tick:        20 * time.Millisecond,
			BurstTicks:  3,
			DefaultRate: 19200,
		},
		Registry: config.RegistryConfig{MaxPairs: 4, CloneOnOpen: true, DiscardOnHangup: true},
		Bridge:   config.BridgeConfig{TermiosPoll: time.Second, EmulateSpeed: true, ReadChunk: 512},
		Workers:  3,
	}
}

func TestExitCodeFor(t *testing.T) {
	code, msg := exitCodeFor(errors.New("boom"))
	assert.Equal(t, foundry.ExitFailure, code)
	assert.Equal(t, "Command execution failed", msg)

	cause := errors.New("bad yaml")
	err := withExitCode(foundry.ExitConfigInvalid, "Failed to load configuration", cause)
	code, msg = exitCodeFor(err)
	assert.Equal(t, foundry.ExitConfigInvalid, code)
	assert.Equal(t, "Failed to load configuration", msg)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Failed to load configuration: bad yaml", err.Error())

	assert.Equal(t, "no cause", withExitCode(foundry.ExitFailure, "no cause", nil).Error())
}

func TestRegistryOptionsFromConfig(t *testing.T) {
	cfg := testConfig()
	logger := zap.NewNop()
	opts := registryOptions(cfg, logger, nil)

	assert.Equal(t, 4, opts.MaxPairs)
	assert.True(t, opts.CloneOnOpen)
	assert.True(t, opts.DiscardOnHangup)
	assert.Equal(t, int64(19200), opts.DefaultRate)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 2048, opts.Link.BufferSize)
	assert.Equal(t, 20*time.Millisecond, opts.Link.Tick)
	assert.Equal(t, 3, opts.Link.BurstTicks)
	assert.Nil(t, opts.Observer)

	reg := registry.New(opts)
	t.Cleanup(func() { _ = reg.Shutdown(true) })
	entry, err := reg.CreateNext()
	require.NoError(t, err)
	assert.Equal(t, int64(19200), entry.Pair.A().Rate())
	assert.Equal(t, 20*time.Millisecond, entry.Pair.TickInterval())
}

func TestBridgeOptionsFromConfig(t *testing.T) {
	opts := bridgeOptions(testConfig(), nil)
	assert.Equal(t, time.Second, opts.TermiosPoll)
	assert.True(t, opts.EmulateSpeed)
	assert.Equal(t, 512, opts.ReadChunk)
}

func TestServeOverridesOnlyChangedFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&serverHost, "host", "localhost", "")
	cmd.Flags().IntVar(&serverPort, "port", 8080, "")

	assert.Nil(t, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("port", "9000"))
	assert.Equal(t, map[string]any{"server": map[string]any{"port": 9000}}, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("host", "127.0.0.1"))
	assert.Equal(t, map[string]any{"server": map[string]any{"host": "127.0.0.1", "port": 9000}}, serveOverrides(cmd))
}

func TestPTYOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Int64Var(&ptyRate, "rate", 0, "")
	cmd.Flags().BoolVar(&ptyEmulateSpeed, "emulate-speed", false, "")

	assert.Nil(t, ptyOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("rate", "2400"))
	require.NoError(t, cmd.Flags().Set("emulate-speed", "true"))
	assert.Equal(t, map[string]any{
		"link":   map[string]any{"default_rate": int64(2400)},
		"bridge": map[string]any{"emulate_speed": true},
	}, ptyOverrides(cmd))
}

func TestBenchOptions(t *testing.T) {
	cfg := testConfig()

	opts, err := benchOptions(cfg, 9600, "7e2", 0, 50, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(9600), opts.Line.Baud)
	assert.Equal(t, 7, opts.Line.DataBits)
	assert.Equal(t, 2, opts.Line.StopBits)
	assert.Equal(t, 11, opts.Line.BitsPerChar())
	assert.Equal(t, cfg.Link.Tick, opts.Tick, "zero tick falls back to link.tick")
	assert.Equal(t, cfg.Link.BufferSize, opts.BufferSize)

	opts, err = benchOptions(cfg, 300, "8N1", time.Millisecond, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, opts.Tick)

	_, err = benchOptions(cfg, 9600, "9N1", 0, 1, 1)
	assert.Error(t, err)
	_, err = benchOptions(cfg, -1, "8N1", 0, 1, 1)
	assert.Error(t, err)
}

func TestBenchCommandStrict(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"bench", "--baud", "800", "--framing", "6N1", "--tick", "100ms", "--ticks", "10", "--bytes", "500", "--format", "json", "--strict"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), `"delivered": 100`)
	assert.Contains(t, out.String(), `"expected": 100`)
}

func TestServerURL(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http://localhost:8181", serverURL("", cfg))
	assert.Equal(t, "http://example.test:1", serverURL(" http://example.test:1/ ", cfg))

	cfg.Server.Host = "10.0.0.5"
	assert.Equal(t, "http://10.0.0.5:8181", serverURL("", cfg))
}

func TestFetchPairs(t *testing.T) {
	reg := registry.New(registry.Options{
		Workers: 1,
		Link:    link.Options{NewTicker: link.ManualTicks},
	})
	t.Cleanup(func() { _ = reg.Shutdown(true) })

	router := chi.NewRouter()
	router.Route("/v1", handlers.NewAPI(reg).Routes)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	_, err := reg.Create(2)
	require.NoError(t, err)
	_, err = reg.Create(5)
	require.NoError(t, err)

	list, err := fetchPairs(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, uint64(2), list.Pairs[0].Unit)
	assert.Equal(t, "nmdm5A", list.Pairs[1].A.Name)
}

func TestFetchPairsReportsErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"SHUTDOWN","message":"registry shut down"}}`))
	}))
	t.Cleanup(srv.Close)

	_, err := fetchPairs(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, "SHUTDOWN: registry shut down", err.Error())
}

func TestPrintVersion(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-10-16")

	var out bytes.Buffer
	printVersion(&out, false)
	assert.Equal(t, "nmdm 1.2.3\n", out.String())

	out.Reset()
	printVersion(&out, true)
	assert.Contains(t, out.String(), "Commit: abc123")
	assert.Contains(t, out.String(), "Gofulmen:")
}

func TestDefaultConfigYAMLRoundTripsDefaults(t *testing.T) {
	body, err := defaultConfigYAML()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), "# nmdm config"))

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(body, &parsed))
	linkSection, ok := parsed["link"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 4096, linkSection["buffer_size"])
	assert.Equal(t, "10ms", linkSection["tick"])
	assert.Equal(t, 2, parsed["workers"])
}

func TestCheckRateEmulation(t *testing.T) {
	report, err := checkRateEmulation(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Exact())
	assert.Equal(t, 100, report.Delivered)
}
