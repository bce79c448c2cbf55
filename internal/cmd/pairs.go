package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/nmdm/nmdm/internal/config"
	apperrors "github.com/nmdm/nmdm/internal/errors"
	"github.com/nmdm/nmdm/internal/output"
	"github.com/nmdm/nmdm/internal/server/handlers"
)

var (
	pairsServer  string
	pairsFormat  string
	pairsTimeout time.Duration
)

// serverURL returns the control plane base URL, from --server or the
// configured listen address.
func serverURL(flag string, cfg *config.Config) string {
	if s := strings.TrimSpace(flag); s != "" {
		return strings.TrimRight(s, "/")
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

// fetchPairs lists the pairs of a running server.
func fetchPairs(ctx context.Context, client *http.Client, baseURL string) (*handlers.PairListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/pairs", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope apperrors.HTTPErrorResponse
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			return nil, fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list handlers.PairListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode pair list: %w", err)
	}
	return &list, nil
}

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List the pairs of a running server",
	Long: `Query a running "nmdm serve" instance and print every pair with its queue
depths, line rate, modem lines and transfer counters.`,
	Example: `  nmdm pairs
  nmdm pairs --server http://127.0.0.1:8080 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := output.ParseFormat(pairsFormat)
		if err != nil {
			return withExitCode(foundry.ExitConfigInvalid, "Invalid output format", err)
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: pairsTimeout}
		list, err := fetchPairs(ctx, client, serverURL(pairsServer, cfg))
		if err != nil {
			return withExitCode(foundry.ExitExternalServiceUnavailable, "Failed to list pairs", err)
		}

		rendered, err := output.NewFormatter(format).FormatPairs(list.Pairs)
		if err != nil {
			return withExitCode(foundry.ExitFailure, "Failed to render pairs", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pairsCmd)

	pairsCmd.Flags().StringVar(&pairsServer, "server", "", "control plane URL (default: from server.host and server.port)")
	pairsCmd.Flags().StringVar(&pairsFormat, "format", "table", "output format: table, json, yaml, markdown")
	pairsCmd.Flags().DurationVar(&pairsTimeout, "timeout", 10*time.Second, "request timeout")
}
