package output

import (
	"fmt"
	"strings"

	"github.com/nmdm/nmdm/internal/bench"
	"github.com/nmdm/nmdm/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders pair listings and bench reports.
type Formatter interface {
	FormatPairs(pairs []core.PairStats) (string, error)
	FormatBench(report *bench.Report) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func endpoints(p core.PairStats) []core.EndpointStats {
	return []core.EndpointStats{p.A, p.B}
}

func rateLabel(ep core.EndpointStats) string {
	if ep.RateBitsPerSec == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d bit/s", ep.RateBitsPerSec)
}

func framingLabel(ep core.EndpointStats) string {
	if ep.RateBitsPerSec == 0 {
		return "-"
	}
	params := ep.LineParams
	if params.DataBits == 0 {
		return fmt.Sprintf("%d bits/char", ep.BitsPerChar)
	}
	return strings.TrimPrefix(params.String(), fmt.Sprintf("%d ", params.Baud))
}

func portLabel(p core.PairStats, ep core.EndpointStats) string {
	if ep.Name != "" {
		return ep.Name
	}
	return fmt.Sprintf("%d%s", p.Unit, ep.Side)
}

func benchVerdict(r *bench.Report) string {
	if r.Exact() {
		return "exact"
	}
	if !r.Intact {
		return "corrupted"
	}
	return fmt.Sprintf("off by %d", r.Delivered-r.Expected)
}
