package output

import (
	"fmt"
	"strings"

	"github.com/nmdm/nmdm/internal/bench"
	"github.com/nmdm/nmdm/internal/core"
)

// MarkdownFormatter renders values as markdown tables.
type MarkdownFormatter struct{}

// FormatPairs renders one row per port.
func (f *MarkdownFormatter) FormatPairs(pairs []core.PairStats) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Null-modem pairs\n\n")
	sb.WriteString("| Port | Rate | Framing | Modem | Out | In | Sent | Received |\n")
	sb.WriteString("|------|------|---------|-------|-----|----|------|----------|\n")

	for _, p := range pairs {
		for _, ep := range endpoints(p) {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %d | %d | %d |\n",
				escapeMarkdownCell(portLabel(p, ep)),
				escapeMarkdownCell(rateLabel(ep)),
				escapeMarkdownCell(framingLabel(ep)),
				escapeMarkdownCell(ep.Modem),
				ep.PendingOutput,
				ep.PendingInput,
				ep.BytesSent,
				ep.BytesReceived,
			))
		}
	}

	sb.WriteString(fmt.Sprintf("\n**Pairs**: %d\n", len(pairs)))
	return sb.String(), nil
}

// FormatBench renders the report as a metric table.
func (f *MarkdownFormatter) FormatBench(report *bench.Report) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Rate emulation: %s\n\n", report.Line.String()))
	sb.WriteString("| Metric | Value |\n|--------|-------|\n")
	rows := [][2]string{
		{"Bits per char", fmt.Sprint(report.BitsPerChar)},
		{"Tick", report.Tick},
		{"Ticks", fmt.Sprint(report.Ticks)},
		{"Expected", fmt.Sprint(report.Expected)},
		{"Delivered", fmt.Sprint(report.Delivered)},
		{"Throughput", fmt.Sprintf("%.1f bit/s", report.ThroughputBps)},
	}
	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", row[0], escapeMarkdownCell(row[1])))
	}
	sb.WriteString(fmt.Sprintf("\n**Result**: %s\n", benchVerdict(report)))
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
