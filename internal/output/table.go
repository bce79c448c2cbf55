package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nmdm/nmdm/internal/bench"
	"github.com/nmdm/nmdm/internal/core"
)

// TableFormatter renders values as ASCII tables.
type TableFormatter struct{}

// FormatPairs renders one row per port.
func (f *TableFormatter) FormatPairs(pairs []core.PairStats) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Port", "Rate", "Framing", "Modem", "Out", "In", "Sent", "Received", "Deferred"})

	for _, p := range pairs {
		for _, ep := range endpoints(p) {
			t.AppendRow(table.Row{
				portLabel(p, ep),
				rateLabel(ep),
				framingLabel(ep),
				ep.Modem,
				fmt.Sprintf("%d/%d", ep.PendingOutput, ep.BufferSize),
				fmt.Sprintf("%d/%d", ep.PendingInput, ep.BufferSize),
				ep.BytesSent,
				ep.BytesReceived,
				ep.DeferredQuota + ep.DeferredSpace,
			})
		}
		t.AppendSeparator()
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d pairs", len(pairs))})
	return t.Render(), nil
}

// FormatBench renders the report as a two-column table.
func (f *TableFormatter) FormatBench(report *bench.Report) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Rate emulation: %s", report.Line.String())
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Bits per char", report.BitsPerChar},
		{"Tick", report.Tick},
		{"Ticks", report.Ticks},
		{"Submitted", report.Submitted},
		{"Expected", report.Expected},
		{"Delivered", report.Delivered},
		{"Per tick (min/max)", fmt.Sprintf("%d/%d", report.MinPerTick, report.MaxPerTick)},
		{"Throughput", fmt.Sprintf("%.1f bit/s", report.ThroughputBps)},
		{"Quota deferrals", report.Deferred},
	})
	t.AppendFooter(table.Row{"Result", benchVerdict(report)})
	return t.Render(), nil
}
