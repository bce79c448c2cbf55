package output

import (
	"encoding/json"

	"github.com/nmdm/nmdm/internal/bench"
	"github.com/nmdm/nmdm/internal/core"
)

// JSONFormatter renders values as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatPairs renders pair stats as a JSON array.
func (f *JSONFormatter) FormatPairs(pairs []core.PairStats) (string, error) {
	if pairs == nil {
		pairs = []core.PairStats{}
	}
	return f.marshal(pairs)
}

// FormatBench renders a bench report as JSON.
func (f *JSONFormatter) FormatBench(report *bench.Report) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

func (f *JSONFormatter) marshal(v interface{}) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
