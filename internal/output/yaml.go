package output

import (
	"gopkg.in/yaml.v3"

	"github.com/nmdm/nmdm/internal/bench"
	"github.com/nmdm/nmdm/internal/core"
)

// YAMLFormatter renders values as YAML documents.
type YAMLFormatter struct{}

// FormatPairs renders pair stats as a YAML sequence.
func (f *YAMLFormatter) FormatPairs(pairs []core.PairStats) (string, error) {
	if pairs == nil {
		pairs = []core.PairStats{}
	}
	data, err := yaml.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FormatBench renders a bench report as YAML.
func (f *YAMLFormatter) FormatBench(report *bench.Report) (string, error) {
	if report == nil {
		return "", nil
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
