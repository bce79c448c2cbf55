package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nmdm/nmdm/internal/core"
)

// Prefix starts every port name.
const Prefix = "nmdm"

// Name returns the port name of one side of a unit, e.g. "nmdm3B".
func Name(unit uint64, side core.Side) string {
	return fmt.Sprintf("%s%d%s", Prefix, unit, side)
}

// ParseName splits a port name of the form nmdm<unit><A|B>.
func ParseName(name string) (uint64, core.Side, error) {
	rest, ok := strings.CutPrefix(name, Prefix)
	if !ok || len(rest) < 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	var side core.Side
	switch rest[len(rest)-1] {
	case 'A':
		side = core.SideA
	case 'B':
		side = core.SideB
	default:
		return 0, 0, fmt.Errorf("%w: %q must end in A or B", ErrInvalidName, name)
	}

	digits := rest[:len(rest)-1]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	unit, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	return unit, side, nil
}
