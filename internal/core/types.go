package core

import (
	"fmt"
	"strings"
)

// Side identifies one endpoint of a linked pair.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideB {
		return "B"
	}
	return "A"
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideB {
		return SideA
	}
	return SideB
}

// Signal is a bitmask of modem control lines.
type Signal uint8

const (
	// Outputs asserted by an endpoint.
	SignalDTR Signal = 1 << iota
	SignalRTS
	// Inputs observed by an endpoint, driven by its peer.
	SignalDCD
	SignalDSR
	SignalCTS
)

// SignalOutputs is the set of lines an endpoint may drive.
const SignalOutputs = SignalDTR | SignalRTS

func (s Signal) String() string {
	if s == 0 {
		return "none"
	}
	names := make([]string, 0, 5)
	for _, item := range []struct {
		bit  Signal
		name string
	}{
		{SignalDTR, "DTR"},
		{SignalRTS, "RTS"},
		{SignalDCD, "DCD"},
		{SignalDSR, "DSR"},
		{SignalCTS, "CTS"},
	} {
		if s&item.bit != 0 {
			names = append(names, item.name)
		}
	}
	return strings.Join(names, "|")
}

// Parity selects the parity bit of a character frame.
type Parity string

const (
	ParityNone Parity = "none"
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// LineParams describes the serial framing used to derive an emulated rate.
type LineParams struct {
	Baud     int64  `json:"baud" yaml:"baud"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	Parity   Parity `json:"parity" yaml:"parity"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
}

// DefaultLineParams is 8N1 with no rate limit.
var DefaultLineParams = LineParams{DataBits: 8, Parity: ParityNone, StopBits: 1}

// Validate checks the framing fields. A zero baud is valid and means unlimited.
func (p LineParams) Validate() error {
	if p.Baud < 0 {
		return fmt.Errorf("baud must not be negative: %d", p.Baud)
	}
	if p.DataBits < 5 || p.DataBits > 8 {
		return fmt.Errorf("data bits must be 5-8: %d", p.DataBits)
	}
	if p.StopBits != 1 && p.StopBits != 2 {
		return fmt.Errorf("stop bits must be 1 or 2: %d", p.StopBits)
	}
	switch p.Parity {
	case "", ParityNone, ParityOdd, ParityEven:
	default:
		return fmt.Errorf("unsupported parity: %s", p.Parity)
	}
	return nil
}

// BitsPerChar counts the bits on the wire for one character: a start bit,
// the data bits, an optional parity bit and the stop bits.
func (p LineParams) BitsPerChar() int {
	bits := 1 + p.DataBits + p.StopBits
	if p.Parity == ParityOdd || p.Parity == ParityEven {
		bits++
	}
	return bits
}

// ParseFraming parses the conventional data/parity/stop notation such as
// "8N1" or "7E2" into the framing fields of a LineParams.
func ParseFraming(s string) (LineParams, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 || s[0] < '5' || s[0] > '8' || (s[2] != '1' && s[2] != '2') {
		return LineParams{}, fmt.Errorf("invalid framing %q: want <5-8><N|E|O><1|2>", s)
	}
	params := LineParams{DataBits: int(s[0] - '0'), StopBits: int(s[2] - '0')}
	switch s[1] {
	case 'N':
		params.Parity = ParityNone
	case 'E':
		params.Parity = ParityEven
	case 'O':
		params.Parity = ParityOdd
	default:
		return LineParams{}, fmt.Errorf("invalid framing %q: parity must be N, E or O", s)
	}
	return params, nil
}

func (p LineParams) String() string {
	parity := "N"
	switch p.Parity {
	case ParityOdd:
		parity = "O"
	case ParityEven:
		parity = "E"
	}
	return fmt.Sprintf("%d %d%s%d", p.Baud, p.DataBits, parity, p.StopBits)
}

// EndpointStats is a point-in-time view of one endpoint.
type EndpointStats struct {
	Side            string     `json:"side" yaml:"side"`
	Name            string     `json:"name,omitempty" yaml:"name,omitempty"`
	Peer            string     `json:"peer,omitempty" yaml:"peer,omitempty"`
	PendingOutput   int        `json:"pending_output" yaml:"pending_output"`
	PendingInput    int        `json:"pending_input" yaml:"pending_input"`
	BufferSize      int        `json:"buffer_size" yaml:"buffer_size"`
	RateBitsPerSec  int64      `json:"rate_bits_per_sec" yaml:"rate_bits_per_sec"`
	BitsPerChar     int        `json:"bits_per_char" yaml:"bits_per_char"`
	CreditFixed8    int64      `json:"credit_fixed8" yaml:"credit_fixed8"`
	Carrier         bool       `json:"carrier" yaml:"carrier"`
	Modem           string     `json:"modem" yaml:"modem"`
	Scheduled       bool       `json:"scheduled" yaml:"scheduled"`
	BytesSent       uint64     `json:"bytes_sent" yaml:"bytes_sent"`
	BytesReceived   uint64     `json:"bytes_received" yaml:"bytes_received"`
	DeferredQuota   uint64     `json:"deferred_quota" yaml:"deferred_quota"`
	DeferredSpace   uint64     `json:"deferred_space" yaml:"deferred_space"`
	LineParams      LineParams `json:"line_params" yaml:"line_params"`
	CarrierChanges  uint64     `json:"carrier_changes" yaml:"carrier_changes"`
	TransferInvokes uint64     `json:"transfer_invocations" yaml:"transfer_invocations"`
}

// PairStats is a point-in-time view of a linked pair.
type PairStats struct {
	Unit      uint64        `json:"unit" yaml:"unit"`
	ID        string        `json:"id,omitempty" yaml:"id,omitempty"`
	CreatedAt string        `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Closed    bool          `json:"closed" yaml:"closed"`
	TimerLive bool          `json:"timer_live" yaml:"timer_live"`
	A         EndpointStats `json:"a" yaml:"a"`
	B         EndpointStats `json:"b" yaml:"b"`
}
