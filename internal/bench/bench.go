// Package bench drives a rate-limited pair on a manual clock and measures
// how closely delivery follows the configured line rate.
package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/taskq"
)

// Options configures a run.
type Options struct {
	Line       core.LineParams
	Tick       time.Duration
	Ticks      int
	Bytes      int
	BufferSize int
	BurstTicks int
}

// Report summarizes a run.
type Report struct {
	Line          core.LineParams `json:"line_params" yaml:"line_params"`
	BitsPerChar   int             `json:"bits_per_char" yaml:"bits_per_char"`
	Tick          string          `json:"tick" yaml:"tick"`
	Ticks         int             `json:"ticks" yaml:"ticks"`
	Submitted     int             `json:"submitted" yaml:"submitted"`
	Delivered     int             `json:"delivered" yaml:"delivered"`
	Expected      int             `json:"expected" yaml:"expected"`
	MinPerTick    int             `json:"min_per_tick" yaml:"min_per_tick"`
	MaxPerTick    int             `json:"max_per_tick" yaml:"max_per_tick"`
	ThroughputBps float64         `json:"throughput_bps" yaml:"throughput_bps"`
	Deferred      uint64          `json:"deferred_quota" yaml:"deferred_quota"`
	Intact        bool            `json:"intact" yaml:"intact"`
	PerTick       []int           `json:"per_tick,omitempty" yaml:"per_tick,omitempty"`
}

// Exact reports whether delivery matched the expected byte count.
func (r *Report) Exact() bool {
	return r.Delivered == r.Expected && r.Intact
}

// Run submits Bytes bytes on side A and advances the clock Ticks times,
// draining side B after every tick.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Ticks <= 0 {
		return nil, fmt.Errorf("ticks must be positive: %d", opts.Ticks)
	}
	if opts.Bytes <= 0 {
		return nil, fmt.Errorf("bytes must be positive: %d", opts.Bytes)
	}
	if opts.Line.Parity == "" {
		opts.Line.Parity = core.ParityNone
	}

	q := taskq.New(0)
	defer q.Close()

	pair := link.NewPair(link.Options{
		BufferSize: opts.BufferSize,
		Tick:       opts.Tick,
		BurstTicks: opts.BurstTicks,
		Executor:   q,
		NewTicker:  link.ManualTicks,
		Label:      "bench",
	})
	defer func() { _ = pair.Close(true) }()

	src, dst := pair.A(), pair.B()
	if err := src.SetLineParams(opts.Line); err != nil {
		return nil, err
	}

	payload := make([]byte, opts.Bytes)
	for i := range payload {
		payload[i] = byte(i*31 + i>>8)
	}

	stats := src.Stats()
	report := &Report{
		Line:        opts.Line,
		BitsPerChar: stats.BitsPerChar,
		Tick:        pair.TickInterval().String(),
		Ticks:       opts.Ticks,
		Submitted:   opts.Bytes,
		Expected:    expected(opts.Line.Baud, stats.BitsPerChar, pair.TickInterval(), opts.Ticks, opts.Bytes),
		MinPerTick:  -1,
		PerTick:     make([]int, 0, opts.Ticks),
	}

	var (
		received bytes.Buffer
		offset   int
	)
	submit := func() error {
		if offset == len(payload) {
			return nil
		}
		n, err := src.SubmitOutput(payload[offset:])
		offset += n
		if err != nil && !errors.Is(err, link.ErrCapacityExceeded) {
			return err
		}
		return nil
	}

	// settle refills A, runs queued transfers and drains B until nothing more
	// arrives. Draining frees space, which lets a transfer held back by a
	// small buffer spend the rest of the current tick's credit.
	settle := func() (int, error) {
		total := 0
		for {
			if err := submit(); err != nil {
				return total, err
			}
			q.RunPending()
			n, err := drain(dst, &received)
			total += n
			if err != nil || n == 0 {
				return total, err
			}
		}
	}

	// Anything queued before the first tick goes out only on an unlimited line.
	initial, err := settle()
	if err != nil {
		return nil, err
	}

	for i := 0; i < opts.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pair.Tick()

		n, err := settle()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			n += initial
		}
		report.PerTick = append(report.PerTick, n)
		if report.MinPerTick < 0 || n < report.MinPerTick {
			report.MinPerTick = n
		}
		report.MaxPerTick = max(report.MaxPerTick, n)
	}

	report.Delivered = received.Len()
	report.Intact = bytes.Equal(received.Bytes(), payload[:report.Delivered])
	report.Deferred = src.Stats().DeferredQuota
	if elapsed := pair.TickInterval().Seconds() * float64(opts.Ticks); elapsed > 0 {
		report.ThroughputBps = float64(report.Delivered*report.BitsPerChar) / elapsed
	}
	return report, nil
}

func drain(ep *link.Endpoint, into *bytes.Buffer) (int, error) {
	total := 0
	for {
		data, err := ep.ConsumeInput(64 * 1024)
		if errors.Is(err, link.ErrNoDataAvailable) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		into.Write(data)
		total += len(data)
	}
}

// expected is floor(ticks * baud * tick / bitsPerChar) capped at the payload.
// A zero baud is unlimited.
func expected(baud int64, bitsPerChar int, tick time.Duration, ticks, payload int) int {
	if baud == 0 {
		return payload
	}
	num := new(big.Int).Mul(big.NewInt(baud), big.NewInt(int64(tick)))
	num.Mul(num, big.NewInt(int64(ticks)))
	den := big.NewInt(int64(bitsPerChar) * int64(time.Second))
	n := new(big.Int).Quo(num, den)
	if !n.IsInt64() || n.Int64() > int64(payload) {
		return payload
	}
	return int(n.Int64())
}
