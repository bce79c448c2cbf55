package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/quota"
	"github.com/nmdm/nmdm/internal/core/taskq"
)

// FlushQueue selects which queues Flush discards.
type FlushQueue int

const (
	FlushInput FlushQueue = 1 << iota
	FlushOutput
	FlushBoth = FlushInput | FlushOutput
)

type endpointCounters struct {
	sent           uint64
	received       uint64
	deferredQuota  uint64
	deferredSpace  uint64
	carrierChanges uint64
	invocations    uint64
}

// Endpoint is one side of a Pair. It is safe for concurrent use.
type Endpoint struct {
	pair *Pair
	peer *Endpoint
	side core.Side

	capacity int
	out      bytes.Buffer // pending output, moved to peer.in by the transfer task
	in       bytes.Buffer // input transferred from the peer

	// carrier is true while the peer asserts DTR.
	carrier bool
	outputs core.Signal

	rate        int64
	bitsPerChar int
	lineParams  *core.LineParams
	quota       quota.Accumulator

	// scheduled is set from the first accepted write until the transfer
	// task has drained the pending output.
	scheduled bool
	task      *taskq.Task

	readable chan struct{}
	writable chan struct{}

	handlers    map[uint64]func(Event)
	nextHandler uint64

	stats endpointCounters
}

func (e *Endpoint) init(p *Pair, side core.Side, peer *Endpoint) {
	e.pair = p
	e.peer = peer
	e.side = side
	e.capacity = p.opts.BufferSize
	e.bitsPerChar = BitsPerByte
	e.task = taskq.NewTask(e.transfer)
	e.readable = make(chan struct{})
	e.writable = make(chan struct{})
	e.handlers = make(map[uint64]func(Event))
}

// Side reports which end of the pair this is.
func (e *Endpoint) Side() core.Side { return e.side }

// Peer returns the other endpoint of the pair.
func (e *Endpoint) Peer() *Endpoint { return e.peer }

// Pair returns the owning pair.
func (e *Endpoint) Pair() *Pair { return e.pair }

// SubmitOutput appends as much of p as fits in the pending output and
// schedules a transfer. When p does not fit completely it returns the number
// of bytes accepted together with ErrCapacityExceeded. An empty p is a no-op.
func (e *Endpoint) SubmitOutput(p []byte) (int, error) {
	n, _, err := e.submit(p)
	return n, err
}

// Write blocks until all of p has been queued for transfer or the pair is
// closed.
func (e *Endpoint) Write(p []byte) (int, error) {
	return e.WriteContext(context.Background(), p)
}

// WriteContext is Write with cancellation.
func (e *Endpoint) WriteContext(ctx context.Context, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, wait, err := e.submit(p[written:])
		written += n
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrCapacityExceeded) {
			return written, err
		}
		select {
		case <-wait:
		case <-e.pair.done:
			return written, ErrClosed
		case <-ctx.Done():
			return written, ctx.Err()
		}
	}
	return written, nil
}

func (e *Endpoint) submit(p []byte) (int, <-chan struct{}, error) {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()

	if e.pair.closed {
		return 0, nil, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil, nil
	}

	n := min(e.capacity-e.out.Len(), len(p))
	if n > 0 {
		e.out.Write(p[:n])
		e.scheduleLocked()
	}
	if n < len(p) {
		return n, e.writable, ErrCapacityExceeded
	}
	return n, nil, nil
}

// ConsumeInput removes up to maxBytes bytes of input. It returns
// ErrNoDataAvailable when nothing is queued.
func (e *Endpoint) ConsumeInput(maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()

	if err := e.readableLocked(); err != nil {
		return nil, err
	}
	buf := make([]byte, min(maxBytes, e.in.Len()))
	n := e.readLocked(buf)
	return buf[:n], nil
}

// Read blocks until input is available. It returns io.EOF once the pair is
// closed.
func (e *Endpoint) Read(p []byte) (int, error) {
	return e.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation.
func (e *Endpoint) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, wait, err := e.read(p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, ErrClosed):
			return 0, io.EOF
		case !errors.Is(err, ErrNoDataAvailable):
			return 0, err
		}
		select {
		case <-wait:
		case <-e.pair.done:
			return 0, io.EOF
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (e *Endpoint) read(p []byte) (int, <-chan struct{}, error) {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()

	if err := e.readableLocked(); err != nil {
		return 0, e.readable, err
	}
	return e.readLocked(p), nil, nil
}

func (e *Endpoint) readableLocked() error {
	if e.pair.closed {
		return ErrClosed
	}
	if e.in.Len() == 0 {
		return ErrNoDataAvailable
	}
	return nil
}

func (e *Endpoint) readLocked(p []byte) int {
	n, _ := e.in.Read(p)

	// Space opened up; let a backlogged peer continue.
	if e.peer.scheduled {
		e.pair.exec.Enqueue(e.peer.task)
	}
	return n
}

// Buffered returns the number of input bytes ready to read.
func (e *Endpoint) Buffered() int {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.in.Len()
}

// Pending returns the number of output bytes not yet transferred.
func (e *Endpoint) Pending() int {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.out.Len()
}

// SetRate limits the endpoint's output to bitsPerSec, counting eight bits
// per byte. Zero removes the limit. Unspent credit is discarded.
func (e *Endpoint) SetRate(bitsPerSec int64) error {
	return e.configureRate(bitsPerSec, BitsPerByte, nil)
}

// SetLineParams limits output to the character rate of the given framing.
// A zero baud removes the limit.
func (e *Endpoint) SetLineParams(params core.LineParams) error {
	if params.Parity == "" {
		params.Parity = core.ParityNone
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRate, err)
	}
	return e.configureRate(params.Baud, params.BitsPerChar(), &params)
}

// Rate returns the configured rate in bits per second.
func (e *Endpoint) Rate() int64 {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.rate
}

func (e *Endpoint) configureRate(bitsPerSec int64, bitsPerChar int, params *core.LineParams) error {
	acc, err := quota.New(bitsPerSec, bitsPerChar, e.pair.opts.Tick, e.pair.opts.BurstTicks)
	if err != nil {
		return err
	}

	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	if e.pair.closed {
		return ErrClosed
	}

	if e.rate == bitsPerSec && e.bitsPerChar == bitsPerChar {
		// Same allowance: keep the accumulator, drop its credit.
		e.quota.Reset()
		acc = e.quota
	}
	e.rate = bitsPerSec
	e.bitsPerChar = bitsPerChar
	e.lineParams = params
	e.quota = acc
	e.pair.updateTimerLocked()

	// An unlimited endpoint no longer waits for a tick.
	if !acc.Enabled() && e.scheduled && e.out.Len() > 0 {
		e.pair.exec.Enqueue(e.task)
	}

	e.pair.opts.Logger.Debug("Endpoint rate configured",
		zap.String("pair", e.pair.opts.Label),
		zap.String("side", e.side.String()),
		zap.Int64("bits_per_sec", bitsPerSec),
		zap.Int("bits_per_char", bitsPerChar),
		zap.Int64("credit_per_tick", acc.PerTick()),
		zap.Int64("credit_limit", acc.Limit()))
	return nil
}

// Flush discards queued data, like tcflush.
func (e *Endpoint) Flush(which FlushQueue) error {
	e.pair.mu.Lock()
	if e.pair.closed {
		e.pair.mu.Unlock()
		return ErrClosed
	}

	var writable []func(Event)
	if which&FlushInput != 0 && e.in.Len() > 0 {
		e.in.Reset()
		if e.peer.scheduled {
			e.pair.exec.Enqueue(e.peer.task)
		}
	}
	if which&FlushOutput != 0 && e.out.Len() > 0 {
		e.out.Reset()
		e.scheduled = false
		e.wakeWritableLocked()
		writable = e.handlersLocked()
	}
	e.pair.mu.Unlock()

	emit(writable, Event{Kind: EventWritable, Side: e.side})
	return nil
}

// Stats returns a snapshot of the endpoint.
func (e *Endpoint) Stats() core.EndpointStats {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.statsLocked()
}

func (e *Endpoint) statsLocked() core.EndpointStats {
	stats := core.EndpointStats{
		Side:            e.side.String(),
		PendingOutput:   e.out.Len(),
		PendingInput:    e.in.Len(),
		BufferSize:      e.capacity,
		RateBitsPerSec:  e.rate,
		BitsPerChar:     e.bitsPerChar,
		CreditFixed8:    e.quota.Credit(),
		Carrier:         e.carrier,
		Modem:           e.modemLocked().String(),
		Scheduled:       e.scheduled,
		BytesSent:       e.stats.sent,
		BytesReceived:   e.stats.received,
		DeferredQuota:   e.stats.deferredQuota,
		DeferredSpace:   e.stats.deferredSpace,
		CarrierChanges:  e.stats.carrierChanges,
		TransferInvokes: e.stats.invocations,
	}
	if e.lineParams != nil {
		stats.LineParams = *e.lineParams
	}
	return stats
}

// scheduleLocked queues the transfer task unless a run is already owed.
func (e *Endpoint) scheduleLocked() {
	if e.scheduled {
		return
	}
	e.scheduled = true
	e.pair.exec.Enqueue(e.task)
}

func (e *Endpoint) replenishLocked() {
	if !e.quota.Enabled() {
		return
	}
	e.quota.Replenish()
	if e.quota.Credit() > 0 && e.scheduled {
		e.pair.exec.Enqueue(e.task)
	}
}

func (e *Endpoint) wakeReadableLocked() {
	close(e.readable)
	e.readable = make(chan struct{})
}

func (e *Endpoint) wakeWritableLocked() {
	close(e.writable)
	e.writable = make(chan struct{})
}
