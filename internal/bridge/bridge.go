// Package bridge exposes both endpoints of a pair as pseudo-terminals so that
// ordinary serial programs can open them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/link"
)

const (
	DefaultTermiosPoll = 250 * time.Millisecond
	DefaultReadChunk   = 1024
)

// Options configures a Bridge.
type Options struct {
	// TermiosPoll is how often terminal settings are mirrored into the
	// endpoints' line parameters. Zero uses DefaultTermiosPoll; a negative
	// value disables mirroring.
	TermiosPoll time.Duration
	// EmulateSpeed rate limits each endpoint to its pty's baud rate. Without
	// it only the framing is mirrored and transfers are unlimited.
	EmulateSpeed bool
	ReadChunk    int
	Logger       link.Logger
}

// port is one pty attached to one endpoint.
type port struct {
	ep     *link.Endpoint
	master *os.File
	slave  *os.File

	last termState
	seen bool
}

// Bridge pumps bytes between two ptys and the endpoints of a pair.
type Bridge struct {
	opts  Options
	pair  *link.Pair
	ports [2]*port

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Open allocates a pty for each endpoint of pair and starts pumping. Both
// endpoints raise DTR and RTS while the bridge runs.
func Open(pair *link.Pair, opts Options) (*Bridge, error) {
	if opts.TermiosPoll == 0 {
		opts.TermiosPoll = DefaultTermiosPoll
	}
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = DefaultReadChunk
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	b := &Bridge{opts: opts, pair: pair}
	for i, ep := range []*link.Endpoint{pair.A(), pair.B()} {
		p, err := openPort(ep)
		if err != nil {
			b.closeFiles()
			return nil, err
		}
		b.ports[i] = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for _, p := range b.ports {
		if err := p.ep.SetModem(core.SignalOutputs, 0); err != nil {
			cancel()
			b.closeFiles()
			return nil, fmt.Errorf("raise modem lines: %w", err)
		}
		b.wg.Add(2)
		go b.pumpIn(ctx, p)
		go b.pumpOut(ctx, p)
	}
	if opts.TermiosPoll > 0 {
		b.wg.Add(1)
		go b.watchTermios(ctx)
	}

	opts.Logger.Info("Bridge started",
		zap.String("pair", pair.Label()),
		zap.String("a", b.ports[0].slave.Name()),
		zap.String("b", b.ports[1].slave.Name()))
	return b, nil
}

func openPort(ep *link.Endpoint) (*port, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty for side %s: %w", ep.Side(), err)
	}
	if err := makeRaw(slave); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("configure pty %s: %w", slave.Name(), err)
	}
	return &port{ep: ep, master: master, slave: slave}, nil
}

// Path returns the device path an external program opens for side.
func (b *Bridge) Path(side core.Side) string {
	return b.ports[side].slave.Name()
}

// Close stops the pumps, drops the modem lines and releases both ptys. The
// pair itself is left open.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		b.cancel()
		for _, p := range b.ports {
			if err := p.ep.SetModem(0, core.SignalOutputs); err != nil && !errors.Is(err, link.ErrClosed) {
				b.opts.Logger.Warn("Failed to drop modem lines", zap.Error(err))
			}
		}
		b.closeFiles()
		b.wg.Wait()
		b.opts.Logger.Info("Bridge stopped", zap.String("pair", b.pair.Label()))
	})
	return nil
}

func (b *Bridge) closeFiles() {
	for _, p := range b.ports {
		if p == nil {
			continue
		}
		_ = p.master.Close()
		_ = p.slave.Close()
	}
}

// pumpIn copies what the external program writes into the endpoint.
func (b *Bridge) pumpIn(ctx context.Context, p *port) {
	defer b.wg.Done()
	buf := make([]byte, b.opts.ReadChunk)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			if _, werr := p.ep.WriteContext(ctx, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
				b.opts.Logger.Debug("pty read ended", zap.String("path", p.slave.Name()), zap.Error(err))
			}
			return
		}
	}
}

// pumpOut copies the endpoint's input to the external program.
func (b *Bridge) pumpOut(ctx context.Context, p *port) {
	defer b.wg.Done()
	buf := make([]byte, b.opts.ReadChunk)
	for {
		n, err := p.ep.ReadContext(ctx, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				b.opts.Logger.Debug("endpoint read ended", zap.String("path", p.slave.Name()), zap.Error(err))
			}
			return
		}
		if _, err := p.master.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (b *Bridge) watchTermios(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.TermiosPoll)
	defer ticker.Stop()

	b.syncTermios()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.syncTermios()
		}
	}
}

// syncTermios applies the pty settings to the endpoints. An endpoint sends at
// the slower of its own output speed and its peer's input speed.
func (b *Bridge) syncTermios() {
	var states [2]termState
	for i, p := range b.ports {
		st, err := readTermios(p.slave)
		if err != nil {
			if !errors.Is(err, errUnsupported) {
				b.opts.Logger.Debug("termios read failed", zap.String("path", p.slave.Name()), zap.Error(err))
			}
			return
		}
		states[i] = st
	}

	for i, p := range b.ports {
		st := states[i]
		if b.opts.EmulateSpeed {
			st.Params.Baud = slower(st.OutSpeed, states[1-i].InSpeed)
		}
		if p.seen && st == p.last {
			continue
		}
		hungUp := p.seen && st.OutSpeed == 0 && p.last.OutSpeed != 0
		resumed := p.seen && st.OutSpeed != 0 && p.last.OutSpeed == 0
		p.last, p.seen = st, true

		if err := p.ep.SetLineParams(st.Params); err != nil {
			b.opts.Logger.Warn("Rejected line parameters",
				zap.String("path", p.slave.Name()),
				zap.String("params", st.Params.String()),
				zap.Error(err))
			continue
		}
		b.opts.Logger.Debug("Line parameters mirrored",
			zap.String("path", p.slave.Name()),
			zap.String("params", st.Params.String()))

		// Speed B0 is a hangup request.
		switch {
		case hungUp:
			_ = p.ep.SetCarrier(false)
		case resumed:
			_ = p.ep.SetCarrier(true)
		}
	}
}

func slower(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}

// termState is the part of a pty's termios that affects the endpoint.
type termState struct {
	Params   core.LineParams
	OutSpeed int64
	InSpeed  int64
}
