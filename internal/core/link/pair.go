package link

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/taskq"
)

// Pair is two endpoints wired back to back. All endpoint state is guarded by
// the pair's mutex.
type Pair struct {
	mu sync.Mutex
	// notifyMu orders modem event delivery with modem state changes.
	notifyMu sync.Mutex

	a, b Endpoint

	opts    Options
	exec    *taskq.Queue
	ownExec bool

	tickGen  uint64
	tickStop chan struct{}
	tickDone chan struct{}

	closed bool
	done   chan struct{}
}

// NewPair creates both endpoints and cross-wires them.
func NewPair(opts Options) *Pair {
	opts = opts.withDefaults()
	p := &Pair{
		opts: opts,
		exec: opts.Executor,
		done: make(chan struct{}),
	}
	if p.exec == nil {
		p.exec = taskq.New(1)
		p.ownExec = true
	}
	p.a.init(p, core.SideA, &p.b)
	p.b.init(p, core.SideB, &p.a)

	opts.Logger.Debug("Pair created",
		zap.String("pair", opts.Label),
		zap.Int("buffer_size", opts.BufferSize),
		zap.Duration("tick", opts.Tick))
	return p
}

// A returns the first endpoint.
func (p *Pair) A() *Endpoint { return &p.a }

// B returns the second endpoint.
func (p *Pair) B() *Endpoint { return &p.b }

// Endpoint returns the endpoint for side.
func (p *Pair) Endpoint(side core.Side) *Endpoint {
	if side == core.SideB {
		return &p.b
	}
	return &p.a
}

// TickInterval returns the quota replenishment interval.
func (p *Pair) TickInterval() time.Duration { return p.opts.Tick }

// Label returns the name used for the pair in logs.
func (p *Pair) Label() string { return p.opts.Label }

// Done is closed once the pair has been torn down.
func (p *Pair) Done() <-chan struct{} { return p.done }

// HasPendingInput reports whether either endpoint holds unread input.
func (p *Pair) HasPendingInput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.a.in.Len() > 0 || p.b.in.Len() > 0
}

// HasPendingOutput reports whether either endpoint holds untransferred output.
func (p *Pair) HasPendingOutput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.a.out.Len() > 0 || p.b.out.Len() > 0
}

// Closed reports whether the pair has been torn down.
func (p *Pair) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close tears the pair down. Without force it fails with ErrPairBusy while
// either endpoint holds unread input or unsent output. Teardown stops the
// timer, waits for in-flight transfers, discards queued data and wakes every
// blocked reader and writer. Close must not be called from an event handler.
func (p *Pair) Close(force bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if !force && (p.a.in.Len() > 0 || p.b.in.Len() > 0 || p.a.out.Len() > 0 || p.b.out.Len() > 0) {
		p.mu.Unlock()
		return ErrPairBusy
	}
	p.closed = true
	done := p.stopTimerLocked()
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	p.exec.Cancel(p.a.task)
	p.exec.Cancel(p.b.task)

	p.mu.Lock()
	discarded := p.a.in.Len() + p.a.out.Len() + p.b.in.Len() + p.b.out.Len()
	for _, e := range []*Endpoint{&p.a, &p.b} {
		e.in.Reset()
		e.out.Reset()
		e.scheduled = false
		e.wakeReadableLocked()
		e.wakeWritableLocked()
	}
	close(p.done)
	ha, hb := p.a.handlersLocked(), p.b.handlersLocked()
	p.mu.Unlock()

	if p.ownExec {
		p.exec.Close()
	}

	emit(ha, Event{Kind: EventClosed, Side: core.SideA})
	emit(hb, Event{Kind: EventClosed, Side: core.SideB})

	p.opts.Logger.Debug("Pair closed",
		zap.String("pair", p.opts.Label),
		zap.Bool("force", force),
		zap.Int("discarded_bytes", discarded))
	return nil
}

// Tick advances both quota accumulators by one interval, exactly as the
// periodic timer does. It is meant for callers that drive time themselves
// with ManualTicks.
func (p *Pair) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickLocked()
}

// TimerLive reports whether the periodic timer is running.
func (p *Pair) TimerLive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickStop != nil
}

// Stats returns a snapshot of both endpoints.
func (p *Pair) Stats() core.PairStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return core.PairStats{
		Closed:    p.closed,
		TimerLive: p.tickStop != nil,
		A:         p.a.statsLocked(),
		B:         p.b.statsLocked(),
	}
}

func (p *Pair) tickLocked() {
	if p.closed {
		return
	}
	p.a.replenishLocked()
	p.b.replenishLocked()
}

// updateTimerLocked starts the timer when an endpoint is rate limited and
// stops it when neither is.
func (p *Pair) updateTimerLocked() {
	need := !p.closed && (p.a.quota.Enabled() || p.b.quota.Enabled())
	switch {
	case need && p.tickStop == nil:
		p.tickGen++
		stop := make(chan struct{})
		done := make(chan struct{})
		p.tickStop, p.tickDone = stop, done
		go p.runTimer(p.opts.NewTicker(p.opts.Tick), p.tickGen, stop, done)
		p.opts.Logger.Debug("Rate timer started", zap.String("pair", p.opts.Label))
	case !need && p.tickStop != nil:
		p.stopTimerLocked()
		p.opts.Logger.Debug("Rate timer stopped", zap.String("pair", p.opts.Label))
	}
}

// stopTimerLocked signals the timer goroutine and returns a channel closed
// when it has exited. The caller must not wait on it while holding p.mu.
func (p *Pair) stopTimerLocked() chan struct{} {
	if p.tickStop == nil {
		return nil
	}
	close(p.tickStop)
	p.tickGen++
	done := p.tickDone
	p.tickStop, p.tickDone = nil, nil
	return done
}

func (p *Pair) runTimer(t Ticker, gen uint64, stop, done chan struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			p.mu.Lock()
			if gen == p.tickGen {
				p.tickLocked()
			}
			p.mu.Unlock()
		}
	}
}
