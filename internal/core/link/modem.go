package link

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/core"
)

// EventKind identifies a wake notification.
type EventKind int

const (
	EventReadable EventKind = iota + 1
	EventWritable
	EventCarrierUp
	EventCarrierDown
	EventModem
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventReadable:
		return "readable"
	case EventWritable:
		return "writable"
	case EventCarrierUp:
		return "carrier_up"
	case EventCarrierDown:
		return "carrier_down"
	case EventModem:
		return "modem"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to handlers registered with OnEvent.
type Event struct {
	Kind  EventKind
	Side  core.Side
	Modem core.Signal
}

// OnEvent registers fn for notifications on this endpoint and returns a
// function that removes it. Handlers run without the pair lock held but must
// not close the pair or change modem lines of the same pair.
func (e *Endpoint) OnEvent(fn func(Event)) (cancel func()) {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()

	e.nextHandler++
	id := e.nextHandler
	e.handlers[id] = fn
	return func() {
		e.pair.mu.Lock()
		defer e.pair.mu.Unlock()
		delete(e.handlers, id)
	}
}

// SetCarrier raises or drops DTR, which the peer sees as carrier detect.
func (e *Endpoint) SetCarrier(asserted bool) error {
	if asserted {
		return e.SetModem(core.SignalDTR, 0)
	}
	return e.SetModem(0, core.SignalDTR)
}

// Carrier reports whether the peer currently asserts carrier.
func (e *Endpoint) Carrier() bool {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.carrier
}

// SetModem raises the output lines in on and drops those in off. DTR drives
// the peer's DCD and DSR, RTS drives the peer's CTS. The peer's handlers see
// every resulting transition before SetModem returns.
func (e *Endpoint) SetModem(on, off core.Signal) error {
	if (on|off)&^core.SignalOutputs != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSignal, (on|off)&^core.SignalOutputs)
	}

	p := e.pair
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}

	peer := e.peer
	before := peer.modemLocked()
	e.outputs = (e.outputs | on) &^ off
	propagateLocked(e, peer)
	after := peer.modemLocked()

	var events []Event
	if changed := before ^ after; changed != 0 {
		if changed&core.SignalDCD != 0 {
			kind := EventCarrierDown
			if peer.carrier {
				kind = EventCarrierUp
			}
			peer.stats.carrierChanges++
			events = append(events, Event{Kind: kind, Side: peer.side, Modem: after})
		}
		if changed&^(core.SignalDCD|core.SignalDSR) != 0 {
			events = append(events, Event{Kind: EventModem, Side: peer.side, Modem: after})
		}
	}
	handlers := peer.handlersLocked()
	p.mu.Unlock()

	for _, ev := range events {
		if ev.Kind == EventCarrierUp || ev.Kind == EventCarrierDown {
			p.opts.Observer.CarrierChanged(peer.side, ev.Kind == EventCarrierUp)
			p.opts.Logger.Debug("Carrier changed",
				zap.String("pair", p.opts.Label),
				zap.String("side", peer.side.String()),
				zap.Bool("carrier", ev.Kind == EventCarrierUp))
		}
		emit(handlers, ev)
	}
	return nil
}

// Modem returns the endpoint's own output lines together with the input
// lines driven by its peer.
func (e *Endpoint) Modem() core.Signal {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.modemLocked()
}

// propagateLocked mirrors src's output lines onto dst's inputs.
func propagateLocked(src, dst *Endpoint) {
	dst.carrier = src.outputs&core.SignalDTR != 0
}

func (e *Endpoint) modemLocked() core.Signal {
	s := e.outputs
	if e.carrier {
		s |= core.SignalDCD | core.SignalDSR
	}
	if e.peer.outputs&core.SignalRTS != 0 {
		s |= core.SignalCTS
	}
	return s
}

func (e *Endpoint) handlersLocked() []func(Event) {
	if len(e.handlers) == 0 {
		return nil
	}
	out := make([]func(Event), 0, len(e.handlers))
	for _, fn := range e.handlers {
		out = append(out, fn)
	}
	return out
}

func emit(handlers []func(Event), ev Event) {
	for _, fn := range handlers {
		fn(ev)
	}
}
