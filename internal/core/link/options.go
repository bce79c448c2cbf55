package link

import (
	"time"

	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/taskq"
)

const (
	// DefaultBufferSize is the capacity of each input and output queue.
	DefaultBufferSize = 4096
	// DefaultTick is the quota replenishment interval (hz=100).
	DefaultTick = 10 * time.Millisecond
	// DefaultBurstTicks bounds idle credit to this many ticks of allowance.
	DefaultBurstTicks = 2
	// BitsPerByte is the character cost used by SetRate.
	BitsPerByte = 8
)

// Logger is the structured logging surface used by the pair.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// DeferReason explains why a transfer left bytes behind.
type DeferReason string

const (
	DeferQuota DeferReason = "quota"
	DeferSpace DeferReason = "space"
)

// Observer receives transfer and signal accounting. Calls are made without
// the pair lock held.
type Observer interface {
	Transferred(side core.Side, n int)
	Deferred(side core.Side, reason DeferReason)
	CarrierChanged(side core.Side, up bool)
}

type nopObserver struct{}

func (nopObserver) Transferred(core.Side, int)      {}
func (nopObserver) Deferred(core.Side, DeferReason) {}
func (nopObserver) CarrierChanged(core.Side, bool)  {}

// Ticker is a periodic event source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type manualTicker struct{}

func (manualTicker) C() <-chan time.Time { return nil }
func (manualTicker) Stop()               {}

// ManualTicks returns a Ticker that never fires, for callers that advance
// time themselves with Pair.Tick.
func ManualTicks(time.Duration) Ticker {
	return manualTicker{}
}

// Options configures a Pair.
type Options struct {
	// BufferSize is the capacity of every input and output queue.
	BufferSize int
	// Tick is the quota replenishment interval.
	Tick time.Duration
	// BurstTicks bounds accumulated credit.
	BurstTicks int
	// Executor runs transfer tasks. When nil the pair owns a single-worker
	// queue and closes it on teardown.
	Executor *taskq.Queue
	// NewTicker creates the periodic timer. Defaults to NewTimeTicker.
	NewTicker func(time.Duration) Ticker
	Logger    Logger
	Observer  Observer
	// Label names the pair in log output.
	Label string
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.BurstTicks <= 0 {
		o.BurstTicks = DefaultBurstTicks
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTimeTicker
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Label == "" {
		o.Label = "nmdm"
	}
	return o
}
