// Package registry keeps the set of live null-modem pairs, addressed by unit
// number, and the policies that apply to all of them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/taskq"
)

var (
	ErrInvalidName = errors.New("invalid port name")
	ErrNotFound    = errors.New("pair not found")
	ErrExists      = errors.New("pair already exists")
	// ErrResourceExhausted reports that the pair limit has been reached.
	ErrResourceExhausted = errors.New("pair limit reached")
	// ErrBusy reports that Shutdown was refused while pairs exist.
	ErrBusy     = errors.New("pairs still exist")
	ErrShutdown = errors.New("registry shut down")
)

// Observer extends link.Observer with the live pair count.
type Observer interface {
	link.Observer
	PairsChanged(count int)
}

// Options configures a Registry.
type Options struct {
	// MaxPairs bounds the number of live pairs. Zero means no limit.
	MaxPairs int
	// CloneOnOpen creates a pair the first time one of its ports is opened.
	CloneOnOpen bool
	// DiscardOnHangup flushes an endpoint's input when its carrier drops.
	DiscardOnHangup bool
	// DefaultRate is applied to both endpoints of every new pair.
	DefaultRate int64
	// Workers runs transfer tasks for all pairs. Zero selects manual mode,
	// see taskq.Queue.RunPending.
	Workers int
	// Link is the template for every pair. Its Executor, Label and Observer
	// are set by the registry.
	Link     link.Options
	Logger   link.Logger
	Observer Observer
}

// Entry is one registered pair.
type Entry struct {
	Unit      uint64
	ID        uuid.UUID
	CreatedAt time.Time
	Pair      *link.Pair

	unhook []func()
}

// Name returns the port name of side.
func (e *Entry) Name(side core.Side) string {
	return Name(e.Unit, side)
}

// Stats returns the pair snapshot labelled with the entry's identity.
func (e *Entry) Stats() core.PairStats {
	stats := e.Pair.Stats()
	stats.Unit = e.Unit
	stats.ID = e.ID.String()
	stats.CreatedAt = e.CreatedAt.UTC().Format(time.RFC3339)
	for _, side := range []core.Side{core.SideA, core.SideB} {
		ep := &stats.A
		if side == core.SideB {
			ep = &stats.B
		}
		ep.Name = e.Name(side)
		ep.Peer = e.Name(side.Other())
	}
	return stats
}

// Registry owns every pair and the executor their transfers run on.
type Registry struct {
	opts Options
	exec *taskq.Queue

	mu     sync.Mutex
	pairs  map[uint64]*Entry
	closed bool
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers < 0 {
		opts.Workers = 1
	}
	return &Registry{
		opts:  opts,
		exec:  taskq.New(opts.Workers),
		pairs: make(map[uint64]*Entry),
	}
}

// Executor returns the queue transfer tasks run on.
func (r *Registry) Executor() *taskq.Queue { return r.exec }

// Create registers a new pair under unit.
func (r *Registry) Create(unit uint64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(unit)
}

// CreateNext registers a pair under the lowest free unit.
func (r *Registry) CreateNext() (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var unit uint64
	for {
		if _, ok := r.pairs[unit]; !ok {
			break
		}
		unit++
	}
	return r.createLocked(unit)
}

func (r *Registry) createLocked(unit uint64) (*Entry, error) {
	if r.closed {
		return nil, ErrShutdown
	}
	if _, ok := r.pairs[unit]; ok {
		return nil, fmt.Errorf("%w: unit %d", ErrExists, unit)
	}
	if r.opts.MaxPairs > 0 && len(r.pairs) >= r.opts.MaxPairs {
		return nil, fmt.Errorf("%w: %d pairs", ErrResourceExhausted, r.opts.MaxPairs)
	}

	lopts := r.opts.Link
	lopts.Executor = r.exec
	lopts.Label = fmt.Sprintf("%s%d", Prefix, unit)
	if lopts.Logger == nil {
		lopts.Logger = r.opts.Logger
	}
	if r.opts.Observer != nil {
		lopts.Observer = r.opts.Observer
	}

	entry := &Entry{
		Unit:      unit,
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		Pair:      link.NewPair(lopts),
	}
	if r.opts.DefaultRate > 0 {
		for _, ep := range []*link.Endpoint{entry.Pair.A(), entry.Pair.B()} {
			if err := ep.SetRate(r.opts.DefaultRate); err != nil {
				_ = entry.Pair.Close(true)
				return nil, err
			}
		}
	}
	if r.opts.DiscardOnHangup {
		for _, ep := range []*link.Endpoint{entry.Pair.A(), entry.Pair.B()} {
			entry.unhook = append(entry.unhook, ep.OnEvent(discardOnHangup(ep)))
		}
	}

	r.pairs[unit] = entry
	r.opts.Logger.Info("Pair registered",
		zap.Uint64("unit", unit),
		zap.String("id", entry.ID.String()),
		zap.Int("pairs", len(r.pairs)))
	r.countChangedLocked()
	return entry, nil
}

func discardOnHangup(ep *link.Endpoint) func(link.Event) {
	return func(ev link.Event) {
		if ev.Kind == link.EventCarrierDown {
			_ = ep.Flush(link.FlushInput)
		}
	}
}

// Open resolves a port name to its endpoint. With CloneOnOpen the pair is
// created on first use.
func (r *Registry) Open(name string) (*link.Endpoint, error) {
	unit, side, err := ParseName(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pairs[unit]
	if !ok {
		if !r.opts.CloneOnOpen {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		entry, err = r.createLocked(unit)
		if err != nil {
			return nil, err
		}
	}
	return entry.Pair.Endpoint(side), nil
}

// Get returns the entry for unit.
func (r *Registry) Get(unit uint64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pairs[unit]
	if !ok {
		return nil, fmt.Errorf("%w: unit %d", ErrNotFound, unit)
	}
	return entry, nil
}

// List returns all entries ordered by unit.
func (r *Registry) List() []*Entry {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.pairs))
	for _, entry := range r.pairs {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Unit < entries[j].Unit })
	return entries
}

// Count returns the number of live pairs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// Destroy closes and unregisters the pair under unit. Without force it fails
// with link.ErrPairBusy while the pair holds data.
func (r *Registry) Destroy(unit uint64, force bool) error {
	entry, err := r.Get(unit)
	if err != nil {
		return err
	}
	if err := entry.Pair.Close(force); err != nil {
		return fmt.Errorf("destroy %s%d: %w", Prefix, unit, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pairs[unit] == entry {
		delete(r.pairs, unit)
		r.countChangedLocked()
	}
	for _, cancel := range entry.unhook {
		cancel()
	}
	r.opts.Logger.Info("Pair destroyed",
		zap.Uint64("unit", unit),
		zap.Bool("force", force),
		zap.Int("pairs", len(r.pairs)))
	return nil
}

// Shutdown destroys every pair and stops the executor. Without force it is
// refused with ErrBusy while any pair exists.
func (r *Registry) Shutdown(force bool) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if !force && len(r.pairs) > 0 {
		n := len(r.pairs)
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBusy, n)
	}
	r.closed = true
	entries := make([]*Entry, 0, len(r.pairs))
	for _, entry := range r.pairs {
		entries = append(entries, entry)
	}
	r.pairs = make(map[uint64]*Entry)
	r.countChangedLocked()
	r.mu.Unlock()

	for _, entry := range entries {
		_ = entry.Pair.Close(true)
	}
	r.exec.Close()

	r.opts.Logger.Info("Registry shut down", zap.Int("destroyed", len(entries)))
	return nil
}

// CheckHealth fails once the registry has been shut down, and reports the
// pair limit as reached.
func (r *Registry) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if r.opts.MaxPairs > 0 && len(r.pairs) >= r.opts.MaxPairs {
		return fmt.Errorf("%w: %d", ErrResourceExhausted, r.opts.MaxPairs)
	}
	return nil
}

func (r *Registry) countChangedLocked() {
	if r.opts.Observer != nil {
		r.opts.Observer.PairsChanged(len(r.pairs))
	}
}
