// Package quota tracks fractional byte credit for a rate limited endpoint.
//
// Credit is kept in fixed point with Shift fractional bits. Each tick adds the
// per-tick allowance; the part of the allowance below 1/One byte is carried in
// a remainder so that after N ticks exactly floor(N * allowance) has been
// credited, whatever the configured rate.
package quota

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"
)

const (
	// Shift is the number of fractional bits in a credit value.
	Shift = 8
	// One is a single byte of credit.
	One = 1 << Shift

	// MinBitsPerChar and MaxBitsPerChar bound the character framing.
	MinBitsPerChar = 5
	MaxBitsPerChar = 13

	// maxPerTick keeps burst arithmetic far away from int64 overflow.
	maxPerTick = 1 << 40
)

// ErrInvalidRate reports a rate that cannot be represented in fixed point.
var ErrInvalidRate = errors.New("invalid rate")

// Accumulator is the per-endpoint credit counter. The zero value is a
// disabled accumulator (unlimited rate).
type Accumulator struct {
	perTick int64  // whole 1/One byte units added per tick
	rem     uint64 // fractional numerator added per tick
	den     uint64
	carry   uint64
	credit  int64
	limit   int64
}

// New builds an accumulator for bitsPerSec on the wire, where each character
// costs bitsPerChar bits, replenished every tick. A zero rate yields a
// disabled accumulator.
func New(bitsPerSec int64, bitsPerChar int, tick time.Duration, burstTicks int) (Accumulator, error) {
	if bitsPerSec < 0 {
		return Accumulator{}, fmt.Errorf("%w: negative rate %d", ErrInvalidRate, bitsPerSec)
	}
	if bitsPerSec == 0 {
		return Accumulator{}, nil
	}
	if bitsPerChar < MinBitsPerChar || bitsPerChar > MaxBitsPerChar {
		return Accumulator{}, fmt.Errorf("%w: %d bits per character", ErrInvalidRate, bitsPerChar)
	}
	if tick <= 0 {
		return Accumulator{}, fmt.Errorf("%w: tick must be positive", ErrInvalidRate)
	}
	if burstTicks < 1 {
		burstTicks = 1
	}

	hi, lo := bits.Mul64(uint64(bitsPerSec), uint64(tick))
	if hi != 0 || lo > math.MaxUint64>>Shift {
		return Accumulator{}, fmt.Errorf("%w: %d bit/s overflows the credit range", ErrInvalidRate, bitsPerSec)
	}
	num := lo << Shift
	den := uint64(bitsPerChar) * uint64(time.Second)

	perTick := num / den
	if perTick == 0 {
		return Accumulator{}, fmt.Errorf("%w: %d bit/s is below 1/%d byte per %s", ErrInvalidRate, bitsPerSec, One, tick)
	}
	if perTick > maxPerTick {
		return Accumulator{}, fmt.Errorf("%w: %d bit/s exceeds the credit range", ErrInvalidRate, bitsPerSec)
	}

	return Accumulator{
		perTick: int64(perTick),
		rem:     num % den,
		den:     den,
		limit:   int64(burstTicks)*(int64(perTick)+1) + One,
	}, nil
}

// Enabled reports whether the accumulator limits throughput.
func (a *Accumulator) Enabled() bool {
	return a != nil && a.perTick > 0
}

// Replenish adds one tick of allowance, clamped to the burst limit, and
// returns the amount credited.
func (a *Accumulator) Replenish() int64 {
	if !a.Enabled() {
		return 0
	}
	add := a.perTick
	a.carry += a.rem
	if a.carry >= a.den {
		a.carry -= a.den
		add++
	}
	before := a.credit
	a.credit += add
	if a.credit > a.limit {
		a.credit = a.limit
	}
	return a.credit - before
}

// Allowed returns the whole bytes that may be emitted now.
func (a *Accumulator) Allowed() int {
	if !a.Enabled() {
		return 0
	}
	return int(a.credit >> Shift)
}

// Spend removes n bytes of credit. Credit never drops below zero.
func (a *Accumulator) Spend(n int) {
	if !a.Enabled() || n <= 0 {
		return
	}
	a.credit -= int64(n) << Shift
	if a.credit < 0 {
		a.credit = 0
	}
}

// Credit returns the unspent credit in 1/One byte units.
func (a *Accumulator) Credit() int64 {
	if a == nil {
		return 0
	}
	return a.credit
}

// Reset discards unspent credit and the carried fraction.
func (a *Accumulator) Reset() {
	if a == nil {
		return
	}
	a.credit = 0
	a.carry = 0
}

// PerTick returns the whole part of the per-tick allowance in 1/One byte units.
func (a *Accumulator) PerTick() int64 {
	if a == nil {
		return 0
	}
	return a.perTick
}

// Limit returns the burst cap in 1/One byte units.
func (a *Accumulator) Limit() int64 {
	if a == nil {
		return 0
	}
	return a.limit
}
