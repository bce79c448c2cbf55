// Package link implements a null modem: two endpoints cross-wired so that
// the output of one becomes the input of the other.
//
// A Pair owns both endpoints, a single mutex covering all of their state and
// a shared periodic timer. Writes only append to the writer's pending output
// and schedule the endpoint's transfer task; the task runs on a taskq.Queue,
// never on the writer's stack, and moves as many bytes as the destination's
// free space and the source's rate quota allow.
//
// Rates are emulated with a quota.Accumulator per endpoint, replenished on
// every tick of the pair's timer. The timer only runs while at least one
// endpoint has a non-zero rate.
//
// Raising DTR on one endpoint asserts carrier (DCD) on its peer; RTS drives
// the peer's CTS. Carrier transitions are delivered to the peer's event
// handlers before SetCarrier returns.
package link
