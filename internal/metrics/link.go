package metrics

import (
	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/registry"
)

// Link metric names
const (
	BytesTransferredTotal   = "link_bytes_transferred_total"
	TransferDeferredTotal   = "link_transfer_deferred_total"
	CarrierTransitionsTotal = "link_carrier_transitions_total"
	RegistryPairs           = "registry_pairs"
)

// LinkObserver reports pair activity to the global telemetry system.
type LinkObserver struct{}

var _ registry.Observer = LinkObserver{}

// Transferred counts bytes moved out of side.
func (LinkObserver) Transferred(side core.Side, n int) {
	counter(BytesTransferredTotal, float64(n), map[string]string{
		"side": side.String(),
	})
}

// Deferred counts transfer runs that left bytes behind.
func (LinkObserver) Deferred(side core.Side, reason link.DeferReason) {
	counter(TransferDeferredTotal, 1, map[string]string{
		"side":   side.String(),
		"reason": string(reason),
	})
}

// CarrierChanged counts carrier transitions seen by side.
func (LinkObserver) CarrierChanged(side core.Side, up bool) {
	state := "down"
	if up {
		state = "up"
	}
	counter(CarrierTransitionsTotal, 1, map[string]string{
		"side":  side.String(),
		"state": state,
	})
}

// PairsChanged records the number of live pairs.
func (LinkObserver) PairsChanged(count int) {
	gauge(RegistryPairs, float64(count), nil)
}
