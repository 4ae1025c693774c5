package telemetry

import (
	"sync"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

// DefaultLiveRoutes are the consumer routes that receive live emissions.
var DefaultLiveRoutes = []string{"overview", "monitor", "dashboard", "export"}

// Consumer receives batched snapshot deliveries.
//
// Implementations own the slice they are handed. A panicking consumer is
// recovered and logged; other consumers and later emissions are unaffected.
type Consumer interface {
	OnSnapshotsAvailable(route string, snapshots []meter.Snapshot)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(route string, snapshots []meter.Snapshot)

// OnSnapshotsAvailable implements Consumer.
func (f ConsumerFunc) OnSnapshotsAvailable(route string, snapshots []meter.Snapshot) {
	f(route, snapshots)
}

// Registration is the handle returned by Synchronizer.Register.
type Registration struct {
	sync     *Synchronizer
	id       uint64
	route    string
	live     bool
	consumer Consumer
	once     sync.Once
}

// Route returns the route the consumer registered on.
func (r *Registration) Route() string {
	return r.route
}

// Live reports whether the route receives emissions.
func (r *Registration) Live() bool {
	return r.live
}

// Unregister removes the consumer. It is safe to call more than once and
// from inside the consumer's own callback.
func (r *Registration) Unregister() {
	r.once.Do(func() {
		r.sync.unregister(r)
	})
}

func cloneSnapshots(in []meter.Snapshot) []meter.Snapshot {
	out := make([]meter.Snapshot, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
