// Package intent decides whether asynchronous map query results are still
// applicable to the current viewport state. Queries are dispatched faster
// than they resolve (panning, filtering, cluster drill-down all racing), so
// every result is tagged with the intent and sequence number current at
// dispatch time and checked again at resolution time.
package intent

import (
	"sync"

	"github.com/yardmap/server/internal/tile"
)

// Kind names the user/system action that triggered a map query.
type Kind string

const (
	// Filters means the user changed search filters.
	Filters Kind = "filters"
	// UserPan means the user dragged or zoomed the map.
	UserPan Kind = "user_pan"
	// ClusterDrilldown means the user clicked a cluster marker.
	ClusterDrilldown Kind = "cluster_drilldown"
)

// Intent is the action tag carried by a dispatched query. Drilldown intents
// carry the bounds the map is animating toward.
type Intent struct {
	Kind         Kind         `json:"kind"`
	TargetBounds *tile.Bounds `json:"target_bounds,omitempty"`
}

// Compatible reports whether a result tagged with resultKind may still be
// applied while current is the active intent.
//
// A filter result only survives while the user remains in a filtering
// context; any pan or drilldown has moved the viewport on. Pan and drilldown
// results stay valid across further spatial exploration because those
// supersede each other by sequence number, not by intent mismatch. Unknown
// combinations reject: discarding a possibly-valid result is preferred over
// applying a possibly-stale one.
func Compatible(resultKind Kind, current Intent) bool {
	switch resultKind {
	case Filters:
		return current.Kind == Filters
	case UserPan, ClusterDrilldown:
		return current.Kind == UserPan || current.Kind == ClusterDrilldown
	default:
		return false
	}
}

// Ticket tags a dispatched query with the intent kind and sequence number
// current at dispatch time.
type Ticket struct {
	Kind Kind   `json:"kind"`
	Seq  uint64 `json:"seq"`
}

// Coordinator owns the current intent and sequence number for one map
// session. Dispatch must happen before its query can resolve; the sequence
// counter is advanced synchronously there. Results resolve on arbitrary
// goroutines in this server, so the state is mutex-guarded.
type Coordinator struct {
	mu      sync.Mutex
	current Intent
	seq     uint64
}

// NewCoordinator returns a coordinator in the cold-load state: a user pan
// with sequence zero, so nothing dispatched earlier can be admitted.
func NewCoordinator() *Coordinator {
	return &Coordinator{current: Intent{Kind: UserPan}}
}

// Dispatch records a new triggering action, advances the sequence number and
// returns the ticket its query must carry.
func (c *Coordinator) Dispatch(in Intent) Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = in
	c.seq++
	return Ticket{Kind: in.Kind, Seq: c.seq}
}

// Admit reports whether a resolved query result carrying the ticket may be
// applied. The sequence check is strict equality: a ticket behind or ahead
// of the current counter is stale either way. Intent compatibility is the
// coarse admission filter on top. Never errors; the caller silently
// discards inadmissible results.
func (c *Coordinator) Admit(t Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Seq != c.seq {
		return false
	}
	return Compatible(t.Kind, c.current)
}

// Current returns the active intent and sequence number.
func (c *Coordinator) Current() (Intent, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.seq
}
