// Package replication implements spec §4.D: the attached-replica
// registry, master write fan-out with per-replica acknowledgment
// tracking, and the WAIT barrier.
package replication

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dstainton11/kvnode/internal/queue"
	"github.com/dstainton11/kvnode/internal/respval"
)

// maxSendFailures is the number of consecutive failed fan-out sends
// after which a replica whose outbound channel is saturated is evicted.
const maxSendFailures = 2

// Outbound is the per-connection send side an attached replica
// fans writes out through; satisfied by a connection's outbound queue.
type Outbound interface {
	TrySend(v interface{}) error
}

type replicaEntry struct {
	id                  string
	outbound            Outbound
	ackOffset           uint64
	consecutiveFailures int
	listeningPort       string
}

// Info is a snapshot of one attached replica's bookkeeping, for
// INFO-output reporting (SPEC_FULL.md §3's supplemented per-replica
// table; the original source reports `connected_slaves`-style state
// that spec.md's three-line INFO body leaves room for).
type Info struct {
	ConnID        string
	AckOffset     uint64
	ListeningPort string
}

// Registry is the replica mapping from spec §3: connection-id to
// acknowledged-offset. An entry is created on successful PSYNC, updated
// on REPLCONF ACK, removed on disconnect or after repeated send failure.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*replicaEntry
	pendingPorts map[string]string // connID -> announced listening-port, before PSYNC attaches
	log          *log.Logger
}

// NewRegistry returns an empty replica registry.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{entries: make(map[string]*replicaEntry), log: logger}
}

// Attach registers connID as an attached replica with acknowledged-offset
// zero, per spec §4.C's PSYNC handling.
func (r *Registry) Attach(connID string, out Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &replicaEntry{id: connID, outbound: out}
	if port, ok := r.pendingPorts[connID]; ok {
		e.listeningPort = port
		delete(r.pendingPorts, connID)
	}
	r.entries[connID] = e
	r.log.Infof("replica attached: %s (total %d)", connID, len(r.entries))
}

// Detach removes connID from the registry, on disconnect or eviction.
func (r *Registry) Detach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[connID]; ok {
		delete(r.entries, connID)
		r.log.Infof("replica detached: %s (total %d)", connID, len(r.entries))
	}
}

// UpdateAck records connID's acknowledged offset from a REPLCONF ACK.
func (r *Registry) UpdateAck(connID string, offset uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[connID]; ok {
		e.ackOffset = offset
	}
}

// SetListeningPort records the port a replica announced via REPLCONF
// listening-port (spec §4.C), for later INFO reporting. If connID is
// already attached the entry is updated in place. Otherwise (the usual
// case, since the announcement arrives before PSYNC in the handshake:
// spec §4.E's S2 precedes S4) the port is held in a pending slot, and
// Attach folds it in if present.
func (r *Registry) SetListeningPort(connID, port string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[connID]; ok {
		e.listeningPort = port
		return
	}
	if r.pendingPorts == nil {
		r.pendingPorts = make(map[string]string)
	}
	r.pendingPorts[connID] = port
}

// Snapshot returns the current per-replica bookkeeping, for INFO
// reporting. Order is unspecified.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{ConnID: e.id, AckOffset: e.ackOffset, ListeningPort: e.listeningPort})
	}
	return out
}

// Count returns the number of currently attached replicas.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountAcked returns the number of attached replicas whose acknowledged
// offset is >= target, the quantity WAIT(n, t) resolves on.
func (r *Registry) CountAcked(target uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.ackOffset >= target {
			n++
		}
	}
	return n
}

// Fanout posts v to every attached replica's outbound queue. Advancing
// master-repl-offset is the caller's responsibility (the Registry only
// knows about sends, not the global offset counter it's paired with in
// internal/engine). A failed send is not retried: v is dropped for that
// replica, and a replica whose sends fail maxSendFailures times in a row
// is evicted; no goroutine ever blocks on a slow or wedged replica.
func (r *Registry) Fanout(v respval.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if err := e.outbound.TrySend(v); err != nil {
			e.consecutiveFailures++
			r.log.Warnf("replica %s send failed (%d/%d): %v", id, e.consecutiveFailures, maxSendFailures, err)
			if e.consecutiveFailures >= maxSendFailures {
				delete(r.entries, id)
				r.log.Warnf("replica %s evicted after %d consecutive send failures", id, e.consecutiveFailures)
			}
		} else {
			e.consecutiveFailures = 0
		}
	}
}

// ProdGetAck sends "REPLCONF GETACK *" to every attached replica,
// prompting a fresh ACK. Spec §4.D / §9 wire this only from WAIT, never
// from a standalone timer.
func (r *Registry) ProdGetAck() {
	cmd := respval.BulkStringArray([]byte("REPLCONF"), []byte("GETACK"), []byte("*"))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.entries {
		if err := e.outbound.TrySend(cmd); err != nil {
			r.log.Debugf("GETACK prod to %s dropped: %v", id, err)
		}
	}
}

// Forget detaches a connection without counting it as an error (ordinary
// disconnect path); equivalent to Detach, kept as a distinct name so call
// sites read clearly at the connection-lifecycle level.
func (r *Registry) Forget(connID string) {
	r.Detach(connID)
}

var _ Outbound = (*queue.Bounded)(nil)
