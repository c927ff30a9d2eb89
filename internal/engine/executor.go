// Package engine implements spec §4.C: the single logical consumer of
// the global command queue. It owns the store, the replica registry,
// and the replication-offset counter; every client and replica
// interacts with these only through WorkerMessage submission.
package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/dstainton11/kvnode/internal/command"
	"github.com/dstainton11/kvnode/internal/queue"
	"github.com/dstainton11/kvnode/internal/replication"
	"github.com/dstainton11/kvnode/internal/respval"
	"github.com/dstainton11/kvnode/internal/store"
	"github.com/dstainton11/kvnode/internal/worker"
)

// Role is which side of the replication relationship this process plays.
type Role uint8

const (
	RoleMaster Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RoleReplica {
		return "slave"
	}
	return "master"
}

// MasterUplinkConnID is the synthetic connection-id a replica's
// internal/replicaclient submits WorkerMessages under, so the executor
// can tell a master-originated apply (no response, no fan-out, spec
// §4.C) apart from an ordinary client SET.
const MasterUplinkConnID = "master-uplink"

// Responder is a handle to a connection's outbound channel, carried in
// a WorkerMessage when a reply is required (spec §9's "Responder"
// glossary entry). It is satisfied by a connection's outbound queue,
// and by replication.Registry's Outbound so the same handle can be
// attached as a replica's fan-out target on PSYNC.
type Responder = replication.Outbound

// WorkerMessage is what a connection's reader/dispatcher posts onto the
// executor queue (spec §4.B): a parsed command, the originating
// connection-id, an optional responder, and (for master-uplink frames
// only) the processed-offset before this frame.
type WorkerMessage struct {
	Command   command.Command
	ConnID    string
	Responder Responder
	Offset    uint64
}

// Executor is the single writer to the store and the sole mutator of
// the replication offset and replica registry (spec §9's
// "single-writer invariant").
type Executor struct {
	role     Role
	replID   string
	store    *store.Store
	registry *replication.Registry
	queue    *queue.Bounded
	log      *log.Logger

	masterReplOffset uint64 // atomic; spec §3 "master-repl-offset"

	conns sync.Map // connID -> Responder, for connection-liveness checks (spec §9 cyclic ownership)

	configValues map[string]string // static CONFIG GET answers; see DESIGN.md's open question decisions

	snapshotBlob []byte

	metrics Metrics // optional; nil disables instrumentation
}

// Metrics is the subset of internal/metrics.Metrics the executor
// reports against, kept as a small interface so this package does not
// need to import internal/metrics directly.
type Metrics interface {
	ObserveCommand(name string)
	SetReplicaCount(n int)
	SetMasterReplOffset(n uint64)
	SetExecutorQueueDepth(n int)
}

// Config holds the values New needs beyond the store and
// registry it is handed.
type Config struct {
	Role         Role
	ReplID       string
	SnapshotBlob []byte
	ConfigValues map[string]string
	Metrics      Metrics
}

// New constructs an Executor. st and reg are owned by the returned
// Executor from this point on; no other component may mutate them.
func New(cfg Config, st *store.Store, reg *replication.Registry, logger *log.Logger) *Executor {
	return &Executor{
		role:         cfg.Role,
		replID:       cfg.ReplID,
		store:        st,
		registry:     reg,
		queue:        queue.New(queue.DefaultCapacity),
		log:          logger,
		configValues: cfg.ConfigValues,
		snapshotBlob: cfg.SnapshotBlob,
		metrics:      cfg.Metrics,
	}
}

// Submit enqueues msg onto the global executor queue, blocking while the
// queue is full (spec §5's intended backpressure). haltCh lets a caller
// abandon the send on shutdown.
func (e *Executor) Submit(msg WorkerMessage, haltCh <-chan struct{}) error {
	return e.queue.Send(msg, haltCh)
}

// RegisterConn records connID's outbound responder so later WAIT calls
// (and the replica registry) can tell whether the connection is still
// live. internal/netsrv calls this for every accepted connection, client
// or replica alike; the replica-side master uplink is not registered.
func (e *Executor) RegisterConn(connID string, r Responder) {
	e.conns.Store(connID, r)
}

// UnregisterConn removes connID from both the connection-liveness map
// and the replica registry, on disconnect (spec §3's Connection
// lifecycle: "destroyed when ... both siblings have been signaled and
// joined").
func (e *Executor) UnregisterConn(connID string) {
	e.conns.Delete(connID)
	e.registry.Detach(connID)
}

// ConnLive reports whether connID is still registered.
func (e *Executor) ConnLive(connID string) bool {
	_, ok := e.conns.Load(connID)
	return ok
}

// MasterReplOffset returns the current replication offset, for INFO and
// metrics reporting.
func (e *Executor) MasterReplOffset() uint64 {
	return atomic.LoadUint64(&e.masterReplOffset)
}

// ReplID returns the process-lifetime replication identifier.
func (e *Executor) ReplID() string {
	return e.replID
}

// Run spawns the executor's dispatch loop on w. It is the "one global
// executor task" of spec §5.
func (e *Executor) Run(w *worker.Worker) {
	w.Go(func() {
		defer w.Done()
		for {
			v, ok := e.queue.Receive(w.HaltCh())
			if !ok {
				return
			}
			msg, ok := v.(WorkerMessage)
			if !ok {
				continue
			}
			e.dispatch(w, msg)
			e.reportMetrics()
			// Yield cooperatively after each dispatch so a flood from one
			// connection cannot starve the others (spec §5 "Suspension
			// points").
			runtime.Gosched()
		}
	})
}

func respond(r Responder, v respval.Value) {
	if r == nil {
		return
	}
	if err := r.TrySend(v); err != nil {
		// Outbound channel saturated or closed; the connection's writer
		// task (or its eventual teardown) is the authority on this, the
		// executor never blocks or retries a single reply.
		return
	}
}

func (e *Executor) reportMetrics() {
	if e.metrics == nil {
		return
	}
	e.metrics.SetReplicaCount(e.registry.Count())
	e.metrics.SetMasterReplOffset(e.MasterReplOffset())
	e.metrics.SetExecutorQueueDepth(e.queue.Len())
}

// infoBody formats the mandated three lines (spec §4.C: role, replid,
// offset) plus a per-replica `slaveN:...` table, the supplemented
// feature SPEC_FULL.md §3 adds from original_source's connected-slaves
// reporting. INFO's format beyond the three mandated lines is
// unconstrained by spec.md, so this extension does not alter any
// testable property it names.
func (e *Executor) infoBody() []byte {
	lines := []string{
		"# Replication",
		"role:" + e.role.String(),
		"master_replid:" + e.replID,
		fmt.Sprintf("master_repl_offset:%d", e.MasterReplOffset()),
	}
	if e.role == RoleMaster {
		for i, ri := range e.registry.Snapshot() {
			port := ri.ListeningPort
			if port == "" {
				port = "?"
			}
			lines = append(lines, fmt.Sprintf(
				"slave%d:port=%s,offset=%d", i, port, ri.AckOffset,
			))
		}
	}
	body := lines[0]
	for _, l := range lines[1:] {
		body += "\n" + l
	}
	return []byte(body)
}
