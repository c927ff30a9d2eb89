package engine

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dstainton11/kvnode/internal/command"
	"github.com/dstainton11/kvnode/internal/respval"
	"github.com/dstainton11/kvnode/internal/worker"
)

// dispatch applies one WorkerMessage, per the command-by-command
// contract of spec §4.C. w is needed only by WAIT, which spawns a
// separate waiter task rather than blocking the dispatch loop.
func (e *Executor) dispatch(w *worker.Worker, msg WorkerMessage) {
	if e.metrics != nil {
		e.metrics.ObserveCommand(commandName(msg.Command.Kind))
	}
	switch msg.Command.Kind {
	case command.KindPing:
		respond(msg.Responder, respval.SimpleString("PONG"))

	case command.KindEcho:
		respond(msg.Responder, respval.BulkString(msg.Command.Payload))

	case command.KindGet:
		if v, ok := e.store.Get(msg.Command.Key); ok {
			respond(msg.Responder, v)
		} else {
			respond(msg.Responder, respval.NullBulkString())
		}

	case command.KindSet:
		e.dispatchSet(msg)

	case command.KindType:
		if e.store.Exists(msg.Command.Key) {
			respond(msg.Responder, respval.SimpleString("string"))
		} else {
			respond(msg.Responder, respval.SimpleString("none"))
		}

	case command.KindInfo:
		respond(msg.Responder, respval.BulkString(e.infoBody()))

	case command.KindReplconf:
		e.dispatchReplconf(msg)

	case command.KindPsync:
		e.dispatchPsync(msg)

	case command.KindWait:
		target := e.MasterReplOffset()
		timeout := time.Duration(msg.Command.TimeoutMS) * time.Millisecond
		connID := msg.ConnID
		responder := msg.Responder
		e.registry.Wait(w, target, msg.Command.MinReplicas, timeout,
			func() bool { return e.ConnLive(connID) },
			func(count int) { respond(responder, respval.Integer(uint64(count))) },
		)

	case command.KindSelect:
		respond(msg.Responder, respval.SimpleString("OK"))

	case command.KindConfig:
		e.dispatchConfig(msg)
	}
}

// dispatchSet implements spec §4.C's SET rule, including the replica
// exception: a write arriving from the master-uplink is applied with
// neither a response nor further fan-out.
func (e *Executor) dispatchSet(msg WorkerMessage) {
	fromUplink := msg.ConnID == MasterUplinkConnID

	var expiresAt uint64
	if msg.Command.HasExpiry {
		expiresAt = e.store.Now() + msg.Command.ExpiryMS
	}
	e.store.Set(msg.Command.Key, respval.BulkString(msg.Command.Value), expiresAt)

	if fromUplink {
		return
	}

	if e.role == RoleMaster {
		encoded := command.Encode(msg.Command)
		serialized := respval.Serialize(encoded)
		e.registry.Fanout(encoded)
		atomic.AddUint64(&e.masterReplOffset, uint64(len(serialized)))
	}

	respond(msg.Responder, respval.SimpleString("OK"))
}

func (e *Executor) dispatchReplconf(msg WorkerMessage) {
	switch msg.Command.Subkey {
	case "getack":
		if msg.Responder == nil {
			return
		}
		offset := strconv.FormatUint(msg.Offset, 10)
		respond(msg.Responder, respval.BulkStringArray(
			[]byte("REPLCONF"), []byte("ACK"), []byte(offset),
		))
	case "ack":
		offset, err := strconv.ParseUint(string(msg.Command.Arg), 10, 64)
		if err != nil {
			return
		}
		e.registry.UpdateAck(msg.ConnID, offset)
	case "listening-port":
		// Recorded for INFO's per-replica table (SPEC_FULL.md §3); the
		// port arrives before PSYNC in the handshake, so the registry
		// holds it pending attachment.
		e.registry.SetListeningPort(msg.ConnID, string(msg.Command.Arg))
		respond(msg.Responder, respval.SimpleString("OK"))
	default:
		respond(msg.Responder, respval.SimpleString("OK"))
	}
}

func (e *Executor) dispatchPsync(msg WorkerMessage) {
	if msg.Responder != nil {
		e.registry.Attach(msg.ConnID, msg.Responder)
	}
	respond(msg.Responder, respval.SimpleString("FULLRESYNC "+e.replID+" 0"))
	respond(msg.Responder, respval.Snapshot(e.snapshotBlob))
}

func (e *Executor) dispatchConfig(msg WorkerMessage) {
	if msg.Command.Verb != "get" {
		respond(msg.Responder, respval.SimpleString("OK"))
		return
	}
	key := string(msg.Command.Key)
	value, ok := e.configValues[key]
	if !ok {
		respond(msg.Responder, respval.Array())
		return
	}
	respond(msg.Responder, respval.Array(
		respval.BulkString([]byte(key)),
		respval.BulkString([]byte(value)),
	))
}

func commandName(k command.Kind) string {
	switch k {
	case command.KindPing:
		return "ping"
	case command.KindEcho:
		return "echo"
	case command.KindGet:
		return "get"
	case command.KindSet:
		return "set"
	case command.KindType:
		return "type"
	case command.KindInfo:
		return "info"
	case command.KindReplconf:
		return "replconf"
	case command.KindPsync:
		return "psync"
	case command.KindWait:
		return "wait"
	case command.KindSelect:
		return "select"
	case command.KindConfig:
		return "config"
	default:
		return "unknown"
	}
}
