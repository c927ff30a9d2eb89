// Package netsrv implements spec §4.B: the per-connection read/write
// pipeline (reader, dispatcher, writer tasks) and the listener that
// accepts them, following the embedded-worker.Worker idiom the teacher
// uses throughout its own connection types (client2/connection.go,
// stream/stream.go).
package netsrv

import (
	"net"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dstainton11/kvnode/internal/command"
	"github.com/dstainton11/kvnode/internal/engine"
	"github.com/dstainton11/kvnode/internal/queue"
	"github.com/dstainton11/kvnode/internal/respval"
	"github.com/dstainton11/kvnode/internal/worker"
)

// readChunkSize is the plain read size for client/replica-control
// traffic (spec §4.B: "read up to 1024 bytes"). Snapshot-sized reads
// are internal/replicaclient's concern, not this accept-side pipeline's.
const readChunkSize = 1024

// Connection is one accepted socket and its three cooperating tasks.
// An attached replica is not a distinct pipeline: it is an ordinary
// Connection whose outbound queue gets registered into the replication
// registry once its PSYNC is dispatched (engine.dispatchPsync).
type Connection struct {
	worker.Worker

	id       string
	conn     net.Conn
	log      *log.Logger
	executor *engine.Executor

	inbound  *queue.Bounded // parsed Values awaiting command translation
	outbound *queue.Bounded // Values awaiting serialization to the socket

	abortCh   chan struct{}
	abortOnce sync.Once
}

// NewConnection wraps an accepted socket. Call Start to spawn its tasks.
func NewConnection(conn net.Conn, ex *engine.Executor, logger *log.Logger) *Connection {
	id := NewConnID(conn.RemoteAddr().String())
	return &Connection{
		id:       id,
		conn:     conn,
		log:      logger.With("conn", id),
		executor: ex,
		inbound:  queue.New(queue.DefaultCapacity),
		outbound: queue.New(queue.DefaultCapacity),
		abortCh:  make(chan struct{}),
	}
}

// Start registers the connection's outbound channel with the executor
// (so WAIT and replica fan-out can reach it) and spawns the reader,
// dispatcher, and writer tasks plus an untracked supervisor that joins
// them and unregisters the connection on exit (spec §4.B's shutdown
// contract).
func (c *Connection) Start() {
	c.executor.RegisterConn(c.id, c.outbound)
	c.Go(c.readLoop)
	c.Go(c.dispatchLoop)
	c.Go(c.writeLoop)
	go c.supervise()
}

// abort signals every task to stop, idempotently. Any task may call
// this on its own terminal error without risk of deadlocking on Halt
// (which would block waiting for its own Done()).
func (c *Connection) abort() {
	c.abortOnce.Do(func() { close(c.abortCh) })
}

func (c *Connection) supervise() {
	<-c.abortCh
	c.conn.Close()
	c.inbound.Close()
	c.outbound.Close()
	c.Halt()
	c.executor.UnregisterConn(c.id)
	c.log.Debugf("connection closed")
}

func (c *Connection) readLoop() {
	defer c.Done()
	buf := make([]byte, readChunkSize)
	parser := respval.NewParser()
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			parser.Append(buf[:n])
			for {
				v, _, perr := parser.Parse()
				if perr != nil {
					c.log.Warnf("protocol error: %v", perr)
					c.abort()
					return
				}
				if v == nil {
					break
				}
				if sendErr := c.inbound.Send(*v, c.abortCh); sendErr != nil {
					return
				}
			}
		}
		if err != nil {
			c.abort()
			return
		}
	}
}

func (c *Connection) dispatchLoop() {
	defer c.Done()
	for {
		v, ok := c.inbound.Receive(c.abortCh)
		if !ok {
			return
		}
		frame := v.(respval.Value)
		cmd, err := command.Parse(frame)
		if err != nil {
			// Dispatch progressed far enough to identify a responder
			// (this connection); respond with a protocol error rather
			// than aborting (spec §7, kind 2).
			_ = c.outbound.TrySend(respval.ErrorReply("ERR " + err.Error()))
			continue
		}
		msg := engine.WorkerMessage{Command: cmd, ConnID: c.id, Responder: c.outbound}
		if err := c.executor.Submit(msg, c.abortCh); err != nil {
			return
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.Done()
	for {
		v, ok := c.outbound.Receive(c.abortCh)
		if !ok {
			return
		}
		val, ok := v.(respval.Value)
		if !ok {
			continue
		}
		if _, err := c.conn.Write(respval.Serialize(val)); err != nil {
			c.abort()
			return
		}
	}
}
