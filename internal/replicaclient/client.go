// Package replicaclient implements spec §4.E: the outbound replica
// handshake state machine and the S6-Live apply loop that feeds
// master-originated commands into the local executor. It follows the
// same embedded-worker.Worker shape as internal/netsrv's Connection,
// the idiom the teacher uses for every long-lived network actor.
package replicaclient

import (
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dstainton11/kvnode/internal/command"
	"github.com/dstainton11/kvnode/internal/engine"
	"github.com/dstainton11/kvnode/internal/respval"
	"github.com/dstainton11/kvnode/internal/worker"
)

const (
	connectTimeout = 10 * time.Second

	// handshakeReadChunk matches netsrv's plain-frame read size.
	handshakeReadChunk = 1024
	// snapshotReadChunk is spec §4.B's "102400 for snapshot mode".
	snapshotReadChunk = 102400
)

// Client drives the S0..S6 handshake against a configured master, then
// runs the live-apply loop that is spec §4.E's "behaves like a
// B-pipeline whose commands bypass client response writing".
type Client struct {
	worker.Worker

	masterAddr string
	ownPort    int
	executor   *engine.Executor
	log        *log.Logger

	conn            net.Conn
	processedOffset uint64 // atomic
	masterReplID    string
}

// New returns a Client that will connect to masterAddr (host:port) and
// advertise ownPort via REPLCONF listening-port.
func New(masterAddr string, ownPort int, ex *engine.Executor, logger *log.Logger) *Client {
	return &Client{masterAddr: masterAddr, ownPort: ownPort, executor: ex, log: logger}
}

// ProcessedOffset returns the replica's processed-offset counter.
func (c *Client) ProcessedOffset() uint64 {
	return atomic.LoadUint64(&c.processedOffset)
}

// Start runs the S0-Connect through S5-Snapshot handshake synchronously
// and, on success, spawns the S6-Live apply loop. Any failure before
// S6 is returned as a *FatalError, matching spec §4.E / §6's exit-code
// contract (startup handshake failure is fatal to the process).
func (c *Client) Start() error {
	conn, err := net.DialTimeout("tcp", c.masterAddr, connectTimeout)
	if err != nil {
		return newFatalError("dial master %s: %v", c.masterAddr, err)
	}
	c.conn = conn

	parser := respval.NewParser()

	readMore := func(chunk int) error {
		buf := make([]byte, chunk)
		n, rerr := conn.Read(buf)
		if n > 0 {
			parser.Append(buf[:n])
		}
		if rerr != nil {
			return rerr
		}
		return nil
	}
	expect := func() (*respval.Value, error) {
		for {
			v, _, perr := parser.Parse()
			if perr != nil {
				return nil, perr
			}
			if v != nil {
				return v, nil
			}
			if err := readMore(handshakeReadChunk); err != nil {
				return nil, err
			}
		}
	}
	send := func(parts ...[]byte) error {
		_, werr := conn.Write(respval.Serialize(respval.BulkStringArray(parts...)))
		return werr
	}

	// S1-Ping
	if err := send([]byte("PING")); err != nil {
		return newFatalError("send PING: %v", err)
	}
	if _, err := expect(); err != nil {
		return newFatalError("await PONG: %v", err)
	}

	// S2-Port
	if err := send([]byte("REPLCONF"), []byte("listening-port"), []byte(strconv.Itoa(c.ownPort))); err != nil {
		return newFatalError("send REPLCONF listening-port: %v", err)
	}
	if _, err := expect(); err != nil {
		return newFatalError("await REPLCONF listening-port ack: %v", err)
	}

	// S3-Capa
	if err := send([]byte("REPLCONF"), []byte("capa"), []byte("psync2")); err != nil {
		return newFatalError("send REPLCONF capa: %v", err)
	}
	if _, err := expect(); err != nil {
		return newFatalError("await REPLCONF capa ack: %v", err)
	}

	// S4-Psync
	if err := send([]byte("PSYNC"), []byte("?"), []byte("-1")); err != nil {
		return newFatalError("send PSYNC: %v", err)
	}
	fullresync, err := expect()
	if err != nil {
		return newFatalError("await FULLRESYNC: %v", err)
	}
	if fields := strings.Fields(string(fullresync.Str)); len(fields) == 3 {
		c.masterReplID = fields[1]
	}

	// S5-Snapshot
	for {
		v, _, perr := parser.ParseSnapshot()
		if perr != nil {
			return newFatalError("parse snapshot: %v", perr)
		}
		if v != nil {
			break
		}
		if err := readMore(snapshotReadChunk); err != nil {
			return newFatalError("read snapshot: %v", err)
		}
	}

	c.log.Infof("replica handshake complete, master replid %s", c.masterReplID)

	// S6-Live
	c.Go(func() { c.liveLoop(parser, conn) })
	return nil
}

// Stop tears down the uplink connection and joins the live-apply loop.
func (c *Client) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.Halt()
}

func (c *Client) liveLoop(parser *respval.Parser, conn net.Conn) {
	defer c.Done()
	buf := make([]byte, handshakeReadChunk)
	for {
		v, n, perr := parser.Parse()
		if perr != nil {
			c.log.Warnf("replica stream protocol error: %v", perr)
			return
		}
		if v == nil {
			rn, rerr := conn.Read(buf)
			if rn > 0 {
				parser.Append(buf[:rn])
			}
			if rerr != nil {
				c.log.Warnf("master connection lost: %v", rerr)
				return
			}
			continue
		}

		offsetBefore := atomic.LoadUint64(&c.processedOffset)
		atomic.AddUint64(&c.processedOffset, uint64(n))

		cmd, cerr := command.Parse(*v)
		if cerr != nil {
			c.log.Warnf("malformed command from master: %v", cerr)
			continue
		}

		var responder engine.Responder
		if cmd.Kind == command.KindReplconf && cmd.Subkey == "getack" {
			responder = &upstreamResponder{conn: conn}
		}

		msg := engine.WorkerMessage{
			Command:   cmd,
			ConnID:    engine.MasterUplinkConnID,
			Responder: responder,
			Offset:    offsetBefore,
		}
		if err := c.executor.Submit(msg, c.HaltCh()); err != nil {
			return
		}
	}
}

// upstreamResponder lets the executor synthesize a REPLCONF ACK reply
// back through the uplink connection (spec §4.E: "a responder handle is
// supplied so the executor can synthesize the ACK reply back through
// the uplink writer"). There is no separate writer task on this side,
// so it writes directly; GETACK replies are small and infrequent.
type upstreamResponder struct {
	conn net.Conn
}

func (u *upstreamResponder) TrySend(v interface{}) error {
	val, ok := v.(respval.Value)
	if !ok {
		return nil
	}
	_, err := u.conn.Write(respval.Serialize(val))
	return err
}
