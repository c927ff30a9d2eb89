package netsrv

import (
	"errors"
	"net"

	"github.com/charmbracelet/log"
	"golang.org/x/net/netutil"

	"github.com/dstainton11/kvnode/internal/engine"
	"github.com/dstainton11/kvnode/internal/worker"
)

// Listener accepts connections and spawns a Connection pipeline for
// each. maxConns <= 0 disables the connection cap.
type Listener struct {
	worker.Worker

	ln       net.Listener
	executor *engine.Executor
	log      *log.Logger
}

// Listen binds addr and returns a Listener ready for Serve. A bind
// failure is Fatal per spec §7 ("bind failure... Propagated to the
// process; server exits").
func Listen(addr string, maxConns int, ex *engine.Executor, logger *log.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, newFatalError("bind %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return &Listener{ln: ln, executor: ex, log: logger}, nil
}

// Addr returns the bound address, useful when port 0 was requested.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve spawns the accept loop.
func (l *Listener) Serve() {
	l.Go(l.acceptLoop)
}

func (l *Listener) acceptLoop() {
	defer l.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warnf("accept error: %v", err)
			continue
		}
		c := NewConnection(conn, l.executor, l.log)
		c.Start()
	}
}

// Shutdown closes the listener (spec §5: "Graceful shutdown of the
// server aborts the listener") and waits for the accept loop to exit.
// It does not wait for already-accepted connections; those drain
// independently via their own supervisors.
func (l *Listener) Shutdown() {
	l.ln.Close()
	l.Halt()
}
