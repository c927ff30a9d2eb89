// Command kvnode runs the single-leader, in-memory key-value server.
// With --replicaof set it instead runs as a replica of that master.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dstainton11/kvnode/internal/config"
	"github.com/dstainton11/kvnode/internal/engine"
	"github.com/dstainton11/kvnode/internal/metrics"
	"github.com/dstainton11/kvnode/internal/netsrv"
	"github.com/dstainton11/kvnode/internal/replicaclient"
	"github.com/dstainton11/kvnode/internal/replication"
	"github.com/dstainton11/kvnode/internal/snapshot"
	"github.com/dstainton11/kvnode/internal/store"
	"github.com/dstainton11/kvnode/internal/worker"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code, per spec §6: 0 normal; non-zero on
// bind failure, handshake failure, or unrecoverable startup I/O.
func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if config.IsVersionPrinted(err) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "kvnode",
	})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	role := engine.RoleMaster
	if cfg.ReplicaOf != nil {
		role = engine.RoleReplica
	}

	replID, err := newReplID()
	if err != nil {
		logger.Errorf("generating replication id: %v", err)
		return 1
	}

	var m engine.Metrics
	var metricsSrv *metrics.Metrics
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.New()
		m = metricsSrv
		errCh := metricsSrv.Serve(cfg.MetricsAddr)
		go func() {
			if err := <-errCh; err != nil {
				logger.Warnf("metrics server: %v", err)
			}
		}()
	}

	st := store.New(nowMS)
	registry := replication.NewRegistry(logger.With("component", "replication"))
	ex := engine.New(engine.Config{
		Role:         role,
		ReplID:       replID,
		SnapshotBlob: snapshot.Baseline(),
		Metrics:      m,
	}, st, registry, logger.With("component", "executor"))

	var ew worker.Worker
	ex.Run(&ew)

	ln, err := netsrv.Listen(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), cfg.MaxConns, ex, logger.With("component", "netsrv"))
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	ln.Serve()
	logger.Infof("listening on %s", ln.Addr())

	var replica *replicaclient.Client
	if cfg.ReplicaOf != nil {
		masterAddr := fmt.Sprintf("%s:%d", cfg.ReplicaOf.Host, cfg.ReplicaOf.Port)
		replica = replicaclient.New(masterAddr, cfg.Port, ex, logger.With("component", "replicaclient"))
		if err := replica.Start(); err != nil {
			logger.Errorf("replica handshake: %v", err)
			return 1
		}
		logger.Infof("replicating from %s", masterAddr)
	}

	waitForShutdownSignal()
	logger.Infof("shutting down")

	ln.Shutdown()
	if replica != nil {
		replica.Stop()
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
	ew.Halt()

	return 0
}

func waitForShutdownSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
}

func nowMS() uint64 {
	return uint64(time.Now().UnixMilli())
}

// newReplID generates the fixed, 40-character hexadecimal token spec §6
// requires: "a fixed 40-byte hexadecimal token (one per process
// lifetime)".
func newReplID() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
