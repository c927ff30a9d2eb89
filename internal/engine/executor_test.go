package engine

import (
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/dstainton11/kvnode/internal/command"
	"github.com/dstainton11/kvnode/internal/replication"
	"github.com/dstainton11/kvnode/internal/respval"
	"github.com/dstainton11/kvnode/internal/store"
	"github.com/dstainton11/kvnode/internal/worker"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Prefix: "test"})
}

type recorder struct {
	mu   chan struct{}
	vals []respval.Value
}

func newRecorder() *recorder { return &recorder{mu: make(chan struct{}, 1)} }

func (r *recorder) TrySend(v interface{}) error {
	r.vals = append(r.vals, v.(respval.Value))
	select {
	case r.mu <- struct{}{}:
	default:
	}
	return nil
}

func newTestExecutor(role Role) (*Executor, *worker.Worker) {
	var now uint64 = 1000
	st := store.New(func() uint64 { return now })
	reg := replication.NewRegistry(testLogger())
	ex := New(Config{Role: role, ReplID: "0123456789abcdef0123456789abcdef01234567", SnapshotBlob: []byte("baseline")}, st, reg, testLogger())
	var w worker.Worker
	ex.Run(&w)
	return ex, &w
}

func send(t *testing.T, ex *Executor, w *worker.Worker, msg WorkerMessage) {
	t.Helper()
	require.NoError(t, ex.Submit(msg, w.HaltCh()))
}

func TestPing(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()
	r := newRecorder()
	c, _ := command.Parse(respval.BulkStringArray([]byte("PING")))
	send(t, ex, w, WorkerMessage{Command: c, ConnID: "c1", Responder: r})
	<-r.mu
	require.Len(t, r.vals, 1)
	require.True(t, r.vals[0].Equal(respval.SimpleString("PONG")))
}

func TestSetGetRoundTrip(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()
	setR := newRecorder()
	setCmd, err := command.Parse(respval.BulkStringArray([]byte("SET"), []byte("foo"), []byte("bar")))
	require.NoError(t, err)
	send(t, ex, w, WorkerMessage{Command: setCmd, ConnID: "c1", Responder: setR})
	<-setR.mu
	require.True(t, setR.vals[0].Equal(respval.SimpleString("OK")))

	getR := newRecorder()
	getCmd, err := command.Parse(respval.BulkStringArray([]byte("GET"), []byte("foo")))
	require.NoError(t, err)
	send(t, ex, w, WorkerMessage{Command: getCmd, ConnID: "c1", Responder: getR})
	<-getR.mu
	require.True(t, getR.vals[0].Equal(respval.BulkString([]byte("bar"))))
}

func TestGetMissingReturnsNullBulkString(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()
	r := newRecorder()
	c, _ := command.Parse(respval.BulkStringArray([]byte("GET"), []byte("nope")))
	send(t, ex, w, WorkerMessage{Command: c, ConnID: "c1", Responder: r})
	<-r.mu
	require.True(t, r.vals[0].Equal(respval.NullBulkString()))
}

func TestSetFansOutToAttachedReplicaAndAdvancesOffset(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()

	replicaOut := newRecorder()
	ex.registry.Attach("replica-1", replicaOut)

	setR := newRecorder()
	setCmd, _ := command.Parse(respval.BulkStringArray([]byte("SET"), []byte("k"), []byte("v")))
	send(t, ex, w, WorkerMessage{Command: setCmd, ConnID: "c1", Responder: setR})
	<-setR.mu

	require.Eventually(t, func() bool { return len(replicaOut.vals) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, ex.MasterReplOffset() > 0)
}

func TestSetFromMasterUplinkAppliesWithoutResponseOrFanout(t *testing.T) {
	ex, w := newTestExecutor(RoleReplica)
	defer w.Halt()

	replicaOut := newRecorder()
	ex.registry.Attach("downstream", replicaOut)

	setCmd, _ := command.Parse(respval.BulkStringArray([]byte("SET"), []byte("k"), []byte("v")))
	send(t, ex, w, WorkerMessage{Command: setCmd, ConnID: MasterUplinkConnID, Responder: nil, Offset: 37})

	require.Eventually(t, func() bool {
		v, ok := ex.store.Get([]byte("k"))
		return ok && v.Equal(respval.BulkString([]byte("v")))
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, ex.MasterReplOffset())
	require.Empty(t, replicaOut.vals)
}

func TestPsyncAttachesReplicaAndRespondsFullresyncThenSnapshot(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()

	r := newRecorder()
	psyncCmd, _ := command.Parse(respval.BulkStringArray([]byte("PSYNC"), []byte("?"), []byte("-1")))
	send(t, ex, w, WorkerMessage{Command: psyncCmd, ConnID: "replica-a", Responder: r})

	require.Eventually(t, func() bool { return len(r.vals) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, respval.KindSimpleString, r.vals[0].Kind)
	require.Equal(t, respval.KindSnapshot, r.vals[1].Kind)
	require.Equal(t, 1, ex.registry.Count())
}

func TestWaitZeroReplicasRespondsImmediately(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()
	ex.RegisterConn("c1", newRecorder())

	r := newRecorder()
	waitCmd, _ := command.Parse(respval.BulkStringArray([]byte("WAIT"), []byte("0"), []byte("1000")))
	send(t, ex, w, WorkerMessage{Command: waitCmd, ConnID: "c1", Responder: r})

	require.Eventually(t, func() bool { return len(r.vals) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, r.vals[0].Equal(respval.Integer(0)))
}

func TestReplconfAckUpdatesRegistry(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()
	ex.registry.Attach("replica-1", newRecorder())

	ackCmd, _ := command.Parse(respval.BulkStringArray([]byte("REPLCONF"), []byte("ACK"), []byte("55")))
	send(t, ex, w, WorkerMessage{Command: ackCmd, ConnID: "replica-1"})

	require.Eventually(t, func() bool { return ex.registry.CountAcked(55) == 1 }, time.Second, 5*time.Millisecond)
}

func TestTypeCommand(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()
	setCmd, _ := command.Parse(respval.BulkStringArray([]byte("SET"), []byte("k"), []byte("v")))
	send(t, ex, w, WorkerMessage{Command: setCmd, ConnID: "c1", Responder: newRecorder()})

	r := newRecorder()
	typeCmd, _ := command.Parse(respval.BulkStringArray([]byte("TYPE"), []byte("k")))
	send(t, ex, w, WorkerMessage{Command: typeCmd, ConnID: "c1", Responder: r})
	<-r.mu
	require.True(t, r.vals[0].Equal(respval.SimpleString("string")))

	r2 := newRecorder()
	typeCmd2, _ := command.Parse(respval.BulkStringArray([]byte("TYPE"), []byte("missing")))
	send(t, ex, w, WorkerMessage{Command: typeCmd2, ConnID: "c1", Responder: r2})
	<-r2.mu
	require.True(t, r2.vals[0].Equal(respval.SimpleString("none")))
}

func TestInfoListsAttachedReplicaPortAndOffset(t *testing.T) {
	ex, w := newTestExecutor(RoleMaster)
	defer w.Halt()

	portCmd, _ := command.Parse(respval.BulkStringArray([]byte("REPLCONF"), []byte("listening-port"), []byte("6380")))
	send(t, ex, w, WorkerMessage{Command: portCmd, ConnID: "replica-1", Responder: newRecorder()})

	psyncCmd, _ := command.Parse(respval.BulkStringArray([]byte("PSYNC"), []byte("?"), []byte("-1")))
	psyncR := newRecorder()
	send(t, ex, w, WorkerMessage{Command: psyncCmd, ConnID: "replica-1", Responder: psyncR})
	require.Eventually(t, func() bool { return len(psyncR.vals) == 2 }, time.Second, 5*time.Millisecond)

	ackCmd, _ := command.Parse(respval.BulkStringArray([]byte("REPLCONF"), []byte("ACK"), []byte("12")))
	send(t, ex, w, WorkerMessage{Command: ackCmd, ConnID: "replica-1"})
	require.Eventually(t, func() bool { return ex.registry.CountAcked(12) == 1 }, time.Second, 5*time.Millisecond)

	r := newRecorder()
	infoCmd, _ := command.Parse(respval.BulkStringArray([]byte("INFO")))
	send(t, ex, w, WorkerMessage{Command: infoCmd, ConnID: "c1", Responder: r})
	<-r.mu
	require.Contains(t, string(r.vals[0].Bulk), "slave0:port=6380,offset=12")
}

func TestInfoReportsRoleAndReplID(t *testing.T) {
	ex, w := newTestExecutor(RoleReplica)
	defer w.Halt()
	r := newRecorder()
	infoCmd, _ := command.Parse(respval.BulkStringArray([]byte("INFO")))
	send(t, ex, w, WorkerMessage{Command: infoCmd, ConnID: "c1", Responder: r})
	<-r.mu
	require.Contains(t, string(r.vals[0].Bulk), "role:slave")
	require.Contains(t, string(r.vals[0].Bulk), "master_replid:0123456789abcdef0123456789abcdef01234567")
}
