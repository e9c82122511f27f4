package history

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/vicebridge/internal/buffer"
	"github.com/mattjoyce/vicebridge/internal/dispatch"
	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/protocol"
	"github.com/mattjoyce/vicebridge/internal/storage"
)

var _ dispatch.HistorySink = (*Recorder)(nil)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

// startRecorder runs a recorder whose clock advances one second per entry.
func startRecorder(t *testing.T, store *Store, backlog int) *Recorder {
	t.Helper()
	r := NewRecorder(store, backlog)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func flush(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestRecorderRoundTrip(t *testing.T) {
	store := openStore(t)
	r := startRecorder(t, store, 0)

	r.RecordSent(7, protocol.MemoryGetCommand{StartAddress: 0xa0, EndAddress: 0xa2}, false)

	mem := buffer.Get(3)
	copy(mem.Bytes(), []byte{1, 2, 3})
	resp := &protocol.MemoryGetResponse{Memory: mem}
	r.RecordResponse(7, resp)
	resp.Release()

	r.RecordUnsolicited(0xffffffff, &protocol.ProgramCounterResponse{Kind: protocol.RespStopped, ProgramCounter: 0xe5cd})
	flush(t, r)

	entries, err := store.ByRequest(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	sent, reply := entries[0], entries[1]
	assert.Equal(t, DirectionSent, sent.Direction)
	assert.Equal(t, protocol.CmdMemoryGet.String(), sent.Kind)
	assert.Nil(t, sent.ErrorCode)
	assert.False(t, sent.Internal)

	assert.Equal(t, DirectionResponse, reply.Direction)
	require.NotNil(t, reply.ErrorCode)
	assert.Equal(t, protocol.ErrorOK, *reply.ErrorCode)
	assert.Equal(t, 3, reply.PayloadSize)
	sum := blake3.Sum256([]byte{1, 2, 3})
	assert.Equal(t, hex.EncodeToString(sum[:]), reply.PayloadDigest)

	env, err := reply.Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, env.Data, "payload copied before release")

	unsolicited, err := store.ByRequest(context.Background(), 0xffffffff)
	require.NoError(t, err)
	require.Len(t, unsolicited, 1)
	assert.Equal(t, DirectionUnsolicited, unsolicited[0].Direction)
	env, err = unsolicited[0].Decode()
	require.NoError(t, err)
	msg, ok := env.Message.(map[string]any)
	require.True(t, ok, "message decodes to a string-keyed map, got %T", env.Message)
	assert.EqualValues(t, 0xe5cd, msg["program_counter"])
}

func TestRecorderMarksInternalFrames(t *testing.T) {
	store := openStore(t)
	r := startRecorder(t, store, 0)

	r.RecordSent(1, protocol.PingCommand{}, false)
	r.RecordSent(2, protocol.ExitCommand{}, true)
	flush(t, r)

	recent, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint32(2), recent[0].RequestID, "newest first")
	assert.True(t, recent[0].Internal)
	assert.False(t, recent[1].Internal)
}

func TestRecorderMemorySetDigest(t *testing.T) {
	store := openStore(t)
	r := startRecorder(t, store, 0)

	data := []byte{0xa9, 0x01, 0x60}
	r.RecordSent(3, protocol.MemorySetCommand{StartAddress: 0xc000, Data: data}, false)
	flush(t, r)

	entries, err := store.ByRequest(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	sum := blake3.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), entries[0].PayloadDigest)
	assert.Equal(t, len(data), entries[0].PayloadSize)
}

func TestRecorderDropsWhenBacklogFull(t *testing.T) {
	store := openStore(t)
	// Not running: nothing drains the channel.
	r := NewRecorder(store, 2)

	for i := 0; i < 5; i++ {
		r.RecordSent(uint32(i+1), protocol.PingCommand{}, false)
	}
	assert.Equal(t, int64(3), r.Dropped())
}

func TestRecorderRunDrainsOnCancel(t *testing.T) {
	store := openStore(t)
	r := NewRecorder(store, 8)
	for i := 0; i < 4; i++ {
		r.RecordSent(uint32(i+1), protocol.PingCommand{}, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStorePruneBefore(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		require.NoError(t, store.Insert(ctx, Entry{
			ID:        string(rune('a' + i)),
			RequestID: uint32(i + 1),
			Direction: DirectionSent,
			Kind:      "ping",
			CreatedAt: base.Add(-age),
		}))
	}

	n, err := store.PruneBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, uint32(3), left[0].RequestID)
	assert.True(t, left[0].CreatedAt.Equal(base.Add(-time.Hour)))
}

func TestStoreInsertRequiresID(t *testing.T) {
	store := openStore(t)
	err := store.Insert(context.Background(), Entry{Kind: "ping", CreatedAt: time.Now()})
	assert.Error(t, err)
}

func TestRunPrunerRemovesExpired(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, Entry{ID: "old", RequestID: 1, Direction: DirectionSent, Kind: "ping", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Insert(ctx, Entry{ID: "new", RequestID: 2, Direction: DirectionSent, Kind: "ping", CreatedAt: now.Add(-time.Minute)}))

	r := NewRecorder(store, 0)
	r.now = func() time.Time { return now }

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunPruner(pctx, 24*time.Hour, time.Hour)
	}()

	require.Eventually(t, func() bool {
		n, err := store.Count(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestRunPrunerDisabled(t *testing.T) {
	r := NewRecorder(openStore(t), 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunPruner(context.Background(), 0, time.Millisecond)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPruner with zero retention should return immediately")
	}
}
