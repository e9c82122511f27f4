package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vicebridge/internal/history"
	"github.com/mattjoyce/vicebridge/internal/protocol"
	"github.com/mattjoyce/vicebridge/internal/storage"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *history.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := history.NewStore(db)

	missing := protocol.ErrorObjectMissing
	ok := protocol.ErrorOK
	rows := []struct {
		id        string
		requestID uint32
		dir       history.Direction
		kind      string
		internal  bool
		code      *protocol.ErrorCode
		msg       any
		data      []byte
		offset    time.Duration
	}{
		{"a", 7, history.DirectionSent, "memory_set", false, nil, map[string]any{"start_address": 1024}, []byte{0x08, 0x05}, 0},
		{"b", 7, history.DirectionResponse, "memory_set", false, &ok, nil, nil, 3 * time.Millisecond},
		{"c", 8, history.DirectionSent, "checkpoint_delete", false, nil, map[string]any{"number": 9}, nil, 10 * time.Millisecond},
		{"d", 8, history.DirectionResponse, "checkpoint_delete", false, &missing, nil, nil, 12 * time.Millisecond},
		{"e", 9, history.DirectionSent, "memory_get", true, nil, nil, nil, 20 * time.Millisecond},
		{"f", 0xffffffff, history.DirectionUnsolicited, "stopped", false, &ok, nil, nil, 30 * time.Millisecond},
	}
	for _, r := range rows {
		payload, err := cbor.Marshal(history.Envelope{Message: r.msg, Data: r.data})
		require.NoError(t, err)
		require.NoError(t, store.Insert(context.Background(), history.Entry{
			ID:          r.id,
			RequestID:   r.requestID,
			Direction:   r.dir,
			Kind:        r.kind,
			Internal:    r.internal,
			ErrorCode:   r.code,
			Payload:     payload,
			PayloadSize: len(r.data),
			CreatedAt:   base.Add(r.offset),
		}))
	}
	return store
}

func TestBuildReportRendersTrace(t *testing.T) {
	t.Parallel()
	store := seedStore(t)

	out, err := BuildReport(context.Background(), store, 7)
	require.NoError(t, err)

	assert.Contains(t, out, "Request ID  : 7")
	assert.Contains(t, out, "Command     : memory_set")
	assert.Contains(t, out, "Outcome     : ok")
	assert.Contains(t, out, "Elapsed     : 3ms")
	assert.Contains(t, out, "[1] sent memory_set")
	assert.Contains(t, out, "[2] response memory_set")
	assert.Contains(t, out, "data       : 0805")
	assert.Contains(t, out, `"start_address": 1024`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestBuildJSONReportOutcomes(t *testing.T) {
	t.Parallel()
	store := seedStore(t)
	ctx := context.Background()

	tests := []struct {
		requestID uint32
		command   string
		internal  bool
		outcome   string
		steps     int
	}{
		{8, "checkpoint_delete", false, protocol.ErrorObjectMissing.String(), 2},
		{9, "memory_get", true, "pending", 1},
		{0xffffffff, "", false, "unsolicited", 1},
	}
	for _, tt := range tests {
		out, err := BuildJSONReport(ctx, store, tt.requestID)
		require.NoError(t, err)

		var report Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, tt.requestID, report.RequestID)
		assert.Equal(t, tt.command, report.Command)
		assert.Equal(t, tt.internal, report.Internal)
		assert.Equal(t, tt.outcome, report.Outcome)
		assert.Len(t, report.Steps, tt.steps)
	}
}

func TestBuildReportNotFound(t *testing.T) {
	t.Parallel()
	store := seedStore(t)

	_, err := BuildReport(context.Background(), store, 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBuildTailOldestFirst(t *testing.T) {
	t.Parallel()
	store := seedStore(t)

	out, err := BuildTail(context.Background(), store, 3)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "checkpoint_delete")
	assert.Contains(t, lines[0], "error=")
	assert.Contains(t, lines[1], "internal")
	assert.Contains(t, lines[2], "stopped")
}
