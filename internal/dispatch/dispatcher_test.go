package dispatch

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vicebridge/internal/dispatch/mocks"
	"github.com/mattjoyce/vicebridge/internal/events"
	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/protocol"
	"github.com/mattjoyce/vicebridge/internal/queue"
	"github.com/mattjoyce/vicebridge/internal/vicetest"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func testConfig() Config {
	return Config{
		ResponseTimeout: 2 * time.Second,
		WriteTimeout:    time.Second,
		AutoResume: AutoResumeConfig{
			SettleDelay:   time.Millisecond,
			ProbeInterval: 5 * time.Millisecond,
		},
	}
}

type harness struct {
	srv  *vicetest.Server
	q    *queue.Queue
	d    *Dispatcher
	done chan struct{}
	err  error
}

func newHarness(t *testing.T, h vicetest.Handler, cfg Config, opts ...Option) *harness {
	t.Helper()

	srv := vicetest.NewServer(t, h)
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	q := queue.New()
	hs := &harness{srv: srv, q: q, d: New(q, cfg, opts...), done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(hs.done)
		hs.err = hs.d.Serve(ctx, conn)
		_ = conn.Close()
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-hs.done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return hs
}

func (h *harness) push(t *testing.T, cmd protocol.Command, resume bool) *queue.Pending {
	t.Helper()
	p := queue.NewPending(cmd, resume)
	require.NoError(t, h.q.Push(p))
	return p
}

func wait(t *testing.T, p *queue.Pending) (protocol.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestServeSingleFlight(t *testing.T) {
	// The handler never answers; the test plays the monitor's replies.
	h := newHarness(t, func(vicetest.Request) []vicetest.Frame { return nil }, testConfig())

	pending := []*queue.Pending{
		h.push(t, protocol.PingCommand{}, false),
		h.push(t, protocol.InfoCommand{}, false),
		h.push(t, protocol.BanksAvailableCommand{}, false),
	}

	for i, p := range pending {
		reqs := h.srv.WaitRequests(i+1, 2*time.Second)
		time.Sleep(50 * time.Millisecond)
		require.Len(t, h.srv.Requests(), i+1, "next command sent before the previous one was answered")
		assert.Equal(t, queue.StatusRunning, p.Status())

		last := reqs[i]
		h.srv.Send(vicetest.Frame{Type: protocol.ResponseType(last.Type), RequestID: last.RequestID})

		resp, err := wait(t, p)
		require.NoError(t, err)
		resp.Release()
		assert.Equal(t, queue.StatusSucceeded, p.Status())
	}

	reqs := h.srv.Requests()
	assert.Equal(t, []protocol.CommandType{protocol.CmdPing, protocol.CmdInfo, protocol.CmdBanksAvailable},
		[]protocol.CommandType{reqs[0].Type, reqs[1].Type, reqs[2].Type})
	assert.Less(t, reqs[0].RequestID, reqs[1].RequestID)
	assert.Less(t, reqs[1].RequestID, reqs[2].RequestID)
	assert.Equal(t, reqs[2].RequestID, h.d.LastRequestID())
}

func TestServeCheckpointListAggregation(t *testing.T) {
	emu := vicetest.NewEmulator()
	h := newHarness(t, emu.Handle, testConfig())

	for _, addr := range []uint16{0xc000, 0xc100} {
		resp, err := wait(t, h.push(t, protocol.CheckpointSetCommand{
			StartAddress: addr, EndAddress: addr, StopWhenHit: true, Enabled: true, Operation: protocol.OpExec,
		}, false))
		require.NoError(t, err)
		assert.Equal(t, protocol.RespCheckpointInfo, resp.Type())
	}

	resp, err := wait(t, h.push(t, protocol.CheckpointListCommand{}, false))
	require.NoError(t, err)

	list, ok := resp.(*protocol.CheckpointListResponse)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, uint32(2), list.Count)
	require.Len(t, list.Checkpoints, 2)
	assert.Equal(t, uint16(0xc000), list.Checkpoints[0].StartAddress)
	assert.Equal(t, uint16(0xc100), list.Checkpoints[1].StartAddress)
	assert.True(t, list.Checkpoints[1].StopWhenHit)
}

func TestServeCheckpointListRecordsEachInfo(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistorySink(ctrl)
	history.EXPECT().RecordSent(gomock.Any(), gomock.Any(), false).Times(3)

	var mu sync.Mutex
	recorded := map[uint32][]protocol.ResponseType{}
	history.EXPECT().RecordResponse(gomock.Any(), gomock.Any()).Times(5).Do(func(id uint32, resp protocol.Response) {
		mu.Lock()
		defer mu.Unlock()
		recorded[id] = append(recorded[id], resp.Type())
	})

	h := newHarness(t, vicetest.NewEmulator().Handle, testConfig(), WithHistory(history))
	for _, addr := range []uint16{0x1000, 0x2000} {
		resp, err := wait(t, h.push(t, protocol.CheckpointSetCommand{
			StartAddress: addr, EndAddress: addr, Enabled: true, Operation: protocol.OpLoad,
		}, false))
		require.NoError(t, err)
		resp.Release()
	}

	resp, err := wait(t, h.push(t, protocol.CheckpointListCommand{}, false))
	require.NoError(t, err)
	resp.Release()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []protocol.ResponseType{
		protocol.RespCheckpointInfo, protocol.RespCheckpointInfo, protocol.RespCheckpointList,
	}, recorded[h.d.LastRequestID()])
}

func TestServeSkipsCancelledCommand(t *testing.T) {
	h := newHarness(t, func(vicetest.Request) []vicetest.Frame { return nil }, testConfig())

	first := h.push(t, protocol.PingCommand{}, false)
	reqs := h.srv.WaitRequests(1, 2*time.Second)
	second := h.push(t, protocol.InfoCommand{}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := second.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, queue.StatusCanceled, second.Status())

	h.srv.Send(vicetest.Frame{Type: protocol.RespPing, RequestID: reqs[0].RequestID})
	resp, err := wait(t, first)
	require.NoError(t, err)
	resp.Release()

	third := h.push(t, protocol.PingCommand{}, false)
	reqs = h.srv.WaitRequests(2, 2*time.Second)
	assert.Equal(t, protocol.CmdPing, reqs[1].Type, "cancelled command must not reach the monitor")
	h.srv.Send(vicetest.Frame{Type: protocol.RespPing, RequestID: reqs[1].RequestID})
	resp, err = wait(t, third)
	require.NoError(t, err)
	resp.Release()
	assert.Len(t, h.srv.Requests(), 2)
}

func TestServeUnsolicitedIsolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockHistorySink(ctrl)
	history.EXPECT().RecordSent(gomock.Any(), gomock.Any(), false).Times(1)
	history.EXPECT().RecordUnsolicited(protocol.UnsolicitedRequestID, gomock.Any()).Times(2)
	history.EXPECT().RecordResponse(gomock.Any(), gomock.Any()).Times(1)

	hub := events.NewHub(16)
	sub, cancel := hub.Subscribe(events.TypeUnsolicited)
	defer cancel()

	handler := func(req vicetest.Request) []vicetest.Frame {
		return []vicetest.Frame{
			vicetest.StoppedEvent(0xc000),
			// Same tag as the answer, but not correlated with it.
			vicetest.Event(protocol.RespPing, nil),
			vicetest.Ack(req),
		}
	}
	h := newHarness(t, handler, testConfig(), WithHistory(history), WithEvents(hub))

	var mu sync.Mutex
	var seen []protocol.ResponseType
	h.d.OnUnsolicited(func(id uint32, resp protocol.Response) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, protocol.UnsolicitedRequestID, id)
		seen = append(seen, resp.Type())
	})

	resp, err := wait(t, h.push(t, protocol.PingCommand{}, false))
	require.NoError(t, err)
	assert.Equal(t, protocol.RespPing, resp.Type())

	mu.Lock()
	assert.Equal(t, []protocol.ResponseType{protocol.RespStopped, protocol.RespPing}, seen)
	mu.Unlock()

	select {
	case ev := <-sub:
		assert.Contains(t, string(ev.Data), `"type":"stopped"`)
		assert.Contains(t, string(ev.Data), `"program_counter":49152`)
	case <-time.After(time.Second):
		t.Fatal("unsolicited event not published")
	}
}

func TestServeIdleFramesAreUnsolicited(t *testing.T) {
	h := newHarness(t, vicetest.NewEmulator().Handle, testConfig())

	got := make(chan uint16, 1)
	h.d.OnUnsolicited(func(_ uint32, resp protocol.Response) {
		if pc, ok := resp.(*protocol.ProgramCounterResponse); ok {
			got <- pc.ProgramCounter
		}
	})

	// Make sure the session is up before pushing the event.
	_, err := wait(t, h.push(t, protocol.PingCommand{}, false))
	require.NoError(t, err)

	h.srv.Send(vicetest.StoppedEvent(0x1234))
	select {
	case pc := <-got:
		assert.Equal(t, uint16(0x1234), pc)
	case <-time.After(2 * time.Second):
		t.Fatal("idle event not delivered")
	}
}

func TestServeTimeoutKeepsConnection(t *testing.T) {
	var calls atomic.Int32
	handler := func(req vicetest.Request) []vicetest.Frame {
		if calls.Add(1) == 1 {
			return nil
		}
		return []vicetest.Frame{vicetest.Ack(req)}
	}

	ctrl := gomock.NewController(t)
	perf := mocks.NewMockPerformanceSink(ctrl)
	perf.EXPECT().CommandSent(protocol.CmdPing).Times(2)
	perf.EXPECT().CommandTimedOut(protocol.CmdPing).Times(1)
	perf.EXPECT().ResponseReceived(protocol.RespPing, protocol.ErrorOK, gomock.Any()).Times(1)
	perf.EXPECT().UnsolicitedReceived(protocol.RespPing).Times(1)

	cfg := testConfig()
	cfg.ResponseTimeout = 100 * time.Millisecond
	h := newHarness(t, handler, cfg, WithPerformance(perf))

	late := make(chan uint32, 1)
	h.d.OnUnsolicited(func(id uint32, _ protocol.Response) { late <- id })

	first := h.push(t, protocol.PingCommand{}, false)
	_, err := wait(t, first)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, protocol.CmdPing, te.Command)
	assert.Equal(t, queue.StatusTimedOut, first.Status())

	// The answer shows up after the caller gave up.
	firstID := h.srv.Requests()[0].RequestID
	h.srv.Send(vicetest.Frame{Type: protocol.RespPing, RequestID: firstID})
	select {
	case id := <-late:
		assert.Equal(t, firstID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("late response not treated as unsolicited")
	}

	resp, err := wait(t, h.push(t, protocol.PingCommand{}, false))
	require.NoError(t, err)
	assert.Equal(t, protocol.RespPing, resp.Type())
	assert.Equal(t, 1, h.srv.Accepted())
}

func TestServeDisconnectFansOut(t *testing.T) {
	h := newHarness(t, func(vicetest.Request) []vicetest.Frame { return nil }, testConfig())

	pending := []*queue.Pending{
		h.push(t, protocol.PingCommand{}, false),
		h.push(t, protocol.InfoCommand{}, false),
		h.push(t, protocol.ExitCommand{}, false),
	}
	h.srv.WaitRequests(1, 2*time.Second)
	h.srv.DropConnections()

	for _, p := range pending {
		_, err := wait(t, p)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDisconnected), "got %v", err)
		assert.Equal(t, queue.StatusDisconnected, p.Status())
	}

	select {
	case <-h.done:
		assert.True(t, errors.Is(h.err, ErrDisconnected))
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after disconnect")
	}
	assert.Equal(t, 0, h.q.Depth())
}

func TestServeFramingErrorEndsSession(t *testing.T) {
	h := newHarness(t, func(vicetest.Request) []vicetest.Frame { return nil }, testConfig())

	p := h.push(t, protocol.PingCommand{}, false)
	h.srv.WaitRequests(1, 2*time.Second)
	h.srv.SendRaw([]byte{0x99, 0x02, 0, 0, 0, 0, 0x81, 0, 1, 0, 0, 0})

	_, err := wait(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDisconnected))
	assert.True(t, errors.Is(err, protocol.ErrFraming))
}

func TestServeDecodeErrorResolvesCallerOnly(t *testing.T) {
	handler := func(req vicetest.Request) []vicetest.Frame {
		if req.Type == protocol.CmdMemoryGet {
			// Claims five bytes, carries one.
			return []vicetest.Frame{vicetest.Reply(req, protocol.RespMemoryGet, []byte{5, 0, 0xff})}
		}
		return []vicetest.Frame{vicetest.Ack(req)}
	}
	h := newHarness(t, handler, testConfig())

	bad := h.push(t, protocol.MemoryGetCommand{StartAddress: 0x1000, EndAddress: 0x1004}, false)
	_, err := wait(t, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrDecode))
	assert.Equal(t, queue.StatusFailed, bad.Status())

	_, err = wait(t, h.push(t, protocol.PingCommand{}, false))
	require.NoError(t, err)
	assert.Equal(t, 1, h.srv.Accepted())
}

func TestServeErrorCodeReturnsResponse(t *testing.T) {
	h := newHarness(t, vicetest.NewEmulator().Handle, testConfig())

	p := h.push(t, protocol.CheckpointGetCommand{Number: 42}, false)
	resp, err := wait(t, p)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.True(t, errors.Is(err, protocol.ErrResponse))
	assert.Equal(t, protocol.ErrorObjectMissing, resp.Header().ErrorCode)

	var re *protocol.ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, protocol.ErrorObjectMissing, re.Code)
	assert.Equal(t, queue.StatusSucceeded, p.Status())
}
