package history

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// DefaultBacklog bounds the entries waiting to be written.
const DefaultBacklog = 1024

// Recorder is the dispatcher's history sink. Record calls encode the frame
// immediately, since pooled payloads are released as soon as they return,
// and hand the row to a single writer goroutine. When the backlog is full
// the row is dropped and counted.
type Recorder struct {
	store   *Store
	entries chan Entry
	logger  *slog.Logger
	now     func() time.Time

	dropped atomic.Int64
	pending sync.WaitGroup
}

func NewRecorder(store *Store, backlog int) *Recorder {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Recorder{
		store:   store,
		entries: make(chan Entry, backlog),
		logger:  log.WithComponent("history"),
		now:     time.Now,
	}
}

func (r *Recorder) RecordSent(requestID uint32, cmd protocol.Command, internal bool) {
	var data []byte
	if set, ok := cmd.(protocol.MemorySetCommand); ok {
		data = set.Data
	}
	r.enqueue(r.entry(requestID, DirectionSent, cmd.Type().String(), internal, nil, cmd, data))
}

func (r *Recorder) RecordResponse(requestID uint32, resp protocol.Response) {
	code := resp.Header().ErrorCode
	r.enqueue(r.entry(requestID, DirectionResponse, resp.Type().String(), false, &code, resp, protocol.Payload(resp)))
}

func (r *Recorder) RecordUnsolicited(requestID uint32, resp protocol.Response) {
	code := resp.Header().ErrorCode
	r.enqueue(r.entry(requestID, DirectionUnsolicited, resp.Type().String(), false, &code, resp, protocol.Payload(resp)))
}

// Dropped returns the number of entries discarded because the writer fell
// behind.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Flush blocks until every accepted entry has been written or ctx ends.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run writes queued entries until ctx is cancelled, then writes whatever is
// still buffered before returning.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.entries:
			r.write(ctx, e)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-r.entries:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	defer r.pending.Done()
	if err := r.store.Insert(ctx, e); err != nil {
		r.logger.Warn("history write failed", "error", err, "request_id", e.RequestID, "kind", e.Kind)
	}
}

func (r *Recorder) enqueue(e Entry) {
	r.pending.Add(1)
	select {
	case r.entries <- e:
	default:
		r.pending.Done()
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("history backlog full, dropping entries", "dropped", n)
		}
	}
}

func (r *Recorder) entry(requestID uint32, dir Direction, kind string, internal bool, code *protocol.ErrorCode, msg any, data []byte) Entry {
	e := Entry{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		Direction:   dir,
		Kind:        kind,
		Internal:    internal,
		ErrorCode:   code,
		PayloadSize: len(data),
		CreatedAt:   r.now(),
	}
	if len(data) > 0 {
		sum := blake3.Sum256(data)
		e.PayloadDigest = hex.EncodeToString(sum[:])
	}
	payload, err := cbor.Marshal(Envelope{Message: msg, Data: data})
	if err != nil {
		r.logger.Debug("history payload not encodable", "error", err, "kind", kind)
		return e
	}
	e.Payload = payload
	return e
}
