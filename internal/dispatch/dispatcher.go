package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/vicebridge/internal/buffer"
	"github.com/mattjoyce/vicebridge/internal/events"
	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/protocol"
	"github.com/mattjoyce/vicebridge/internal/queue"
)

const tracerName = "github.com/mattjoyce/vicebridge/internal/dispatch"

// frameBacklog bounds how far the session reader may run ahead of the loop.
const frameBacklog = 16

// Config holds the dispatch timings.
type Config struct {
	// ResponseTimeout bounds the wait for a correlated response.
	ResponseTimeout time.Duration
	// WriteTimeout bounds a single frame write. Zero disables the deadline.
	WriteTimeout time.Duration
	AutoResume   AutoResumeConfig
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: 5 * time.Second,
		WriteTimeout:    5 * time.Second,
		AutoResume: AutoResumeConfig{
			Enabled:       true,
			SettleDelay:   20 * time.Millisecond,
			ProbeInterval: 50 * time.Millisecond,
		},
	}
}

// Dispatcher drains the command queue over one socket session at a time,
// keeping exactly one request in flight.
type Dispatcher struct {
	queue   *queue.Queue
	cfg     Config
	history HistorySink
	perf    PerformanceSink
	hub     *events.Hub
	logger  *slog.Logger
	tracer  trace.Tracer

	nextID atomic.Uint32
	busy   atomic.Bool

	mu        sync.Mutex
	observers map[int]func(uint32, protocol.Response)
	nextObsID int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithHistory(h HistorySink) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.history = h
		}
	}
}

func WithPerformance(p PerformanceSink) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.perf = p
		}
	}
}

func WithEvents(h *events.Hub) Option {
	return func(d *Dispatcher) { d.hub = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New creates a Dispatcher reading from q.
func New(q *queue.Queue, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:     q,
		cfg:       cfg,
		history:   NopHistory{},
		perf:      NopPerformance{},
		logger:    log.WithComponent("dispatch"),
		tracer:    otel.Tracer(tracerName),
		observers: make(map[int]func(uint32, protocol.Response)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.ResponseTimeout <= 0 {
		d.cfg.ResponseTimeout = DefaultConfig().ResponseTimeout
	}
	return d
}

// OnUnsolicited registers fn for every frame that does not answer the
// outstanding request. fn runs on the dispatch loop and must not retain the
// response. The returned func unregisters it.
func (d *Dispatcher) OnUnsolicited(fn func(requestID uint32, resp protocol.Response)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// LastRequestID returns the id of the most recently sent frame, or 0 if
// nothing has been sent yet.
func (d *Dispatcher) LastRequestID() uint32 {
	return d.nextID.Load()
}

// Busy reports whether a request (or its auto-resume follow-up) is in flight.
func (d *Dispatcher) Busy() bool {
	return d.busy.Load()
}

// Idle reports whether the queue is empty and nothing is in flight.
func (d *Dispatcher) Idle() bool {
	// Depth is read before busy: the loop raises busy before it pops.
	return d.queue.Depth() == 0 && !d.busy.Load()
}

// session is one connected socket.
type session struct {
	conn   net.Conn
	frames chan frame
	done   chan struct{}
	logger *slog.Logger
}

// Serve runs the dispatch loop over conn until the session fails or ctx ends.
// On a session failure every queued request is resolved with the
// disconnection error, which is also returned. On ctx cancellation only the
// in-flight request is faulted and ctx.Err() is returned. The caller closes
// conn after Serve returns.
func (d *Dispatcher) Serve(ctx context.Context, conn net.Conn) error {
	s := &session{
		conn:   conn,
		frames: make(chan frame, frameBacklog),
		done:   make(chan struct{}),
		logger: d.logger.With("remote", conn.RemoteAddr().String()),
	}
	defer close(s.done)
	go d.readFrames(s)

	s.logger.Debug("dispatch session started")
	err := d.serve(ctx, s)
	if ctx.Err() != nil {
		s.logger.Debug("dispatch session cancelled")
		return ctx.Err()
	}

	n := d.queue.FailAll(err, queue.StatusDisconnected)
	s.logger.Warn("dispatch session ended", "error", err, "faulted", n)
	return err
}

func (d *Dispatcher) serve(ctx context.Context, s *session) error {
	for {
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.busy.Store(true)
			p := d.queue.Pop()
			if p == nil {
				d.busy.Store(false)
				break
			}
			err := d.execute(ctx, s, p)
			d.busy.Store(false)
			if err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.queue.Ready():
		case f := <-s.frames:
			if f.fatal {
				return f.err
			}
			d.unsolicited(s, f)
		}
	}
}

// execute performs one caller's round trip and, when applicable, the
// auto-resume follow-up. A non-nil return ends the session.
func (d *Dispatcher) execute(ctx context.Context, s *session, p *queue.Pending) error {
	logger := d.logger.With(slog.String("command_id", p.ID))
	if !p.MarkRunning() {
		logger.Debug("skipping cancelled command", "command", p.Command.Type().String())
		return nil
	}

	started := time.Now()
	resp, requestID, err := d.roundTrip(ctx, s, p.Command, false)
	logger = log.WithRequest(logger, requestID)

	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		logger.Warn("command timed out", "command", p.Command.Type().String(), "after", d.cfg.ResponseTimeout)
		p.Resolve(nil, err, queue.StatusTimedOut)
		d.publishCommand(p, requestID, queue.StatusTimedOut, 0, time.Since(started))
		return nil
	case sessionFatal(err):
		p.Resolve(nil, err, queue.StatusDisconnected)
		return err
	default:
		logger.Warn("command failed", "command", p.Command.Type().String(), "error", err)
		p.Resolve(nil, err, queue.StatusFailed)
		d.publishCommand(p, requestID, queue.StatusFailed, 0, time.Since(started))
		return nil
	}

	// resp belongs to the caller once resolved; capture what we need first.
	code := resp.Header().ErrorCode
	resumable := d.shouldAutoResume(p.Command.Type(), p.ResumeOnStopped, code)

	p.Resolve(resp, nil, queue.StatusSucceeded)
	logger.Debug("command completed",
		"command", p.Command.Type().String(),
		"error_code", code.String(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	d.publishCommand(p, requestID, queue.StatusSucceeded, code, time.Since(started))

	if !resumable {
		return nil
	}
	return d.autoResume(ctx, s)
}

// roundTrip sends cmd with the next request id and waits for its answer.
func (d *Dispatcher) roundTrip(ctx context.Context, s *session, cmd protocol.Command, internal bool) (protocol.Response, uint32, error) {
	ctx, span := d.tracer.Start(ctx, "vice.round_trip", trace.WithAttributes(
		attribute.String("vice.command", cmd.Type().String()),
		attribute.Bool("vice.internal", internal),
	))
	defer span.End()

	requestID := d.allocateID()
	span.SetAttributes(attribute.Int64("vice.request_id", int64(requestID)))

	var resp protocol.Response
	err := d.send(s, cmd, requestID)
	if err == nil {
		d.history.RecordSent(requestID, cmd, internal)
		d.perf.CommandSent(cmd.Type())
		resp, err = d.await(ctx, s, cmd.Type(), requestID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, requestID, err
	}

	span.SetAttributes(attribute.String("vice.error_code", resp.Header().ErrorCode.String()))
	return resp, requestID, nil
}

func (d *Dispatcher) allocateID() uint32 {
	for {
		id := d.nextID.Add(1)
		if id != protocol.UnsolicitedRequestID {
			return id
		}
	}
}

func (d *Dispatcher) send(s *session, cmd protocol.Command, requestID uint32) error {
	buf := protocol.EncodeCommand(cmd, requestID)
	defer buf.Release()

	if d.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
	}
	if _, err := s.conn.Write(buf.Bytes()); err != nil {
		return &DisconnectedError{Cause: err}
	}
	return nil
}

func (d *Dispatcher) await(ctx context.Context, s *session, cmd protocol.CommandType, requestID uint32) (protocol.Response, error) {
	timer := time.NewTimer(d.cfg.ResponseTimeout)
	defer timer.Stop()

	started := time.Now()
	c := newCorrelator(requestID, cmd)
	for {
		select {
		case <-ctx.Done():
			return nil, &DisconnectedError{Cause: ctx.Err()}
		case <-timer.C:
			d.perf.CommandTimedOut(cmd)
			return nil, &TimeoutError{RequestID: requestID, Command: cmd, After: d.cfg.ResponseTimeout}
		case f := <-s.frames:
			if f.fatal {
				return nil, f.err
			}
			resp, err, v := c.offer(f)
			switch v {
			case verdictPartial:
				d.history.RecordResponse(requestID, f.resp)
				continue
			case verdictUnsolicited:
				d.unsolicited(s, f)
				continue
			}
			if err != nil {
				return nil, err
			}
			d.history.RecordResponse(requestID, resp)
			d.perf.ResponseReceived(resp.Type(), resp.Header().ErrorCode, time.Since(started))
			return resp, nil
		}
	}
}

// unsolicited hands a frame nobody is waiting for to history, observers and
// the event hub, then releases it.
func (d *Dispatcher) unsolicited(s *session, f frame) {
	if f.err != nil {
		s.logger.Warn("dropping undecodable frame", "request_id", f.requestID, "type", f.header.Type.String(), "error", f.err)
		return
	}
	defer f.resp.Release()

	d.history.RecordUnsolicited(f.requestID, f.resp)
	d.perf.UnsolicitedReceived(f.resp.Type())

	d.mu.Lock()
	observers := make([]func(uint32, protocol.Response), 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.mu.Unlock()
	for _, fn := range observers {
		fn(f.requestID, f.resp)
	}

	if d.hub != nil {
		d.hub.Publish(events.TypeUnsolicited, unsolicitedEvent{
			RequestID: f.requestID,
			Type:      f.resp.Type().String(),
			ErrorCode: f.resp.Header().ErrorCode.String(),
			Response:  f.resp,
		})
	}
}

// readFrames decodes response frames until the socket fails or the session
// ends. It never writes.
func (d *Dispatcher) readFrames(s *session) {
	var hdr [protocol.ResponseHeaderSize]byte
	for {
		if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
			d.deliver(s, frame{err: &DisconnectedError{Cause: err}, fatal: true})
			return
		}
		h, err := protocol.DecodeHeader(hdr[:])
		if err != nil {
			d.deliver(s, frame{err: &DisconnectedError{Cause: err}, fatal: true})
			return
		}

		body := buffer.Get(int(h.BodyLength))
		if _, err := io.ReadFull(s.conn, body.Bytes()); err != nil {
			body.Release()
			d.deliver(s, frame{err: &DisconnectedError{Cause: err}, fatal: true})
			return
		}
		resp, requestID, err := protocol.DecodeBody(h, body.Bytes())
		body.Release()

		if !d.deliver(s, frame{header: h, resp: resp, requestID: requestID, err: err}) {
			return
		}
	}
}

func (d *Dispatcher) deliver(s *session, f frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.done:
		if f.resp != nil {
			f.resp.Release()
		}
		return false
	}
}

type unsolicitedEvent struct {
	RequestID uint32            `json:"request_id"`
	Type      string            `json:"type"`
	ErrorCode string            `json:"error_code"`
	Response  protocol.Response `json:"response"`
}

type commandEvent struct {
	CommandID  string       `json:"command_id"`
	Command    string       `json:"command"`
	RequestID  uint32       `json:"request_id"`
	Status     queue.Status `json:"status"`
	ErrorCode  string       `json:"error_code,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

func (d *Dispatcher) publishCommand(p *queue.Pending, requestID uint32, status queue.Status, code protocol.ErrorCode, elapsed time.Duration) {
	if d.hub == nil {
		return
	}
	ev := commandEvent{
		CommandID:  p.ID,
		Command:    p.Command.Type().String(),
		RequestID:  requestID,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
	}
	if status == queue.StatusSucceeded {
		ev.ErrorCode = code.String()
	}
	d.hub.Publish(events.TypeCommand, ev)
}
