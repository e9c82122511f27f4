// Package bridge owns the connection to a VICE binary monitor: it waits for
// the emulator's port, keeps one socket session alive, and feeds queued
// commands to the dispatcher over it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mattjoyce/vicebridge/internal/dispatch"
	"github.com/mattjoyce/vicebridge/internal/events"
	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/protocol"
	"github.com/mattjoyce/vicebridge/internal/queue"
)

// DefaultPort is the binary monitor port VICE listens on unless told otherwise.
const DefaultPort = 6502

var (
	// ErrNotStarted is returned by Enqueue before Start or after Stop.
	ErrNotStarted = errors.New("bridge not started")
	// ErrStopping is returned by Enqueue while a draining Stop is in progress.
	ErrStopping = errors.New("bridge is stopping")
)

// Config holds connection settings.
type Config struct {
	Host             string
	Port             int
	PortPollInterval time.Duration
	RetryBackoff     time.Duration
	DialTimeout      time.Duration
	Dispatch         dispatch.Config
}

// DefaultConfig returns settings for a local emulator on the stock port.
func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             DefaultPort,
		PortPollInterval: 500 * time.Millisecond,
		RetryBackoff:     time.Second,
		DialTimeout:      2 * time.Second,
		Dispatch:         dispatch.DefaultConfig(),
	}
}

// DialFunc opens the monitor socket.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseDraining
)

// Bridge is the public face of the monitor client.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	hub    *events.Hub
	probe  PortProbe
	dial   DialFunc

	queue *queue.Queue
	disp  *dispatch.Dispatcher

	lifecycle sync.Mutex
	phase     phase
	port      int
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	connected bool
	state     ConnectionState
	observers map[int]func(bool)
	nextObsID int
	waiters   []chan bool
}

// Option configures a Bridge.
type Option func(*options)

type options struct {
	history dispatch.HistorySink
	perf    dispatch.PerformanceSink
	hub     *events.Hub
	logger  *slog.Logger
	probe   PortProbe
	dial    DialFunc
}

func WithHistory(h dispatch.HistorySink) Option {
	return func(o *options) { o.history = h }
}

func WithPerformance(p dispatch.PerformanceSink) Option {
	return func(o *options) { o.perf = p }
}

func WithEvents(h *events.Hub) Option {
	return func(o *options) { o.hub = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPortProbe replaces the listener check run before each dial.
func WithPortProbe(p PortProbe) Option {
	return func(o *options) { o.probe = p }
}

func WithDialer(d DialFunc) Option {
	return func(o *options) { o.dial = d }
}

// New creates a stopped bridge.
func New(cfg Config, opts ...Option) *Bridge {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.PortPollInterval <= 0 {
		cfg.PortPollInterval = def.PortPollInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	b := &Bridge{
		cfg:       cfg,
		logger:    o.logger,
		hub:       o.hub,
		probe:     o.probe,
		dial:      o.dial,
		queue:     queue.New(),
		observers: make(map[int]func(bool)),
	}
	if b.logger == nil {
		b.logger = log.WithComponent("bridge")
	}
	if b.probe == nil {
		b.probe = probeListener
	}
	if b.dial == nil {
		b.dial = (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext
	}
	b.disp = dispatch.New(b.queue, cfg.Dispatch,
		dispatch.WithHistory(o.history),
		dispatch.WithPerformance(o.perf),
		dispatch.WithEvents(o.hub),
	)
	return b
}

// Start launches the connection loop against port, or the configured port
// when port is 0. Calling Start on a running bridge logs and does nothing.
func (b *Bridge) Start(port int) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.phase != phaseIdle {
		b.logger.Warn("bridge already started", "port", b.port)
		return nil
	}
	if port == 0 {
		port = b.cfg.Port
	}
	if err := validPort(port); err != nil {
		return err
	}

	b.queue.Reopen()
	ctx, cancel := context.WithCancel(context.Background())
	b.phase = phaseRunning
	b.port = port
	b.cancel = cancel
	b.done = make(chan struct{})
	b.setState(StateConnecting)

	b.logger.Info("bridge started", "host", b.cfg.Host, "port", port)
	go b.run(ctx, port, b.done)
	return nil
}

// Stop ends the connection loop. With drain set it first refuses new
// commands and waits for the queue to empty and the in-flight request to
// finish; if ctx expires before that, it stops immediately and returns
// ctx.Err(). Draining gives up with ErrDisconnected as soon as no session is
// up, since nothing queued can be sent. Without drain, the in-flight request is faulted and queued
// commands are abandoned unresolved.
func (b *Bridge) Stop(ctx context.Context, drain bool) error {
	b.lifecycle.Lock()
	if b.phase == phaseIdle {
		b.lifecycle.Unlock()
		return nil
	}
	b.phase = phaseDraining
	b.queue.Close()
	cancel, done := b.cancel, b.done
	b.lifecycle.Unlock()

	var err error
	if drain {
		err = b.drain(ctx)
		if err != nil {
			b.logger.Warn("drain interrupted, stopping now", "error", err, "queued", b.queue.Depth())
		}
	}

	cancel()
	<-done
	abandoned := b.queue.Abandon()

	b.lifecycle.Lock()
	b.phase = phaseIdle
	b.lifecycle.Unlock()

	b.logger.Info("bridge stopped", "drained", drain && err == nil, "abandoned", abandoned)
	return err
}

func (b *Bridge) drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.disp.Idle() {
			return nil
		}
		if !b.IsConnected() {
			return fmt.Errorf("drain: %w", dispatch.ErrDisconnected)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EnqueueOption adjusts a single request.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	resumeOnStopped bool
}

// WithResumeOnStopped runs the auto-resume probe after this command even
// when auto-resume is disabled bridge-wide.
func WithResumeOnStopped() EnqueueOption {
	return func(o *enqueueOptions) { o.resumeOnStopped = true }
}

// Enqueue validates cmd and appends it to the dispatch queue.
func (b *Bridge) Enqueue(cmd protocol.Command, opts ...EnqueueOption) (*queue.Pending, error) {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	switch b.phase {
	case phaseIdle:
		return nil, ErrNotStarted
	case phaseDraining:
		return nil, ErrStopping
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	p := queue.NewPending(cmd, o.resumeOnStopped)
	if err := b.queue.Push(p); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", cmd.Type(), ErrStopping)
	}
	return p, nil
}

// Do enqueues cmd and waits for its result. A non-OK response is returned
// together with a *protocol.ResponseError; the caller releases it.
func (b *Bridge) Do(ctx context.Context, cmd protocol.Command, opts ...EnqueueOption) (protocol.Response, error) {
	p, err := b.Enqueue(cmd, opts...)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// IsConnected reports whether a socket session is currently up.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// State returns the current connection state.
func (b *Bridge) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Port returns the port of the running loop, or 0 when stopped.
func (b *Bridge) Port() int {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.phase == phaseIdle {
		return 0
	}
	return b.port
}

// QueueDepth returns the number of commands waiting to be sent.
func (b *Bridge) QueueDepth() int {
	return b.queue.Depth()
}

// LastRequestID returns the id of the most recently sent frame.
func (b *Bridge) LastRequestID() uint32 {
	return b.disp.LastRequestID()
}

// OnConnectedChanged registers fn for connectivity transitions. fn runs on
// the connection loop, once per transition, in order.
func (b *Bridge) OnConnectedChanged(fn func(connected bool)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextObsID
	b.nextObsID++
	b.observers[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

// OnUnsolicited registers fn for frames not answering any request.
func (b *Bridge) OnUnsolicited(fn func(requestID uint32, resp protocol.Response)) func() {
	return b.disp.OnUnsolicited(fn)
}

// WaitForConnectionStatusChange blocks until the next connectivity
// transition and returns the new value.
func (b *Bridge) WaitForConnectionStatusChange(ctx context.Context) (bool, error) {
	ch := make(chan bool, 1)
	b.mu.Lock()
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		b.mu.Lock()
		for i, w := range b.waiters {
			if w == ch {
				b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		return false, ctx.Err()
	}
}
