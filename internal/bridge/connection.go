package bridge

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/mattjoyce/vicebridge/internal/events"
)

// run is the connection loop: wait for the port, dial, serve until the
// session ends, back off, repeat. It exits only when ctx is cancelled.
func (b *Bridge) run(ctx context.Context, port int, done chan struct{}) {
	defer close(done)
	defer func() {
		b.setConnected(false, port)
		b.setState(StateStopped)
	}()

	addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(port))
	logger := b.logger.With("addr", addr)

	for {
		if !b.awaitListener(ctx, port) {
			return
		}

		conn, err := b.dial(ctx, "tcp", addr)
		if err != nil {
			logger.Debug("dial failed", "error", err)
			if !sleepCtx(ctx, b.cfg.RetryBackoff) {
				return
			}
			continue
		}

		logger.Info("connected to monitor")
		b.setConnected(true, port)
		err = b.disp.Serve(ctx, conn)
		_ = conn.Close()
		b.setConnected(false, port)

		if ctx.Err() != nil {
			return
		}
		logger.Warn("monitor connection lost, retrying", "error", err, "backoff", b.cfg.RetryBackoff)
		if !sleepCtx(ctx, b.cfg.RetryBackoff) {
			return
		}
		b.setState(StateConnecting)
	}
}

func (b *Bridge) awaitListener(ctx context.Context, port int) bool {
	waiting := false
	for {
		if b.probe(b.cfg.Host, port) {
			return true
		}
		if !waiting {
			b.logger.Info("waiting for monitor port", "port", port)
			waiting = true
		}
		if !sleepCtx(ctx, b.cfg.PortPollInterval) {
			return false
		}
	}
}

// setConnected records a connectivity transition and notifies waiters,
// observers and the event hub outside the lock. Repeated values are ignored.
func (b *Bridge) setConnected(connected bool, port int) {
	b.mu.Lock()
	if b.connected == connected {
		b.mu.Unlock()
		return
	}
	b.connected = connected
	state := StateDisconnected
	if connected {
		state = StateConnected
	}
	b.state = state

	waiters := b.waiters
	b.waiters = nil
	observers := make([]func(bool), 0, len(b.observers))
	for id := 0; id < b.nextObsID; id++ {
		if fn, ok := b.observers[id]; ok {
			observers = append(observers, fn)
		}
	}
	b.mu.Unlock()

	for _, w := range waiters {
		w <- connected
	}
	for _, fn := range observers {
		fn(connected)
	}

	if b.hub != nil {
		eventType := events.TypeDisconnected
		if connected {
			eventType = events.TypeConnected
		}
		b.hub.Publish(eventType, map[string]any{"host": b.cfg.Host, "port": port})
		b.hub.Publish(events.TypeState, map[string]any{"state": state.String()})
	}
}

func (b *Bridge) setState(s ConnectionState) {
	b.mu.Lock()
	changed := b.state != s
	b.state = s
	b.mu.Unlock()

	if changed && b.hub != nil {
		b.hub.Publish(events.TypeState, map[string]any{"state": s.String()})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
