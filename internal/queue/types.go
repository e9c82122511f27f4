package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusTimedOut     Status = "timed_out"
	StatusDisconnected Status = "disconnected"
	StatusCanceled     Status = "canceled"
)

var (
	// ErrClosed is returned by Push once the queue stops accepting commands.
	ErrClosed = errors.New("queue closed")
	// ErrPending is returned by Result while the request is unresolved.
	ErrPending = errors.New("request not resolved")
)

// Pending is a queued command together with its single-assignment result.
type Pending struct {
	ID              string
	Command         protocol.Command
	ResumeOnStopped bool
	EnqueuedAt      time.Time

	status    atomic.Value // Status
	once      sync.Once
	done      chan struct{}
	resp      protocol.Response
	err       error
	abandoned atomic.Bool
	released  atomic.Bool
}

// NewPending wraps cmd in a fresh pending request.
func NewPending(cmd protocol.Command, resumeOnStopped bool) *Pending {
	p := &Pending{
		ID:              uuid.NewString(),
		Command:         cmd,
		ResumeOnStopped: resumeOnStopped,
		EnqueuedAt:      time.Now().UTC(),
		done:            make(chan struct{}),
	}
	p.status.Store(StatusQueued)
	return p
}

// Status returns the lifecycle state of the request.
func (p *Pending) Status() Status {
	return p.status.Load().(Status)
}

// MarkRunning claims a queued request for sending. It returns false when
// the request was cancelled first; such a request must not be sent.
func (p *Pending) MarkRunning() bool {
	return p.status.CompareAndSwap(StatusQueued, StatusRunning)
}

// Cancel withdraws a request that has not been sent yet and resolves it with
// cause. It returns false once the request is running or resolved.
func (p *Pending) Cancel(cause error) bool {
	if !p.status.CompareAndSwap(StatusQueued, StatusCanceled) {
		return false
	}
	p.once.Do(func() {
		p.err = cause
		close(p.done)
	})
	return true
}

// Resolve completes the request. Only the first call has any effect; it
// reports whether this call was the one that resolved it.
func (p *Pending) Resolve(resp protocol.Response, err error, status Status) bool {
	resolved := false
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		p.status.Store(status)
		close(p.done)
		resolved = true
	})
	if resolved && p.abandoned.Load() {
		p.releaseResponse()
	}
	return resolved
}

// Done is closed once the request is resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Resolved reports whether the request has an outcome.
func (p *Pending) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result returns the recorded outcome, or ErrPending while unresolved.
func (p *Pending) Result() (protocol.Response, error) {
	if !p.Resolved() {
		return nil, ErrPending
	}
	return p.resp, p.err
}

// Wait blocks until the request resolves or ctx ends. A response carrying a
// non-OK error code is returned together with a *protocol.ResponseError.
// The caller owns the response and must Release it.
//
// When ctx ends first the request is abandoned: if still queued it is
// cancelled and never sent, otherwise its late reply is released on arrival.
func (p *Pending) Wait(ctx context.Context) (protocol.Response, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if !p.Resolved() {
			p.abandon(ctx.Err())
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return p.resp, p.err
	}
	return p.resp, protocol.CheckResponse(p.resp)
}

func (p *Pending) abandon(cause error) {
	if p.Cancel(cause) {
		return
	}
	p.abandoned.Store(true)
	if p.Resolved() {
		p.releaseResponse()
	}
}

func (p *Pending) releaseResponse() {
	if p.resp != nil && p.released.CompareAndSwap(false, true) {
		p.resp.Release()
	}
}
