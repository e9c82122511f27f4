package dispatch

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mattjoyce/vicebridge/internal/events"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// The KERNAL jiffy clock at $00A0-$00A2 advances every frame while the CPU
// runs. Two equal readings mean the emulator is sitting in the monitor.
const (
	jiffyClockStart uint16 = 0x00a0
	jiffyClockEnd   uint16 = 0x00a2
)

// AutoResumeConfig controls the paused-target probe run after commands.
type AutoResumeConfig struct {
	// Enabled runs the probe after every successful command. Requests can
	// still opt in individually when this is false.
	Enabled       bool
	SettleDelay   time.Duration
	ProbeInterval time.Duration
}

func (d *Dispatcher) shouldAutoResume(cmd protocol.CommandType, requested bool, code protocol.ErrorCode) bool {
	if code != protocol.ErrorOK {
		return false
	}
	switch cmd {
	case protocol.CmdExit, protocol.CmdQuit:
		return false
	}
	return d.cfg.AutoResume.Enabled || requested
}

// autoResume reads the jiffy clock twice and sends Exit when it has not
// moved. Probe failures are treated as "running"; only a session failure is
// returned.
func (d *Dispatcher) autoResume(ctx context.Context, s *session) error {
	cfg := d.cfg.AutoResume

	if !sleepCtx(ctx, cfg.SettleDelay) {
		return nil
	}
	first, err := d.readJiffyClock(ctx, s)
	if err != nil {
		return d.probeFailed(s, "first read", err)
	}
	if !sleepCtx(ctx, cfg.ProbeInterval) {
		return nil
	}
	second, err := d.readJiffyClock(ctx, s)
	if err != nil {
		return d.probeFailed(s, "second read", err)
	}

	if !bytes.Equal(first, second) {
		s.logger.Debug("target running, no resume needed")
		return nil
	}

	clock := hex.EncodeToString(first)
	resp, requestID, err := d.roundTrip(ctx, s, protocol.ExitCommand{}, true)
	if err != nil {
		return d.probeFailed(s, "resume", err)
	}
	code := resp.Header().ErrorCode
	resp.Release()

	s.logger.Info("target was paused, sent resume", "jiffy_clock", clock, "request_id", requestID, "error_code", code.String())
	if d.hub != nil {
		d.hub.Publish(events.TypeAutoResume, map[string]any{
			"request_id":  requestID,
			"jiffy_clock": clock,
			"error_code":  code.String(),
		})
	}
	return nil
}

func (d *Dispatcher) readJiffyClock(ctx context.Context, s *session) ([]byte, error) {
	resp, _, err := d.roundTrip(ctx, s, protocol.MemoryGetCommand{
		StartAddress: jiffyClockStart,
		EndAddress:   jiffyClockEnd,
		MemSpace:     protocol.MemSpaceMain,
	}, true)
	if err != nil {
		return nil, err
	}
	defer resp.Release()

	if err := protocol.CheckResponse(resp); err != nil {
		return nil, err
	}
	mem, ok := resp.(*protocol.MemoryGetResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected %s response to memory read", resp.Type())
	}
	return bytes.Clone(mem.Bytes()), nil
}

func (d *Dispatcher) probeFailed(s *session, stage string, err error) error {
	if sessionFatal(err) {
		return err
	}
	s.logger.Debug("auto-resume probe failed, assuming target is running", "stage", stage, "error", err)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
