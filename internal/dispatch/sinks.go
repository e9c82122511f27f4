package dispatch

import (
	"time"

	"github.com/mattjoyce/vicebridge/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_sinks.go -package=mocks github.com/mattjoyce/vicebridge/internal/dispatch HistorySink,PerformanceSink

// HistorySink records traffic for later inspection. Calls are made from the
// dispatch loop; implementations must not block for long and must not keep
// references to response payloads after returning.
type HistorySink interface {
	RecordSent(requestID uint32, cmd protocol.Command, internal bool)
	RecordResponse(requestID uint32, resp protocol.Response)
	RecordUnsolicited(requestID uint32, resp protocol.Response)
}

// PerformanceSink receives timing and volume signals from the dispatch loop.
type PerformanceSink interface {
	CommandSent(cmd protocol.CommandType)
	ResponseReceived(resp protocol.ResponseType, code protocol.ErrorCode, elapsed time.Duration)
	CommandTimedOut(cmd protocol.CommandType)
	UnsolicitedReceived(resp protocol.ResponseType)
}

// NopHistory discards everything.
type NopHistory struct{}

func (NopHistory) RecordSent(uint32, protocol.Command, bool) {}
func (NopHistory) RecordResponse(uint32, protocol.Response) {}
func (NopHistory) RecordUnsolicited(uint32, protocol.Response) {}

// NopPerformance discards everything.
type NopPerformance struct{}

func (NopPerformance) CommandSent(protocol.CommandType) {}
func (NopPerformance) ResponseReceived(protocol.ResponseType, protocol.ErrorCode, time.Duration) {}
func (NopPerformance) CommandTimedOut(protocol.CommandType) {}
func (NopPerformance) UnsolicitedReceived(protocol.ResponseType) {}
