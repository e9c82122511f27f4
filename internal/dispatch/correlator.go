package dispatch

import "github.com/mattjoyce/vicebridge/internal/protocol"

// frame is one response read off the socket by the session reader.
type frame struct {
	header    protocol.FrameHeader
	resp      protocol.Response
	requestID uint32
	// err is a decode error when fatal is false, otherwise the
	// *DisconnectedError that ended the session.
	err   error
	fatal bool
}

type verdict int

const (
	// verdictUnsolicited: the frame belongs to nobody waiting.
	verdictUnsolicited verdict = iota
	// verdictPartial: the frame was absorbed into a multi-frame answer.
	verdictPartial
	// verdictComplete: the outstanding request is answered.
	verdictComplete
)

// correlator matches incoming frames against the single outstanding request.
type correlator struct {
	requestID uint32
	command   protocol.CommandType
	infos     []protocol.CheckpointInfoResponse
}

func newCorrelator(requestID uint32, command protocol.CommandType) *correlator {
	return &correlator{requestID: requestID, command: command}
}

// offer classifies f. On verdictComplete the returned response (or error) is
// the answer for the outstanding request and ownership passes to the caller.
func (c *correlator) offer(f frame) (protocol.Response, error, verdict) {
	if f.requestID != c.requestID {
		return nil, nil, verdictUnsolicited
	}
	if f.err != nil {
		return nil, f.err, verdictComplete
	}

	if c.command == protocol.CmdCheckpointList {
		switch r := f.resp.(type) {
		case *protocol.CheckpointInfoResponse:
			c.infos = append(c.infos, *r)
			return nil, nil, verdictPartial
		case *protocol.CheckpointListResponse:
			r.Checkpoints = c.infos
			c.infos = nil
			return r, nil, verdictComplete
		}
	}
	return f.resp, nil, verdictComplete
}
