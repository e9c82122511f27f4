package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vicebridge/internal/protocol"
)

func TestCorrelatorMatchesByRequestID(t *testing.T) {
	c := newCorrelator(7, protocol.CmdPing)

	stray := &protocol.EmptyResponse{Kind: protocol.RespPing}
	_, _, v := c.offer(frame{resp: stray, requestID: protocol.UnsolicitedRequestID})
	assert.Equal(t, verdictUnsolicited, v)

	_, _, v = c.offer(frame{resp: stray, requestID: 6})
	assert.Equal(t, verdictUnsolicited, v)

	answer := &protocol.EmptyResponse{Kind: protocol.RespPing}
	resp, err, v := c.offer(frame{resp: answer, requestID: 7})
	require.NoError(t, err)
	assert.Equal(t, verdictComplete, v)
	assert.Same(t, answer, resp)
}

func TestCorrelatorAggregatesCheckpointList(t *testing.T) {
	c := newCorrelator(3, protocol.CmdCheckpointList)

	for _, n := range []uint32{1, 2} {
		_, _, v := c.offer(frame{resp: &protocol.CheckpointInfoResponse{Number: n}, requestID: 3})
		assert.Equal(t, verdictPartial, v)
	}
	// A checkpoint hit reported by the emulator is not part of the list.
	_, _, v := c.offer(frame{resp: &protocol.CheckpointInfoResponse{Number: 9}, requestID: protocol.UnsolicitedRequestID})
	assert.Equal(t, verdictUnsolicited, v)

	resp, err, v := c.offer(frame{resp: &protocol.CheckpointListResponse{Count: 2}, requestID: 3})
	require.NoError(t, err)
	require.Equal(t, verdictComplete, v)

	list := resp.(*protocol.CheckpointListResponse)
	require.Len(t, list.Checkpoints, 2)
	assert.Equal(t, uint32(1), list.Checkpoints[0].Number)
	assert.Equal(t, uint32(2), list.Checkpoints[1].Number)
}

func TestCorrelatorCheckpointInfoAnswersOtherCommands(t *testing.T) {
	c := newCorrelator(4, protocol.CmdCheckpointSet)

	info := &protocol.CheckpointInfoResponse{Number: 5}
	resp, err, v := c.offer(frame{resp: info, requestID: 4})
	require.NoError(t, err)
	assert.Equal(t, verdictComplete, v)
	assert.Same(t, info, resp)
}

func TestCorrelatorDecodeErrorCompletes(t *testing.T) {
	c := newCorrelator(2, protocol.CmdMemoryGet)
	decodeErr := &protocol.DecodeError{Type: protocol.RespMemoryGet, Reason: "short"}

	resp, err, v := c.offer(frame{err: decodeErr, requestID: 2})
	assert.Nil(t, resp)
	assert.Equal(t, verdictComplete, v)
	assert.True(t, errors.Is(err, protocol.ErrDecode))
}
