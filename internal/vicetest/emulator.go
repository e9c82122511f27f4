package vicetest

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// Register ids used by the fake 6502 CPU.
const (
	RegA  uint8 = 0
	RegX  uint8 = 1
	RegY  uint8 = 2
	RegPC uint8 = 3
	RegSP uint8 = 4
)

const (
	jiffyStart = 0x00a0
	jiffyEnd   = 0x00a2
)

type checkpoint struct {
	number    uint32
	start     uint16
	end       uint16
	stop      bool
	enabled   bool
	operation protocol.CpuOperation
	temporary bool
	memspace  protocol.MemSpace
}

// Emulator is a small stateful machine behind the fake monitor. While
// running, every read of the jiffy clock sees it advance; while paused it
// stands still. Exit resumes and announces it with an unsolicited frame.
type Emulator struct {
	mu          sync.Mutex
	mem         [0x10000]byte
	regs        map[uint8]uint16
	checkpoints map[uint32]checkpoint
	nextCP      uint32
	paused      bool
	keyboard    []string
}

// NewEmulator returns a running machine with PC at $E5CD.
func NewEmulator() *Emulator {
	return &Emulator{
		regs:        map[uint8]uint16{RegA: 0, RegX: 0, RegY: 0, RegPC: 0xe5cd, RegSP: 0xf3},
		checkpoints: make(map[uint32]checkpoint),
		nextCP:      1,
	}
}

// SetPaused controls whether the jiffy clock advances.
func (e *Emulator) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
}

func (e *Emulator) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Poke writes data at addr.
func (e *Emulator) Poke(addr uint16, data ...byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.mem[addr:], data)
}

// Peek returns n bytes from addr.
func (e *Emulator) Peek(addr uint16, n int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.mem[int(addr):int(addr)+n]...)
}

func (e *Emulator) Register(id uint8) uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[id]
}

// Typed returns every keyboard feed received.
func (e *Emulator) Typed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.keyboard...)
}

// Handle implements Handler.
func (e *Emulator) Handle(req Request) []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := req.Content
	switch req.Type {
	case protocol.CmdMemoryGet:
		start, end := binary.LittleEndian.Uint16(c[1:]), binary.LittleEndian.Uint16(c[3:])
		if start <= jiffyStart && end >= jiffyEnd && !e.paused {
			e.tickJiffy()
		}
		data := e.mem[int(start) : int(end)+1]
		body := make([]byte, 2+len(data))
		binary.LittleEndian.PutUint16(body, uint16(len(data)))
		copy(body[2:], data)
		return []Frame{Reply(req, protocol.RespMemoryGet, body)}

	case protocol.CmdMemorySet:
		start := binary.LittleEndian.Uint16(c[1:])
		copy(e.mem[start:], c[8:])
		return []Frame{Reply(req, protocol.RespMemorySet, nil)}

	case protocol.CmdCheckpointSet:
		cp := checkpoint{
			number:    e.nextCP,
			start:     binary.LittleEndian.Uint16(c[0:]),
			end:       binary.LittleEndian.Uint16(c[2:]),
			stop:      c[4] == 1,
			enabled:   c[5] == 1,
			operation: protocol.CpuOperation(c[6]),
			temporary: c[7] == 1,
		}
		if len(c) > 8 {
			cp.memspace = protocol.MemSpace(c[8])
		}
		e.nextCP++
		e.checkpoints[cp.number] = cp
		return []Frame{Reply(req, protocol.RespCheckpointInfo, checkpointBody(cp))}

	case protocol.CmdCheckpointGet:
		cp, ok := e.checkpoints[binary.LittleEndian.Uint32(c)]
		if !ok {
			return []Frame{Fail(req, protocol.RespCheckpointInfo, protocol.ErrorObjectMissing)}
		}
		return []Frame{Reply(req, protocol.RespCheckpointInfo, checkpointBody(cp))}

	case protocol.CmdCheckpointDelete:
		n := binary.LittleEndian.Uint32(c)
		if _, ok := e.checkpoints[n]; !ok {
			return []Frame{Fail(req, protocol.RespCheckpointDelete, protocol.ErrorObjectMissing)}
		}
		delete(e.checkpoints, n)
		return []Frame{Reply(req, protocol.RespCheckpointDelete, nil)}

	case protocol.CmdCheckpointToggle:
		n := binary.LittleEndian.Uint32(c)
		cp, ok := e.checkpoints[n]
		if !ok {
			return []Frame{Fail(req, protocol.RespCheckpointToggle, protocol.ErrorObjectMissing)}
		}
		cp.enabled = c[4] == 1
		e.checkpoints[n] = cp
		return []Frame{Reply(req, protocol.RespCheckpointToggle, nil)}

	case protocol.CmdCheckpointList:
		numbers := make([]uint32, 0, len(e.checkpoints))
		for n := range e.checkpoints {
			numbers = append(numbers, n)
		}
		sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
		frames := make([]Frame, 0, len(numbers)+1)
		for _, n := range numbers {
			frames = append(frames, Reply(req, protocol.RespCheckpointInfo, checkpointBody(e.checkpoints[n])))
		}
		count := make([]byte, 4)
		binary.LittleEndian.PutUint32(count, uint32(len(numbers)))
		return append(frames, Reply(req, protocol.RespCheckpointList, count))

	case protocol.CmdRegistersGet:
		return []Frame{Reply(req, protocol.RespRegisterInfo, e.registersBody())}

	case protocol.CmdRegistersSet:
		count := int(binary.LittleEndian.Uint16(c[1:]))
		off := 3
		for i := 0; i < count; i++ {
			size := int(c[off])
			e.regs[c[off+1]] = binary.LittleEndian.Uint16(c[off+2:])
			off += 1 + size
		}
		return []Frame{Reply(req, protocol.RespRegisterInfo, e.registersBody())}

	case protocol.CmdKeyboardFeed:
		e.keyboard = append(e.keyboard, string(c[1:1+int(c[0])]))
		return []Frame{Ack(req)}

	case protocol.CmdInfo:
		body := []byte{4, 3, 8, 0, 0, 4, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(body[6:], 43210)
		return []Frame{Reply(req, protocol.RespInfo, body)}

	case protocol.CmdBanksAvailable:
		return []Frame{Reply(req, protocol.RespBanksAvailable, banksBody(map[uint16]string{0: "default", 1: "cpu", 2: "ram"}))}

	case protocol.CmdDisplayGet:
		return []Frame{Reply(req, protocol.RespDisplayGet, displayBody(4, 2, []byte{0, 1, 2, 3, 4, 5, 6, 7}))}

	case protocol.CmdExit:
		e.paused = false
		pc := make([]byte, 2)
		binary.LittleEndian.PutUint16(pc, e.regs[RegPC])
		return []Frame{Ack(req), Event(protocol.RespResumed, pc)}
	}
	return []Frame{Ack(req)}
}

// Fail answers req with a bodiless frame carrying code.
func Fail(req Request, t protocol.ResponseType, code protocol.ErrorCode) Frame {
	return Frame{Type: t, Error: code, RequestID: req.RequestID}
}

// StoppedEvent is the unsolicited frame VICE sends when the CPU halts at pc.
func StoppedEvent(pc uint16) Frame {
	body := make([]byte, 2)
	binary.LittleEndian.PutUint16(body, pc)
	return Event(protocol.RespStopped, body)
}

func (e *Emulator) tickJiffy() {
	for addr := jiffyEnd; addr >= jiffyStart; addr-- {
		e.mem[addr]++
		if e.mem[addr] != 0 {
			return
		}
	}
}

func (e *Emulator) registersBody() []byte {
	ids := make([]int, 0, len(e.regs))
	for id := range e.regs {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	body := make([]byte, 2, 2+len(ids)*4)
	binary.LittleEndian.PutUint16(body, uint16(len(ids)))
	for _, id := range ids {
		body = append(body, 3, uint8(id))
		body = binary.LittleEndian.AppendUint16(body, e.regs[uint8(id)])
	}
	return body
}

func checkpointBody(cp checkpoint) []byte {
	body := make([]byte, 0, 23)
	body = binary.LittleEndian.AppendUint32(body, cp.number)
	body = append(body, 0)
	body = binary.LittleEndian.AppendUint16(body, cp.start)
	body = binary.LittleEndian.AppendUint16(body, cp.end)
	body = append(body, flag(cp.stop), flag(cp.enabled), byte(cp.operation), flag(cp.temporary))
	body = binary.LittleEndian.AppendUint32(body, 0)
	body = binary.LittleEndian.AppendUint32(body, 0)
	body = append(body, 0, byte(cp.memspace))
	return body
}

func banksBody(banks map[uint16]string) []byte {
	ids := make([]int, 0, len(banks))
	for id := range banks {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	body := binary.LittleEndian.AppendUint16(nil, uint16(len(ids)))
	for _, id := range ids {
		name := banks[uint16(id)]
		body = append(body, byte(2+1+len(name)))
		body = binary.LittleEndian.AppendUint16(body, uint16(id))
		body = append(body, byte(len(name)))
		body = append(body, name...)
	}
	return body
}

func displayBody(width, height uint16, image []byte) []byte {
	body := binary.LittleEndian.AppendUint32(nil, 17)
	for _, v := range []uint16{width, height, 0, 0, width, height} {
		body = binary.LittleEndian.AppendUint16(body, v)
	}
	body = append(body, 8)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(image)))
	return append(body, image...)
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
