package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/mattjoyce/vicebridge/internal/buffer"
)

// EncodeCommand writes the command header and content into a pooled buffer.
// The caller owns the buffer and must release it once the frame is written.
func EncodeCommand(cmd Command, requestID uint32) *buffer.Buffer {
	n := cmd.ContentLength()
	buf := buffer.Get(CommandHeaderSize + n)
	frame := buf.Bytes()

	w := writer{b: frame}
	w.u8(STX)
	w.u8(APIVersion)
	w.u32(uint32(n))
	w.u32(requestID)
	w.u8(uint8(cmd.Type()))
	cmd.WriteContent(frame[CommandHeaderSize:])
	return buf
}

// FrameHeader is a decoded response header.
type FrameHeader struct {
	APIVersion uint8
	BodyLength uint32
	Type       ResponseType
	ErrorCode  ErrorCode
	RequestID  uint32
}

// DecodeHeader parses a 12-byte response header.
func DecodeHeader(hdr []byte) (FrameHeader, error) {
	if len(hdr) < ResponseHeaderSize {
		return FrameHeader{}, &FramingError{Reason: fmt.Sprintf("short header: %d bytes", len(hdr))}
	}
	if hdr[0] != STX {
		return FrameHeader{}, &FramingError{Reason: fmt.Sprintf("expected start marker 0x%02x, got 0x%02x", STX, hdr[0])}
	}
	if hdr[1] != APIVersion {
		return FrameHeader{}, &FramingError{Reason: fmt.Sprintf("unsupported api version %d", hdr[1])}
	}
	h := FrameHeader{
		APIVersion: hdr[1],
		BodyLength: binary.LittleEndian.Uint32(hdr[2:6]),
		Type:       ResponseType(hdr[6]),
		ErrorCode:  ErrorCode(hdr[7]),
		RequestID:  binary.LittleEndian.Uint32(hdr[8:12]),
	}
	if h.BodyLength > MaxBodyLength {
		return FrameHeader{}, &FramingError{Reason: fmt.Sprintf("body length %d exceeds %d", h.BodyLength, MaxBodyLength)}
	}
	return h, nil
}

// DecodeBody builds the response variant selected by the header type. The
// body slice is not retained; payloads are copied into pooled buffers owned by
// the returned response.
func DecodeBody(h FrameHeader, body []byte) (Response, uint32, error) {
	base := ResponseHeader{APIVersion: h.APIVersion, ErrorCode: h.ErrorCode}
	r := &reader{b: body}

	var resp Response
	switch h.Type {
	case RespMemoryGet:
		resp = decodeMemoryGet(base, r)
	case RespCheckpointInfo:
		resp = decodeCheckpointInfo(base, r)
	case RespCheckpointList:
		resp = &CheckpointListResponse{ResponseHeader: base, Count: r.optU32()}
	case RespRegisterInfo:
		resp = decodeRegisters(base, r)
	case RespUndump, RespJam, RespStopped, RespResumed:
		resp = &ProgramCounterResponse{ResponseHeader: base, Kind: h.Type, ProgramCounter: r.optU16()}
	case RespResourceGet:
		resp = decodeResourceGet(base, r)
	case RespBanksAvailable:
		resp = decodeBanks(base, r)
	case RespRegistersAvailable:
		resp = decodeRegistersAvailable(base, r)
	case RespDisplayGet:
		resp = decodeDisplay(base, r)
	case RespInfo:
		resp = decodeInfo(base, r)
	case RespPaletteGet:
		resp = decodePalette(base, r)
	default:
		resp = &EmptyResponse{ResponseHeader: base, Kind: h.Type}
	}

	if r.err != nil {
		resp.Release()
		return nil, h.RequestID, &DecodeError{Type: h.Type, Reason: r.err.Error()}
	}
	return resp, h.RequestID, nil
}

func decodeMemoryGet(base ResponseHeader, r *reader) Response {
	resp := &MemoryGetResponse{ResponseHeader: base, Memory: buffer.Empty}
	if r.empty() {
		return resp
	}
	n := int(r.u16())
	// A full 64K read reports its length as 0.
	if n == 0 && r.remaining() > 0 {
		n = r.remaining()
	}
	data := r.bytes(n)
	if r.err == nil && n > 0 {
		resp.Memory = buffer.Get(n)
		copy(resp.Memory.Bytes(), data)
	}
	return resp
}

func decodeCheckpointInfo(base ResponseHeader, r *reader) Response {
	resp := &CheckpointInfoResponse{ResponseHeader: base}
	if r.empty() {
		return resp
	}
	resp.Number = r.u32()
	resp.CurrentlyHit = r.bool()
	resp.StartAddress = r.u16()
	resp.EndAddress = r.u16()
	resp.StopWhenHit = r.bool()
	resp.Enabled = r.bool()
	resp.Operation = CpuOperation(r.u8())
	resp.Temporary = r.bool()
	resp.HitCount = r.u32()
	resp.IgnoreCount = r.u32()
	resp.HasCondition = r.bool()
	if r.remaining() > 0 {
		resp.MemSpace = MemSpace(r.u8())
	}
	return resp
}

func decodeRegisters(base ResponseHeader, r *reader) Response {
	resp := &RegistersResponse{ResponseHeader: base}
	if r.empty() {
		return resp
	}
	count := int(r.u16())
	resp.Items = make([]RegisterValue, 0, min(count, r.remaining()/4))
	for i := 0; i < count && r.err == nil; i++ {
		item := r.item()
		resp.Items = append(resp.Items, RegisterValue{ID: item.u8(), Value: item.u16()})
		r.adopt(item)
	}
	return resp
}

func decodeResourceGet(base ResponseHeader, r *reader) Response {
	resp := &ResourceGetResponse{ResponseHeader: base}
	if r.empty() {
		return resp
	}
	resp.Value.Type = ResourceType(r.u8())
	n := int(r.u8())
	value := r.bytes(n)
	switch resp.Value.Type {
	case ResourceInt:
		var v uint32
		for i := len(value) - 1; i >= 0; i-- {
			v = v<<8 | uint32(value[i])
		}
		resp.Value.Int = int32(v)
	default:
		resp.Value.String = string(value)
	}
	return resp
}

func decodeBanks(base ResponseHeader, r *reader) Response {
	resp := &BanksAvailableResponse{ResponseHeader: base}
	if r.empty() {
		return resp
	}
	count := int(r.u16())
	resp.Banks = make([]Bank, 0, min(count, r.remaining()/4))
	for i := 0; i < count && r.err == nil; i++ {
		item := r.item()
		resp.Banks = append(resp.Banks, Bank{ID: item.u16(), Name: item.str()})
		r.adopt(item)
	}
	return resp
}

func decodeRegistersAvailable(base ResponseHeader, r *reader) Response {
	resp := &RegistersAvailableResponse{ResponseHeader: base}
	if r.empty() {
		return resp
	}
	count := int(r.u16())
	resp.Registers = make([]RegisterDescription, 0, min(count, r.remaining()/4))
	for i := 0; i < count && r.err == nil; i++ {
		item := r.item()
		resp.Registers = append(resp.Registers, RegisterDescription{
			ID:   item.u8(),
			Bits: item.u8(),
			Name: item.str(),
		})
		r.adopt(item)
	}
	return resp
}

func decodeDisplay(base ResponseHeader, r *reader) Response {
	resp := &DisplayGetResponse{ResponseHeader: base, Image: buffer.Empty}
	if r.empty() {
		return resp
	}
	infoLen := int(r.u32())
	resp.DebugWidth = r.u16()
	resp.DebugHeight = r.u16()
	resp.OffsetX = r.u16()
	resp.OffsetY = r.u16()
	resp.InnerWidth = r.u16()
	resp.InnerHeight = r.u16()
	resp.BitsPerPixel = r.u8()
	// infoLen counts from offset 4 and ends with the image length.
	r.seek(infoLen)
	n := int(r.u32())
	data := r.bytes(n)
	if r.err == nil && n > 0 {
		resp.Image = buffer.Get(n)
		copy(resp.Image.Bytes(), data)
	}
	return resp
}

func decodeInfo(base ResponseHeader, r *reader) Response {
	resp := &InfoResponse{ResponseHeader: base}
	if r.empty() {
		return resp
	}
	version := r.bytes(int(r.u8()))
	if len(version) >= 4 {
		resp.Major, resp.Minor, resp.Build, resp.Revision = version[0], version[1], version[2], version[3]
	}
	svn := r.bytes(int(r.u8()))
	if len(svn) >= 4 {
		resp.SVNVersion = binary.LittleEndian.Uint32(svn)
	}
	return resp
}

func decodePalette(base ResponseHeader, r *reader) Response {
	resp := &PaletteGetResponse{ResponseHeader: base}
	if r.empty() {
		return resp
	}
	count := int(r.u16())
	resp.Colors = make([]Color, 0, min(count, r.remaining()/4))
	for i := 0; i < count && r.err == nil; i++ {
		item := r.item()
		resp.Colors = append(resp.Colors, Color{R: item.u8(), G: item.u8(), B: item.u8()})
		r.adopt(item)
	}
	return resp
}

type writer struct {
	b   []byte
	off int
}

func (w *writer) u8(v uint8) {
	w.b[w.off] = v
	w.off++
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.b[w.off:], v)
	w.off += 2
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.b[w.off:], v)
	w.off += 4
}

func (w *writer) str(s string) {
	w.u8(uint8(len(s)))
	w.off += copy(w.b[w.off:], s)
}

func (w *writer) raw(p []byte) {
	w.off += copy(w.b[w.off:], p)
}

// reader decodes little-endian primitives with a sticky error; after the
// first short read every accessor returns zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) empty() bool    { return len(r.b) == 0 }
func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.remaining() < n {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.off, r.remaining())
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) bool() bool { return r.u8() == 1 }

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) optU16() uint16 {
	if r.empty() {
		return 0
	}
	return r.u16()
}

func (r *reader) optU32() uint32 {
	if r.empty() {
		return 0
	}
	return r.u32()
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) str() string { return string(r.bytes(int(r.u8()))) }

func (r *reader) seek(off int) {
	if r.err != nil {
		return
	}
	if off < r.off || off > len(r.b) {
		r.err = fmt.Errorf("seek to offset %d outside %d..%d", off, r.off, len(r.b))
		return
	}
	r.off = off
}

// item returns a reader over the next size-prefixed list item.
func (r *reader) item() *reader {
	size := int(r.u8())
	b := r.bytes(size)
	return &reader{b: b, err: r.err}
}

// adopt propagates an item reader's error to its parent.
func (r *reader) adopt(item *reader) {
	if r.err == nil && item.err != nil {
		r.err = item.err
	}
}
