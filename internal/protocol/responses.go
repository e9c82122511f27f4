package protocol

import "github.com/mattjoyce/vicebridge/internal/buffer"

// Response is a decoded monitor response frame.
type Response interface {
	Type() ResponseType
	Header() ResponseHeader
	// Release frees pooled payload buffers owned by the response. It is a
	// no-op for variants without one.
	Release()
}

// ResponseHeader holds the fields every response variant carries.
type ResponseHeader struct {
	APIVersion uint8     `json:"api_version" cbor:"api_version"`
	ErrorCode  ErrorCode `json:"error_code" cbor:"error_code"`
}

func (h ResponseHeader) Header() ResponseHeader { return h }

// OK reports whether the monitor accepted the command.
func (h ResponseHeader) OK() bool { return h.ErrorCode == ErrorOK }

type noPayload struct{}

func (noPayload) Release() {}

// EmptyResponse acknowledges a command whose reply carries no body, and is
// also the fallback for unknown response types.
type EmptyResponse struct {
	ResponseHeader
	noPayload
	Kind ResponseType `json:"kind" cbor:"kind"`
}

func (r *EmptyResponse) Type() ResponseType { return r.Kind }

// MemoryGetResponse owns Memory until Release.
type MemoryGetResponse struct {
	ResponseHeader
	Memory *buffer.Buffer `json:"-" cbor:"-"`
}

func (r *MemoryGetResponse) Type() ResponseType { return RespMemoryGet }

func (r *MemoryGetResponse) Release() {
	if r.Memory != nil {
		r.Memory.Release()
		r.Memory = nil
	}
}

// Bytes returns the memory contents, or nil once released.
func (r *MemoryGetResponse) Bytes() []byte {
	if r.Memory == nil {
		return nil
	}
	return r.Memory.Bytes()
}

// CheckpointInfoResponse describes one checkpoint.
type CheckpointInfoResponse struct {
	ResponseHeader
	noPayload
	Number       uint32       `json:"number" cbor:"number"`
	CurrentlyHit bool         `json:"currently_hit" cbor:"currently_hit"`
	StartAddress uint16       `json:"start_address" cbor:"start_address"`
	EndAddress   uint16       `json:"end_address" cbor:"end_address"`
	StopWhenHit  bool         `json:"stop_when_hit" cbor:"stop_when_hit"`
	Enabled      bool         `json:"enabled" cbor:"enabled"`
	Operation    CpuOperation `json:"operation" cbor:"operation"`
	Temporary    bool         `json:"temporary" cbor:"temporary"`
	HitCount     uint32       `json:"hit_count" cbor:"hit_count"`
	IgnoreCount  uint32       `json:"ignore_count" cbor:"ignore_count"`
	HasCondition bool         `json:"has_condition" cbor:"has_condition"`
	MemSpace     MemSpace     `json:"memspace" cbor:"memspace"`
}

func (r *CheckpointInfoResponse) Type() ResponseType { return RespCheckpointInfo }

// CheckpointListResponse terminates a checkpoint list. Checkpoints holds the
// info frames that preceded it under the same request id.
type CheckpointListResponse struct {
	ResponseHeader
	noPayload
	Count       uint32                   `json:"count" cbor:"count"`
	Checkpoints []CheckpointInfoResponse `json:"checkpoints" cbor:"checkpoints"`
}

func (r *CheckpointListResponse) Type() ResponseType { return RespCheckpointList }

// RegistersResponse answers RegistersGet and RegistersSet.
type RegistersResponse struct {
	ResponseHeader
	noPayload
	Items []RegisterValue `json:"items" cbor:"items"`
}

func (r *RegistersResponse) Type() ResponseType { return RespRegisterInfo }

// Value returns the value of register id.
func (r *RegistersResponse) Value(id uint8) (uint16, bool) {
	for _, item := range r.Items {
		if item.ID == id {
			return item.Value, true
		}
	}
	return 0, false
}

// ProgramCounterResponse is shared by the variants whose body is a single PC:
// undump, jam, stopped and resumed.
type ProgramCounterResponse struct {
	ResponseHeader
	noPayload
	Kind           ResponseType `json:"kind" cbor:"kind"`
	ProgramCounter uint16       `json:"program_counter" cbor:"program_counter"`
}

func (r *ProgramCounterResponse) Type() ResponseType { return r.Kind }

// Resource is a typed emulator resource value.
type Resource struct {
	Type   ResourceType `json:"type" cbor:"type"`
	String string       `json:"string,omitempty" cbor:"string,omitempty"`
	Int    int32        `json:"int,omitempty" cbor:"int,omitempty"`
}

type ResourceGetResponse struct {
	ResponseHeader
	noPayload
	Value Resource `json:"value" cbor:"value"`
}

func (r *ResourceGetResponse) Type() ResponseType { return RespResourceGet }

// Bank names a memory bank for MemoryGet/MemorySet.
type Bank struct {
	ID   uint16 `json:"id" cbor:"id"`
	Name string `json:"name" cbor:"name"`
}

type BanksAvailableResponse struct {
	ResponseHeader
	noPayload
	Banks []Bank `json:"banks" cbor:"banks"`
}

func (r *BanksAvailableResponse) Type() ResponseType { return RespBanksAvailable }

// RegisterDescription names a register and its width.
type RegisterDescription struct {
	ID   uint8  `json:"id" cbor:"id"`
	Bits uint8  `json:"bits" cbor:"bits"`
	Name string `json:"name" cbor:"name"`
}

type RegistersAvailableResponse struct {
	ResponseHeader
	noPayload
	Registers []RegisterDescription `json:"registers" cbor:"registers"`
}

func (r *RegistersAvailableResponse) Type() ResponseType { return RespRegistersAvailable }

// DisplayGetResponse owns Image until Release.
type DisplayGetResponse struct {
	ResponseHeader
	DebugWidth   uint16         `json:"debug_width" cbor:"debug_width"`
	DebugHeight  uint16         `json:"debug_height" cbor:"debug_height"`
	OffsetX      uint16         `json:"offset_x" cbor:"offset_x"`
	OffsetY      uint16         `json:"offset_y" cbor:"offset_y"`
	InnerWidth   uint16         `json:"inner_width" cbor:"inner_width"`
	InnerHeight  uint16         `json:"inner_height" cbor:"inner_height"`
	BitsPerPixel uint8          `json:"bits_per_pixel" cbor:"bits_per_pixel"`
	Image        *buffer.Buffer `json:"-" cbor:"-"`
}

func (r *DisplayGetResponse) Type() ResponseType { return RespDisplayGet }

func (r *DisplayGetResponse) Release() {
	if r.Image != nil {
		r.Image.Release()
		r.Image = nil
	}
}

// Bytes returns the raw image, or nil once released.
func (r *DisplayGetResponse) Bytes() []byte {
	if r.Image == nil {
		return nil
	}
	return r.Image.Bytes()
}

// InfoResponse reports the emulator version.
type InfoResponse struct {
	ResponseHeader
	noPayload
	Major      uint8  `json:"major" cbor:"major"`
	Minor      uint8  `json:"minor" cbor:"minor"`
	Build      uint8  `json:"build" cbor:"build"`
	Revision   uint8  `json:"revision" cbor:"revision"`
	SVNVersion uint32 `json:"svn_version" cbor:"svn_version"`
}

func (r *InfoResponse) Type() ResponseType { return RespInfo }

// Color is one palette entry.
type Color struct {
	R uint8 `json:"r" cbor:"r"`
	G uint8 `json:"g" cbor:"g"`
	B uint8 `json:"b" cbor:"b"`
}

type PaletteGetResponse struct {
	ResponseHeader
	noPayload
	Colors []Color `json:"colors" cbor:"colors"`
}

func (r *PaletteGetResponse) Type() ResponseType { return RespPaletteGet }

// Payload returns the pooled bytes embedded in resp, if any.
func Payload(resp Response) []byte {
	switch r := resp.(type) {
	case *MemoryGetResponse:
		return r.Bytes()
	case *DisplayGetResponse:
		return r.Bytes()
	}
	return nil
}
