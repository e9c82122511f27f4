package protocol

import "fmt"

const (
	// STX marks the start of every frame.
	STX byte = 0x02
	// APIVersion is the only binary monitor protocol version spoken.
	APIVersion byte = 0x02

	// CommandHeaderSize is marker, version, content length, request id, command type.
	CommandHeaderSize = 11
	// ResponseHeaderSize is marker, version, body length, response type, error code, request id.
	ResponseHeaderSize = 12

	// MaxBodyLength caps a single response body.
	MaxBodyLength = 16 << 20

	// UnsolicitedRequestID is carried by frames the emulator emits on its own.
	UnsolicitedRequestID uint32 = 0xffffffff

	maxStringLength = 0xff
)

// CommandType is the one-byte tag of a command frame.
type CommandType uint8

const (
	CmdMemoryGet           CommandType = 0x01
	CmdMemorySet           CommandType = 0x02
	CmdCheckpointGet       CommandType = 0x11
	CmdCheckpointSet       CommandType = 0x12
	CmdCheckpointDelete    CommandType = 0x13
	CmdCheckpointList      CommandType = 0x14
	CmdCheckpointToggle    CommandType = 0x15
	CmdConditionSet        CommandType = 0x22
	CmdRegistersGet        CommandType = 0x31
	CmdRegistersSet        CommandType = 0x32
	CmdDump                CommandType = 0x41
	CmdUndump              CommandType = 0x42
	CmdResourceGet         CommandType = 0x51
	CmdResourceSet         CommandType = 0x52
	CmdAdvanceInstructions CommandType = 0x71
	CmdKeyboardFeed        CommandType = 0x72
	CmdExecuteUntilReturn  CommandType = 0x73
	CmdPing                CommandType = 0x81
	CmdBanksAvailable      CommandType = 0x82
	CmdRegistersAvailable  CommandType = 0x83
	CmdDisplayGet          CommandType = 0x84
	CmdInfo                CommandType = 0x85
	CmdPaletteGet          CommandType = 0x91
	CmdJoyportSet          CommandType = 0xa2
	CmdUserportSet         CommandType = 0xb2
	CmdExit                CommandType = 0xaa
	CmdQuit                CommandType = 0xbb
	CmdReset               CommandType = 0xcc
	CmdAutoStart           CommandType = 0xdd
)

var commandNames = map[CommandType]string{
	CmdMemoryGet:           "memory_get",
	CmdMemorySet:           "memory_set",
	CmdCheckpointGet:       "checkpoint_get",
	CmdCheckpointSet:       "checkpoint_set",
	CmdCheckpointDelete:    "checkpoint_delete",
	CmdCheckpointList:      "checkpoint_list",
	CmdCheckpointToggle:    "checkpoint_toggle",
	CmdConditionSet:        "condition_set",
	CmdRegistersGet:        "registers_get",
	CmdRegistersSet:        "registers_set",
	CmdDump:                "dump",
	CmdUndump:              "undump",
	CmdResourceGet:         "resource_get",
	CmdResourceSet:         "resource_set",
	CmdAdvanceInstructions: "advance_instructions",
	CmdKeyboardFeed:        "keyboard_feed",
	CmdExecuteUntilReturn:  "execute_until_return",
	CmdPing:                "ping",
	CmdBanksAvailable:      "banks_available",
	CmdRegistersAvailable:  "registers_available",
	CmdDisplayGet:          "display_get",
	CmdInfo:                "info",
	CmdPaletteGet:          "palette_get",
	CmdJoyportSet:          "joyport_set",
	CmdUserportSet:         "userport_set",
	CmdExit:                "exit",
	CmdQuit:                "quit",
	CmdReset:               "reset",
	CmdAutoStart:           "autostart",
}

func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(0x%02x)", uint8(c))
}

// ResponseType is the one-byte tag of a response frame. Replies reuse the tag
// of the command they answer; a few tags only ever arrive unsolicited.
type ResponseType uint8

const (
	RespMemoryGet          ResponseType = 0x01
	RespMemorySet          ResponseType = 0x02
	RespCheckpointInfo     ResponseType = 0x11
	RespCheckpointDelete   ResponseType = 0x13
	RespCheckpointList     ResponseType = 0x14
	RespCheckpointToggle   ResponseType = 0x15
	RespConditionSet       ResponseType = 0x22
	RespRegisterInfo       ResponseType = 0x31
	RespDump               ResponseType = 0x41
	RespUndump             ResponseType = 0x42
	RespResourceGet        ResponseType = 0x51
	RespResourceSet        ResponseType = 0x52
	RespJam                ResponseType = 0x61
	RespStopped            ResponseType = 0x62
	RespResumed            ResponseType = 0x63
	RespAdvanceInstruction ResponseType = 0x71
	RespKeyboardFeed       ResponseType = 0x72
	RespExecuteUntilReturn ResponseType = 0x73
	RespPing               ResponseType = 0x81
	RespBanksAvailable     ResponseType = 0x82
	RespRegistersAvailable ResponseType = 0x83
	RespDisplayGet         ResponseType = 0x84
	RespInfo               ResponseType = 0x85
	RespPaletteGet         ResponseType = 0x91
	RespJoyportSet         ResponseType = 0xa2
	RespUserportSet        ResponseType = 0xb2
	RespExit               ResponseType = 0xaa
	RespQuit               ResponseType = 0xbb
	RespReset              ResponseType = 0xcc
	RespAutoStart          ResponseType = 0xdd
)

var responseNames = map[ResponseType]string{
	RespMemoryGet:          "memory_get",
	RespMemorySet:          "memory_set",
	RespCheckpointInfo:     "checkpoint_info",
	RespCheckpointDelete:   "checkpoint_delete",
	RespCheckpointList:     "checkpoint_list",
	RespCheckpointToggle:   "checkpoint_toggle",
	RespConditionSet:       "condition_set",
	RespRegisterInfo:       "register_info",
	RespDump:               "dump",
	RespUndump:             "undump",
	RespResourceGet:        "resource_get",
	RespResourceSet:        "resource_set",
	RespJam:                "jam",
	RespStopped:            "stopped",
	RespResumed:            "resumed",
	RespAdvanceInstruction: "advance_instructions",
	RespKeyboardFeed:       "keyboard_feed",
	RespExecuteUntilReturn: "execute_until_return",
	RespPing:               "ping",
	RespBanksAvailable:     "banks_available",
	RespRegistersAvailable: "registers_available",
	RespDisplayGet:         "display_get",
	RespInfo:               "info",
	RespPaletteGet:         "palette_get",
	RespJoyportSet:         "joyport_set",
	RespUserportSet:        "userport_set",
	RespExit:               "exit",
	RespQuit:               "quit",
	RespReset:              "reset",
	RespAutoStart:          "autostart",
}

func (r ResponseType) String() string {
	if name, ok := responseNames[r]; ok {
		return name
	}
	return fmt.Sprintf("response(0x%02x)", uint8(r))
}

// ErrorCode is the status byte of a response header.
type ErrorCode uint8

const (
	ErrorOK                 ErrorCode = 0x00
	ErrorObjectMissing      ErrorCode = 0x01
	ErrorInvalidMemSpace    ErrorCode = 0x02
	ErrorIncorrectLength    ErrorCode = 0x80
	ErrorInvalidParameter   ErrorCode = 0x81
	ErrorInvalidAPIVersion  ErrorCode = 0x82
	ErrorInvalidCommandType ErrorCode = 0x83
	ErrorGeneralFailure     ErrorCode = 0x8f
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorOK:
		return "ok"
	case ErrorObjectMissing:
		return "object does not exist"
	case ErrorInvalidMemSpace:
		return "invalid memspace"
	case ErrorIncorrectLength:
		return "incorrect command length"
	case ErrorInvalidParameter:
		return "invalid parameter value"
	case ErrorInvalidAPIVersion:
		return "unsupported api version"
	case ErrorInvalidCommandType:
		return "invalid command type"
	case ErrorGeneralFailure:
		return "general failure"
	default:
		return fmt.Sprintf("error(0x%02x)", uint8(e))
	}
}

// MemSpace selects the CPU whose address space a command targets.
type MemSpace uint8

const (
	MemSpaceMain MemSpace = iota
	MemSpaceDrive8
	MemSpaceDrive9
	MemSpaceDrive10
	MemSpaceDrive11
)

func (m MemSpace) valid() bool { return m <= MemSpaceDrive11 }

// CpuOperation is a bit set of accesses a checkpoint triggers on.
type CpuOperation uint8

const (
	OpLoad  CpuOperation = 0x01
	OpStore CpuOperation = 0x02
	OpExec  CpuOperation = 0x04
)

// ResetMode selects what a Reset command resets.
type ResetMode uint8

const (
	ResetSoft    ResetMode = 0
	ResetHard    ResetMode = 1
	ResetDrive8  ResetMode = 8
	ResetDrive9  ResetMode = 9
	ResetDrive10 ResetMode = 10
	ResetDrive11 ResetMode = 11
)

func (m ResetMode) valid() bool {
	switch m {
	case ResetSoft, ResetHard, ResetDrive8, ResetDrive9, ResetDrive10, ResetDrive11:
		return true
	}
	return false
}

// ImageFormat is the pixel format requested from DisplayGet.
type ImageFormat uint8

const (
	FormatIndexed8 ImageFormat = 0x00
)

// ResourceType tags the value of a ResourceGet/ResourceSet.
type ResourceType uint8

const (
	ResourceString ResourceType = 0x00
	ResourceInt    ResourceType = 0x01
)
