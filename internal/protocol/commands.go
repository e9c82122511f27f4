package protocol

// Command is a monitor request. Implementations are plain values; the request
// id is assigned by the dispatcher when the frame is sent.
type Command interface {
	Type() CommandType
	// ContentLength is the number of bytes WriteContent produces.
	ContentLength() int
	// WriteContent encodes the command body into dst, which has exactly
	// ContentLength bytes.
	WriteContent(dst []byte)
	// Validate reports range and format problems before any I/O happens.
	Validate() error
}

type noContent struct{}

func (noContent) ContentLength() int  { return 0 }
func (noContent) WriteContent([]byte) {}
func (noContent) Validate() error     { return nil }

type PingCommand struct{ noContent }

func (PingCommand) Type() CommandType { return CmdPing }

// ExitCommand resumes execution and leaves the monitor.
type ExitCommand struct{ noContent }

func (ExitCommand) Type() CommandType { return CmdExit }

// QuitCommand terminates the emulator.
type QuitCommand struct{ noContent }

func (QuitCommand) Type() CommandType { return CmdQuit }

type InfoCommand struct{ noContent }

func (InfoCommand) Type() CommandType { return CmdInfo }

type BanksAvailableCommand struct{ noContent }

func (BanksAvailableCommand) Type() CommandType { return CmdBanksAvailable }

type CheckpointListCommand struct{ noContent }

func (CheckpointListCommand) Type() CommandType { return CmdCheckpointList }

type ExecuteUntilReturnCommand struct{ noContent }

func (ExecuteUntilReturnCommand) Type() CommandType { return CmdExecuteUntilReturn }

// MemoryGetCommand reads the inclusive range StartAddress..EndAddress.
type MemoryGetCommand struct {
	SideEffects  bool
	StartAddress uint16
	EndAddress   uint16
	MemSpace     MemSpace
	BankID       uint16
}

func (MemoryGetCommand) Type() CommandType  { return CmdMemoryGet }
func (MemoryGetCommand) ContentLength() int { return 8 }

func (c MemoryGetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.bool(c.SideEffects)
	w.u16(c.StartAddress)
	w.u16(c.EndAddress)
	w.u8(uint8(c.MemSpace))
	w.u16(c.BankID)
}

func (c MemoryGetCommand) Validate() error {
	var p problems
	if c.EndAddress < c.StartAddress {
		p.addf("end address $%04X before start address $%04X", c.EndAddress, c.StartAddress)
	}
	p.checkMemSpace(c.MemSpace)
	return p.err(CmdMemoryGet)
}

// MemorySetCommand writes Data starting at StartAddress.
type MemorySetCommand struct {
	SideEffects  bool
	StartAddress uint16
	MemSpace     MemSpace
	BankID       uint16
	Data         []byte
}

func (MemorySetCommand) Type() CommandType    { return CmdMemorySet }
func (c MemorySetCommand) ContentLength() int { return 8 + len(c.Data) }

// EndAddress is the last address written.
func (c MemorySetCommand) EndAddress() uint16 {
	return uint16(int(c.StartAddress) + len(c.Data) - 1)
}

func (c MemorySetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.bool(c.SideEffects)
	w.u16(c.StartAddress)
	w.u16(c.EndAddress())
	w.u8(uint8(c.MemSpace))
	w.u16(c.BankID)
	w.raw(c.Data)
}

func (c MemorySetCommand) Validate() error {
	var p problems
	if len(c.Data) == 0 {
		p.addf("no data to write")
	} else if int(c.StartAddress)+len(c.Data) > 0x10000 {
		p.addf("%d bytes at $%04X run past $FFFF", len(c.Data), c.StartAddress)
	}
	p.checkMemSpace(c.MemSpace)
	return p.err(CmdMemorySet)
}

type CheckpointGetCommand struct {
	Number uint32
}

func (CheckpointGetCommand) Type() CommandType        { return CmdCheckpointGet }
func (CheckpointGetCommand) ContentLength() int       { return 4 }
func (c CheckpointGetCommand) WriteContent(dst []byte) { (&writer{b: dst}).u32(c.Number) }
func (CheckpointGetCommand) Validate() error          { return nil }

type CheckpointDeleteCommand struct {
	Number uint32
}

func (CheckpointDeleteCommand) Type() CommandType        { return CmdCheckpointDelete }
func (CheckpointDeleteCommand) ContentLength() int       { return 4 }
func (c CheckpointDeleteCommand) WriteContent(dst []byte) { (&writer{b: dst}).u32(c.Number) }
func (CheckpointDeleteCommand) Validate() error          { return nil }

type CheckpointToggleCommand struct {
	Number  uint32
	Enabled bool
}

func (CheckpointToggleCommand) Type() CommandType  { return CmdCheckpointToggle }
func (CheckpointToggleCommand) ContentLength() int { return 5 }
func (CheckpointToggleCommand) Validate() error    { return nil }

func (c CheckpointToggleCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.u32(c.Number)
	w.bool(c.Enabled)
}

// CheckpointSetCommand creates a breakpoint, watchpoint or tracepoint.
type CheckpointSetCommand struct {
	StartAddress uint16
	EndAddress   uint16
	StopWhenHit  bool
	Enabled      bool
	Operation    CpuOperation
	Temporary    bool
	MemSpace     MemSpace
}

func (CheckpointSetCommand) Type() CommandType  { return CmdCheckpointSet }
func (CheckpointSetCommand) ContentLength() int { return 9 }

func (c CheckpointSetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.u16(c.StartAddress)
	w.u16(c.EndAddress)
	w.bool(c.StopWhenHit)
	w.bool(c.Enabled)
	w.u8(uint8(c.Operation))
	w.bool(c.Temporary)
	w.u8(uint8(c.MemSpace))
}

func (c CheckpointSetCommand) Validate() error {
	var p problems
	if c.EndAddress < c.StartAddress {
		p.addf("end address $%04X before start address $%04X", c.EndAddress, c.StartAddress)
	}
	if c.Operation == 0 || c.Operation&^(OpLoad|OpStore|OpExec) != 0 {
		p.addf("operation 0x%02x is not a combination of load, store and exec", uint8(c.Operation))
	}
	p.checkMemSpace(c.MemSpace)
	return p.err(CmdCheckpointSet)
}

// ConditionSetCommand attaches a condition expression to a checkpoint.
type ConditionSetCommand struct {
	CheckpointNumber uint32
	Expression       string
}

func (ConditionSetCommand) Type() CommandType    { return CmdConditionSet }
func (c ConditionSetCommand) ContentLength() int { return 4 + 1 + len(c.Expression) }

func (c ConditionSetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.u32(c.CheckpointNumber)
	w.str(c.Expression)
}

func (c ConditionSetCommand) Validate() error {
	var p problems
	if c.Expression == "" {
		p.addf("empty condition expression")
	}
	p.checkString("condition expression", c.Expression)
	return p.err(CmdConditionSet)
}

type RegistersGetCommand struct {
	MemSpace MemSpace
}

func (RegistersGetCommand) Type() CommandType        { return CmdRegistersGet }
func (RegistersGetCommand) ContentLength() int       { return 1 }
func (c RegistersGetCommand) WriteContent(dst []byte) { dst[0] = uint8(c.MemSpace) }

func (c RegistersGetCommand) Validate() error {
	var p problems
	p.checkMemSpace(c.MemSpace)
	return p.err(CmdRegistersGet)
}

// RegisterValue is one register assignment in a RegistersSet command.
type RegisterValue struct {
	ID    uint8  `json:"id" cbor:"id"`
	Value uint16 `json:"value" cbor:"value"`
}

const registerItemSize = 3

type RegistersSetCommand struct {
	MemSpace MemSpace
	Items    []RegisterValue
}

func (RegistersSetCommand) Type() CommandType { return CmdRegistersSet }

func (c RegistersSetCommand) ContentLength() int {
	return 1 + 2 + len(c.Items)*(1+registerItemSize)
}

func (c RegistersSetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.u8(uint8(c.MemSpace))
	w.u16(uint16(len(c.Items)))
	for _, item := range c.Items {
		w.u8(registerItemSize)
		w.u8(item.ID)
		w.u16(item.Value)
	}
}

func (c RegistersSetCommand) Validate() error {
	var p problems
	p.checkMemSpace(c.MemSpace)
	if len(c.Items) == 0 {
		p.addf("no registers to set")
	} else if len(c.Items) > 0xffff {
		p.addf("%d registers exceed the item count limit", len(c.Items))
	}
	return p.err(CmdRegistersSet)
}

type RegistersAvailableCommand struct {
	MemSpace MemSpace
}

func (RegistersAvailableCommand) Type() CommandType        { return CmdRegistersAvailable }
func (RegistersAvailableCommand) ContentLength() int       { return 1 }
func (c RegistersAvailableCommand) WriteContent(dst []byte) { dst[0] = uint8(c.MemSpace) }

func (c RegistersAvailableCommand) Validate() error {
	var p problems
	p.checkMemSpace(c.MemSpace)
	return p.err(CmdRegistersAvailable)
}

// DumpCommand saves a machine snapshot to Filename on the emulator host.
type DumpCommand struct {
	SaveROMs  bool
	SaveDisks bool
	Filename  string
}

func (DumpCommand) Type() CommandType    { return CmdDump }
func (c DumpCommand) ContentLength() int { return 3 + len(c.Filename) }

func (c DumpCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.bool(c.SaveROMs)
	w.bool(c.SaveDisks)
	w.str(c.Filename)
}

func (c DumpCommand) Validate() error { return validateFilename(CmdDump, c.Filename) }

// UndumpCommand restores a machine snapshot.
type UndumpCommand struct {
	Filename string
}

func (UndumpCommand) Type() CommandType        { return CmdUndump }
func (c UndumpCommand) ContentLength() int     { return 1 + len(c.Filename) }
func (c UndumpCommand) WriteContent(dst []byte) { (&writer{b: dst}).str(c.Filename) }
func (c UndumpCommand) Validate() error         { return validateFilename(CmdUndump, c.Filename) }

type ResourceGetCommand struct {
	Name string
}

func (ResourceGetCommand) Type() CommandType        { return CmdResourceGet }
func (c ResourceGetCommand) ContentLength() int     { return 1 + len(c.Name) }
func (c ResourceGetCommand) WriteContent(dst []byte) { (&writer{b: dst}).str(c.Name) }

func (c ResourceGetCommand) Validate() error {
	var p problems
	if c.Name == "" {
		p.addf("empty resource name")
	}
	p.checkString("resource name", c.Name)
	return p.err(CmdResourceGet)
}

// ResourceSetCommand sets a string or integer emulator resource.
type ResourceSetCommand struct {
	Name  string
	Value Resource
}

func (ResourceSetCommand) Type() CommandType { return CmdResourceSet }

func (c ResourceSetCommand) ContentLength() int {
	n := 1 + 1 + len(c.Name) + 1
	if c.Value.Type == ResourceInt {
		return n + 4
	}
	return n + len(c.Value.String)
}

func (c ResourceSetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.u8(uint8(c.Value.Type))
	w.str(c.Name)
	if c.Value.Type == ResourceInt {
		w.u8(4)
		w.u32(uint32(c.Value.Int))
		return
	}
	w.str(c.Value.String)
}

func (c ResourceSetCommand) Validate() error {
	var p problems
	if c.Name == "" {
		p.addf("empty resource name")
	}
	p.checkString("resource name", c.Name)
	switch c.Value.Type {
	case ResourceInt:
	case ResourceString:
		p.checkString("resource value", c.Value.String)
	default:
		p.addf("unknown resource type %d", c.Value.Type)
	}
	return p.err(CmdResourceSet)
}

// AdvanceInstructionsCommand steps Count instructions.
type AdvanceInstructionsCommand struct {
	StepOverSubroutines bool
	Count               uint16
}

func (AdvanceInstructionsCommand) Type() CommandType  { return CmdAdvanceInstructions }
func (AdvanceInstructionsCommand) ContentLength() int { return 3 }

func (c AdvanceInstructionsCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.bool(c.StepOverSubroutines)
	w.u16(c.Count)
}

func (c AdvanceInstructionsCommand) Validate() error {
	var p problems
	if c.Count == 0 {
		p.addf("instruction count must be at least 1")
	}
	return p.err(CmdAdvanceInstructions)
}

// KeyboardFeedCommand types Text into the keyboard buffer. PETSCII control
// codes are passed through as-is.
type KeyboardFeedCommand struct {
	Text string
}

func (KeyboardFeedCommand) Type() CommandType        { return CmdKeyboardFeed }
func (c KeyboardFeedCommand) ContentLength() int     { return 1 + len(c.Text) }
func (c KeyboardFeedCommand) WriteContent(dst []byte) { (&writer{b: dst}).str(c.Text) }

func (c KeyboardFeedCommand) Validate() error {
	var p problems
	p.checkString("keyboard text", c.Text)
	return p.err(CmdKeyboardFeed)
}

type DisplayGetCommand struct {
	UseVIC bool
	Format ImageFormat
}

func (DisplayGetCommand) Type() CommandType  { return CmdDisplayGet }
func (DisplayGetCommand) ContentLength() int { return 2 }

func (c DisplayGetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.bool(c.UseVIC)
	w.u8(uint8(c.Format))
}

func (c DisplayGetCommand) Validate() error {
	var p problems
	if c.Format != FormatIndexed8 {
		p.addf("unsupported image format %d", c.Format)
	}
	return p.err(CmdDisplayGet)
}

type PaletteGetCommand struct {
	UseVIC bool
}

func (PaletteGetCommand) Type() CommandType        { return CmdPaletteGet }
func (PaletteGetCommand) ContentLength() int       { return 1 }
func (c PaletteGetCommand) WriteContent(dst []byte) { (&writer{b: dst}).bool(c.UseVIC) }
func (PaletteGetCommand) Validate() error          { return nil }

type JoyportSetCommand struct {
	Port  uint16
	Value uint16
}

func (JoyportSetCommand) Type() CommandType  { return CmdJoyportSet }
func (JoyportSetCommand) ContentLength() int { return 4 }
func (JoyportSetCommand) Validate() error    { return nil }

func (c JoyportSetCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.u16(c.Port)
	w.u16(c.Value)
}

type UserportSetCommand struct {
	Value uint16
}

func (UserportSetCommand) Type() CommandType        { return CmdUserportSet }
func (UserportSetCommand) ContentLength() int       { return 2 }
func (c UserportSetCommand) WriteContent(dst []byte) { (&writer{b: dst}).u16(c.Value) }
func (UserportSetCommand) Validate() error          { return nil }

type ResetCommand struct {
	Mode ResetMode
}

func (ResetCommand) Type() CommandType        { return CmdReset }
func (ResetCommand) ContentLength() int       { return 1 }
func (c ResetCommand) WriteContent(dst []byte) { dst[0] = uint8(c.Mode) }

func (c ResetCommand) Validate() error {
	var p problems
	if !c.Mode.valid() {
		p.addf("unknown reset mode %d", c.Mode)
	}
	return p.err(CmdReset)
}

// AutoStartCommand loads (and optionally runs) a program or disk image.
type AutoStartCommand struct {
	Run       bool
	FileIndex uint16
	Filename  string
}

func (AutoStartCommand) Type() CommandType    { return CmdAutoStart }
func (c AutoStartCommand) ContentLength() int { return 1 + 2 + 1 + len(c.Filename) }

func (c AutoStartCommand) WriteContent(dst []byte) {
	w := writer{b: dst}
	w.bool(c.Run)
	w.u16(c.FileIndex)
	w.str(c.Filename)
}

func (c AutoStartCommand) Validate() error { return validateFilename(CmdAutoStart, c.Filename) }

func validateFilename(cmd CommandType, name string) error {
	var p problems
	if name == "" {
		p.addf("empty filename")
	}
	p.checkString("filename", name)
	return p.err(cmd)
}
