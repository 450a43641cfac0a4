package trace

import "fmt"

// IMRow is one entry of the static memory/global image. Memory words use
// their word address for Start and End; globals use their index.
type IMRow struct {
	Start     uint32
	End       uint32
	Value     uint64
	VType     VarType
	IsGlobal  bool
	IsMutable bool
}

// IMTable is the memory/global image captured at instantiation.
type IMTable struct {
	rows []IMRow
}

func (t *IMTable) Push(row IMRow) { t.rows = append(t.rows, row) }

func (t *IMTable) Rows() []IMRow { return t.rows }

func (t *IMTable) Len() int { return len(t.rows) }

// Memory returns the non-global rows, sentinel last.
func (t *IMTable) Memory() []IMRow {
	var out []IMRow
	for _, r := range t.rows {
		if !r.IsGlobal {
			out = append(out, r)
		}
	}
	return out
}

// Globals returns the global rows in index order of registration.
func (t *IMTable) Globals() []IMRow {
	var out []IMRow
	for _, r := range t.rows {
		if r.IsGlobal {
			out = append(out, r)
		}
	}
	return out
}

// ElemRow binds a table slot to a function for indirect calls.
type ElemRow struct {
	TableIdx uint32
	TypeIdx  uint32
	Offset   uint32
	FuncIdx  uint32
}

// ElemTable is append-only: a later row for the same (TableIdx, Offset)
// does not replace an earlier one.
type ElemTable struct {
	rows []ElemRow
}

func (t *ElemTable) Push(row ElemRow) { t.rows = append(t.rows, row) }

func (t *ElemTable) Rows() []ElemRow { return t.rows }

func (t *ElemTable) Len() int { return len(t.rows) }

// EventKind tags an event row.
type EventKind byte

const (
	EventStep EventKind = iota
	EventCall
	EventReturn
	EventHostCall
)

func (k EventKind) String() string {
	switch k {
	case EventStep:
		return "step"
	case EventCall:
		return "call"
	case EventReturn:
		return "return"
	case EventHostCall:
		return "host_call"
	}
	return fmt.Sprintf("event(%d)", byte(k))
}

// EventRow is one executed operation.
type EventRow struct {
	EID         uint32
	FID         uint32
	IID         uint32
	LastJumpEID uint32
	Opcode      byte
	Kind        EventKind
}

// EventTable owns the event counter. Ids start at 1.
type EventTable struct {
	rows []EventRow
}

// Push assigns the next event id to row and returns it.
func (t *EventTable) Push(row EventRow) uint32 {
	row.EID = uint32(len(t.rows)) + 1
	t.rows = append(t.rows, row)
	return row.EID
}

// LatestEID returns the id of the newest event, or 0 when empty.
func (t *EventTable) LatestEID() uint32 { return uint32(len(t.rows)) }

func (t *EventTable) Rows() []EventRow { return t.rows }

func (t *EventTable) Len() int { return len(t.rows) }

// JumpRow records one call transfer.
type JumpRow struct {
	EID         uint32
	LastJumpEID uint32
	CalleeFID   uint32
	FID         uint32
	IID         uint32
}

// StaticFrame is a frame that exists before execution starts: the start
// function and the entry export.
type StaticFrame struct {
	FrameID     uint32
	NextFrameID uint32
	CalleeFID   uint32
	FID         uint32
	IID         uint32
	Enable      bool
}

// JumpTable holds call transfers and the static frames.
type JumpTable struct {
	rows   []JumpRow
	static []StaticFrame
}

func (t *JumpTable) Push(row JumpRow) { t.rows = append(t.rows, row) }

func (t *JumpTable) PushStatic(f StaticFrame) { t.static = append(t.static, f) }

func (t *JumpTable) Rows() []JumpRow { return t.rows }

func (t *JumpTable) Static() []StaticFrame { return t.static }

func (t *JumpTable) Len() int { return len(t.rows) }

// ConfigureTable carries the memory limits the image was built against.
type ConfigureTable struct {
	InitMemoryPages    uint32
	MaximalMemoryPages uint32
}

// Tables is everything a trace consumer receives.
type Tables struct {
	Instructions *InstructionTable
	Image        *IMTable
	Events       *EventTable
	Jumps        *JumpTable
	Elems        *ElemTable
	Funcs        map[uint32]FuncDesc // native index -> descriptor
	Configure    ConfigureTable
}

// NewTables returns an empty set of tables.
func NewTables() *Tables {
	return &Tables{
		Instructions: NewInstructionTable(),
		Image:        &IMTable{},
		Events:       &EventTable{},
		Jumps:        &JumpTable{},
		Elems:        &ElemTable{},
		Funcs:        make(map[uint32]FuncDesc),
	}
}
