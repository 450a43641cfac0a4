package trace

import (
	"sort"

	"github.com/wippyai/wasm-trace/errors"
	"github.com/wippyai/wasm-trace/wasm"
)

// InstructionRow is one decoded operation of a function body. FID is the
// function's stable index and IID its dense position within the body.
type InstructionRow struct {
	Op  wasm.Instruction
	FID uint32
	IID uint32
}

type rowKey struct {
	fid, iid uint32
}

// InstructionTable maps (stable function index, position) to an operation.
type InstructionTable struct {
	index map[rowKey]int
	funcs map[uint32][]int
	rows  []InstructionRow
}

// NewInstructionTable returns an empty table.
func NewInstructionTable() *InstructionTable {
	return &InstructionTable{
		index: make(map[rowKey]int),
		funcs: make(map[uint32][]int),
	}
}

// Push appends a row. A second row for the same (fid, iid) is rejected.
func (t *InstructionTable) Push(fid, iid uint32, op wasm.Instruction) error {
	key := rowKey{fid, iid}
	if _, ok := t.index[key]; ok {
		return errors.DuplicateEntry("itable", fid, iid)
	}
	t.index[key] = len(t.rows)
	t.funcs[fid] = append(t.funcs[fid], len(t.rows))
	t.rows = append(t.rows, InstructionRow{FID: fid, IID: iid, Op: op})
	return nil
}

// Get returns the row at (fid, iid).
func (t *InstructionTable) Get(fid, iid uint32) (InstructionRow, bool) {
	i, ok := t.index[rowKey{fid, iid}]
	if !ok {
		return InstructionRow{}, false
	}
	return t.rows[i], true
}

// Func returns the rows of one function ordered by position.
func (t *InstructionTable) Func(fid uint32) []InstructionRow {
	idx := t.funcs[fid]
	out := make([]InstructionRow, len(idx))
	for i, j := range idx {
		out[i] = t.rows[j]
	}
	sort.Slice(out, func(a, b int) bool { return out[a].IID < out[b].IID })
	return out
}

// First returns the lowest-positioned row of a function.
func (t *InstructionTable) First(fid uint32) (InstructionRow, bool) {
	return t.extreme(fid, func(a, b uint32) bool { return a < b })
}

// Last returns the highest-positioned row of a function.
func (t *InstructionTable) Last(fid uint32) (InstructionRow, bool) {
	return t.extreme(fid, func(a, b uint32) bool { return a > b })
}

func (t *InstructionTable) extreme(fid uint32, better func(a, b uint32) bool) (InstructionRow, bool) {
	idx := t.funcs[fid]
	if len(idx) == 0 {
		return InstructionRow{}, false
	}
	best := t.rows[idx[0]]
	for _, j := range idx[1:] {
		if better(t.rows[j].IID, best.IID) {
			best = t.rows[j]
		}
	}
	return best, true
}

// Rows returns every row in insertion order.
func (t *InstructionTable) Rows() []InstructionRow { return t.rows }

// Len returns the number of rows.
func (t *InstructionTable) Len() int { return len(t.rows) }

// Statistics counts rows per instruction name.
func (t *InstructionTable) Statistics() map[string]int {
	stats := make(map[string]int)
	for _, r := range t.rows {
		stats[r.Op.Name()]++
	}
	return stats
}
