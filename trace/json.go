package trace

import (
	"encoding/json"
	"sort"

	"github.com/wippyai/wasm-trace/wasm"
)

type jsonInstruction struct {
	Op  string `json:"op"`
	FID uint32 `json:"fid"`
	IID uint32 `json:"iid"`
}

type jsonFunc struct {
	Kind    string `json:"kind"`
	Sig     string `json:"sig,omitempty"`
	Native  uint32 `json:"native"`
	Stable  uint32 `json:"stable"`
	TypeIdx uint32 `json:"type_idx"`
}

type jsonImage struct {
	VType     string `json:"vtype"`
	Start     uint32 `json:"start"`
	End       uint32 `json:"end"`
	Value     uint64 `json:"value"`
	IsGlobal  bool   `json:"is_global"`
	IsMutable bool   `json:"is_mutable"`
}

type jsonEvent struct {
	Kind        string `json:"kind"`
	Op          string `json:"op"`
	EID         uint32 `json:"eid"`
	FID         uint32 `json:"fid"`
	IID         uint32 `json:"iid"`
	LastJumpEID uint32 `json:"last_jump_eid"`
}

// MarshalJSON renders the tables for inspection. The layout is a debugging
// aid and not a stable format.
func (t *Tables) MarshalJSON() ([]byte, error) {
	out := struct {
		Configure    ConfigureTable    `json:"configure"`
		Funcs        []jsonFunc        `json:"funcs"`
		Instructions []jsonInstruction `json:"instructions"`
		Image        []jsonImage       `json:"image"`
		Elems        []ElemRow         `json:"elems"`
		Events       []jsonEvent       `json:"events"`
		Jumps        []JumpRow         `json:"jumps"`
		Static       []StaticFrame     `json:"static_frames"`
	}{
		Configure: t.Configure,
		Elems:     t.Elems.Rows(),
		Jumps:     t.Jumps.Rows(),
		Static:    t.Jumps.Static(),
	}

	natives := make([]uint32, 0, len(t.Funcs))
	for n := range t.Funcs {
		natives = append(natives, n)
	}
	sort.Slice(natives, func(i, j int) bool { return natives[i] < natives[j] })
	for _, n := range natives {
		d := t.Funcs[n]
		f := jsonFunc{Kind: d.Type.String(), Native: n, Stable: d.Index, TypeIdx: d.TypeIdx}
		if d.Sig != nil {
			f.Sig = d.Sig.String()
		}
		out.Funcs = append(out.Funcs, f)
	}

	for _, r := range t.Instructions.Rows() {
		out.Instructions = append(out.Instructions, jsonInstruction{Op: r.Op.String(), FID: r.FID, IID: r.IID})
	}
	for _, r := range t.Image.Rows() {
		out.Image = append(out.Image, jsonImage{
			VType: r.VType.String(), Start: r.Start, End: r.End, Value: r.Value,
			IsGlobal: r.IsGlobal, IsMutable: r.IsMutable,
		})
	}
	for _, r := range t.Events.Rows() {
		out.Events = append(out.Events, jsonEvent{
			Kind: r.Kind.String(), Op: wasm.OpcodeName(r.Opcode), EID: r.EID,
			FID: r.FID, IID: r.IID, LastJumpEID: r.LastJumpEID,
		})
	}
	return json.Marshal(out)
}
