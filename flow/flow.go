package flow

import (
	"strconv"

	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm"
)

// Info is the control-flow map of one function body. Offsets are relative
// to the start of the code it was computed from.
type Info struct {
	// BlockEnds maps the offset of a block, if or try opcode to the offset
	// just past its matching end.
	BlockEnds map[int]int
	// LoopStarts maps the offset of a loop opcode to itself.
	LoopStarts map[int]int
	// Elses maps the offset of an if opcode to the offset of its else.
	Elses map[int]int

	// Err is the reason the scan stopped early. Nil unless Partial.
	Err error

	// StoppedAt is the offset where scanning stopped when Partial is set.
	StoppedAt int
	Partial   bool
}

func newInfo() *Info {
	return &Info{
		BlockEnds:  make(map[int]int),
		LoopStarts: make(map[int]int),
		Elses:      make(map[int]int),
	}
}

// openBlock is a construct waiting for its end.
type openBlock struct {
	start  int
	opcode byte
}

// Analyze scans code and matches every structured construct with its end.
// It never fails: malformed code yields a Partial result holding whatever
// was matched before the problem.
func Analyze(code []byte) *Info {
	info := newInfo()
	var stack []openBlock

	for pos := 0; pos < len(code); {
		in, err := wasm.ReadInstruction(code, pos)
		if err != nil {
			info.Partial = true
			info.StoppedAt = pos
			info.Err = err
			return info
		}

		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpTry, wasm.OpTryTable:
			stack = append(stack, openBlock{start: pos, opcode: in.Opcode})

		case wasm.OpElse:
			if n := len(stack); n > 0 && stack[n-1].opcode == wasm.OpIf {
				info.Elses[stack[n-1].start] = pos
			}

		case wasm.OpEnd, wasm.OpDelegate:
			// the function's own closing end has nothing to pop
			if len(stack) == 0 {
				break
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.opcode == wasm.OpLoop {
				info.LoopStarts[top.start] = top.start
			} else {
				info.BlockEnds[top.start] = pos + in.Len
			}
		}

		pos += in.Len
	}

	return info
}

// BranchTarget returns where a branch to the construct opened at start
// continues: the loop itself for loops, past the end for everything else.
func (i *Info) BranchTarget(start int) (int, bool) {
	if target, ok := i.LoopStarts[start]; ok {
		return target, true
	}
	target, ok := i.BlockEnds[start]
	return target, ok
}

// ElseOf returns the offset of the else belonging to the if at start.
func (i *Info) ElseOf(start int) (int, bool) {
	off, ok := i.Elses[start]
	return off, ok
}

// Constructs returns the number of matched constructs.
func (i *Info) Constructs() int {
	return len(i.BlockEnds) + len(i.LoopStarts)
}

// FuncInfo pairs an analysis result with its function index.
type FuncInfo struct {
	*Info
	Index uint32
}

// AnalyzeModule analyzes every local function of m, in declaration order.
// Index is the function's position in the function index space.
func AnalyzeModule(m *wasm.Module) []FuncInfo {
	base := uint32(m.NumImportedFuncs())
	out := make([]FuncInfo, len(m.Functions))
	for i := range m.Functions {
		out[i] = FuncInfo{Index: base + uint32(i), Info: Analyze(m.Functions[i].Code)}
	}
	return out
}

// AnalyzeFunction analyzes one function by its index in the function
// index space. Imported functions have no body and are rejected.
func AnalyzeFunction(m *wasm.Module, funcIdx uint32) (*Info, error) {
	if m.ImportedFunc(funcIdx) != nil {
		return nil, errors.InvalidInput(errors.PhaseAnalyze,
			"function "+strconv.FormatUint(uint64(funcIdx), 10)+" is imported and has no body")
	}
	fn := m.Function(funcIdx)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseAnalyze, "function", strconv.FormatUint(uint64(funcIdx), 10))
	}
	return Analyze(fn.Code), nil
}
