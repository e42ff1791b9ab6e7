package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasmscope/wasm/internal/binary"
)

// Errors surfaced while walking instruction bytes.
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = binary.ErrUnexpectedEnd
	ErrOverflow      = binary.ErrOverflow
)

// Instruction represents a decoded WebAssembly instruction.
// Offset and Len locate it within the code it was read from.
type Instruction struct {
	Imm       any
	Offset    int
	Len       int
	SubOpcode uint32 // for 0xFC, 0xFD and 0xFE prefixed instructions
	Opcode    byte
}

// BlockImm holds the block type for block, loop, if, and try instructions.
type BlockImm struct {
	Type int64 // -64=void, negative value type, >=0 type index
}

// BranchImm holds the label index for br, br_if and similar instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// IndexImm holds a single index immediate: local, global, table, tag or type.
type IndexImm struct {
	Idx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// ConstImm holds the value of a *.const instruction.
type ConstImm struct {
	Value Value
}

// RefNullImm holds the heap type for ref.null.
type RefNullImm struct {
	HeapType int64
}

// OperandsImm holds the index operands of prefixed instructions.
type OperandsImm struct {
	Operands []uint32
}

// SelectTypeImm holds value types for typed select.
type SelectTypeImm struct {
	Types []ValType
}

// CatchClause represents a single catch clause in try_table.
type CatchClause struct {
	Kind     byte
	TagIdx   uint32
	LabelIdx uint32
}

// TryTableImm holds immediates for try_table instruction.
type TryTableImm struct {
	Catches   []CatchClause
	BlockType int64
}

// CallTarget returns the callee if this is a direct call.
func (i Instruction) CallTarget() (uint32, bool) {
	if i.Opcode == OpCall || i.Opcode == OpReturnCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// ReadInstruction decodes the instruction starting at code[pos].
func ReadInstruction(code []byte, pos int) (Instruction, error) {
	if pos < 0 || pos >= len(code) {
		return Instruction{}, &binary.ParseError{Position: pos, Err: ErrTruncated}
	}
	return readInstruction(binary.NewReaderAt(code[pos:], pos))
}

// DecodeInstructions decodes a sequence of instructions from raw bytes.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	// roughly 2 bytes per instruction on average
	instrs := make([]Instruction, 0, len(code)/2)
	for !r.EOF() {
		instr, err := readInstruction(r)
		if err != nil {
			return instrs, err
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func readInstruction(r *binary.Reader) (Instruction, error) {
	start := r.Position()
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: op, Offset: start}
	if err := readImmediate(r, &instr); err != nil {
		return Instruction{}, err
	}
	instr.Len = r.Position() - start
	return instr, nil
}

func readImmediate(r *binary.Reader, instr *Instruction) error {
	op := instr.Opcode
	switch {
	case op >= OpNumericFirst && op <= OpNumericLast:
		return nil
	case op >= OpI32Load && op <= OpI64Store32:
		imm, err := readMemArg(r)
		instr.Imm = imm
		return err
	}

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect,
		OpRefIsNull, OpRefAsNonNull, OpRefEq, OpCatchAll, OpThrowRef:
		return nil

	case OpBlock, OpLoop, OpIf, OpTry:
		bt, err := r.ReadS33()
		instr.Imm = BlockImm{Type: bt}
		return err

	case OpBr, OpBrIf, OpRethrow, OpDelegate, OpBrOnNull, OpBrOnNonNull:
		idx, err := r.ReadU32()
		instr.Imm = BranchImm{LabelIdx: idx}
		return err

	case OpBrTable:
		count, err := r.ReadCount(1)
		if err != nil {
			return err
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return err
			}
		}
		def, err := r.ReadU32()
		instr.Imm = BrTableImm{Labels: labels, Default: def}
		return err

	case OpCall, OpReturnCall:
		idx, err := r.ReadU32()
		instr.Imm = CallImm{FuncIdx: idx}
		return err

	case OpCallIndirect, OpReturnCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		tableIdx, err := r.ReadU32()
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}
		return err

	case OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet,
		OpTableGet, OpTableSet, OpCatch, OpThrow, OpCallRef, OpReturnCallRef,
		OpMemorySize, OpMemoryGrow, OpRefFunc:
		idx, err := r.ReadU32()
		instr.Imm = IndexImm{Idx: idx}
		return err

	case OpI32Const:
		v, err := r.ReadS32()
		instr.Imm = ConstImm{Value: I32(v)}
		return err

	case OpI64Const:
		v, err := r.ReadS64()
		instr.Imm = ConstImm{Value: I64(v)}
		return err

	case OpF32Const:
		v, err := r.ReadF32()
		instr.Imm = ConstImm{Value: F32(v)}
		return err

	case OpF64Const:
		v, err := r.ReadF64()
		instr.Imm = ConstImm{Value: F64(v)}
		return err

	case OpRefNull:
		ht, err := r.ReadS33()
		instr.Imm = RefNullImm{HeapType: ht}
		return err

	case OpSelectType:
		count, err := r.ReadCount(1)
		if err != nil {
			return err
		}
		types := make([]ValType, count)
		for i := range types {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			types[i] = ValType(b)
		}
		instr.Imm = SelectTypeImm{Types: types}
		return nil

	case OpTryTable:
		bt, err := r.ReadS33()
		if err != nil {
			return err
		}
		count, err := r.ReadCount(2)
		if err != nil {
			return err
		}
		catches := make([]CatchClause, count)
		for i := range catches {
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			catches[i].Kind = kind
			if kind == CatchKindCatch || kind == CatchKindCatchRef {
				if catches[i].TagIdx, err = r.ReadU32(); err != nil {
					return err
				}
			}
			if catches[i].LabelIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		instr.Imm = TryTableImm{BlockType: bt, Catches: catches}
		return nil

	case OpPrefixMisc:
		return readMiscImmediate(r, instr)
	case OpPrefixSIMD:
		return readSIMDImmediate(r, instr)
	case OpPrefixAtomic:
		return readAtomicImmediate(r, instr)
	}

	return &binary.ParseError{
		Position: instr.Offset,
		Err:      fmt.Errorf("%w 0x%02x", ErrUnknownOpcode, op),
	}
}

func readMiscImmediate(r *binary.Reader, instr *Instruction) error {
	subOp, err := r.ReadU32()
	if err != nil {
		return err
	}
	instr.SubOpcode = subOp

	var n int
	switch subOp {
	case MiscMemoryInit, MiscTableInit, MiscMemoryCopy, MiscTableCopy:
		n = 2
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop,
		MiscTableGrow, MiscTableSize, MiscTableFill, MiscMemoryDiscard:
		n = 1
	default:
		if subOp > MiscI64TruncSatF64U {
			return &binary.ParseError{
				Position: instr.Offset,
				Err:      fmt.Errorf("%w 0xfc 0x%02x", ErrUnknownOpcode, subOp),
			}
		}
		// saturating truncations
		return nil
	}

	ops := make([]uint32, n)
	for i := range ops {
		if ops[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	instr.Imm = OperandsImm{Operands: ops}
	return nil
}

func readSIMDImmediate(r *binary.Reader, instr *Instruction) error {
	subOp, err := r.ReadU32()
	if err != nil {
		return err
	}
	instr.SubOpcode = subOp

	switch {
	case subOp <= SimdV128Load64Splat || subOp == SimdV128Store,
		subOp == SimdV128Load32Zero || subOp == SimdV128Load64Zero:
		imm, err := readMemArg(r)
		instr.Imm = imm
		return err

	case subOp == SimdV128Const || subOp == SimdI8x16Shuffle:
		return r.Skip(16)

	case subOp >= SimdI8x16ExtractLaneS && subOp <= SimdF64x2ReplaceLane:
		_, err := r.ReadByte()
		return err

	case subOp >= SimdV128Load8Lane && subOp <= SimdV128Store64Lane:
		imm, err := readMemArg(r)
		if err != nil {
			return err
		}
		instr.Imm = imm
		_, err = r.ReadByte()
		return err
	}
	// most SIMD instructions have no immediates
	return nil
}

func readAtomicImmediate(r *binary.Reader, instr *Instruction) error {
	subOp, err := r.ReadU32()
	if err != nil {
		return err
	}
	instr.SubOpcode = subOp

	if subOp == AtomicFence {
		// atomic.fence has a single reserved byte
		_, err := r.ReadByte()
		return err
	}
	imm, err := readMemArg(r)
	instr.Imm = imm
	return err
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}

	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		memIdx, err = r.ReadU32()
		if err != nil {
			return MemoryImm{}, err
		}
	}

	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}

	return MemoryImm{
		Align:  alignRaw &^ uint32(memArgMultiMemBit),
		Offset: offset,
		MemIdx: memIdx,
	}, nil
}
