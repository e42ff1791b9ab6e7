package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01

	// PageSize is the size of one linear memory page in bytes.
	PageSize = 65536
)

// Section IDs define the binary identifiers for each module section.
const (
	SectionCustom    byte = 0  // Custom section (can appear anywhere)
	SectionType      byte = 1  // Type section (function signatures)
	SectionImport    byte = 2  // Import section
	SectionFunction  byte = 3  // Function section (type indices)
	SectionTable     byte = 4  // Table section
	SectionMemory    byte = 5  // Memory section
	SectionGlobal    byte = 6  // Global section
	SectionExport    byte = 7  // Export section
	SectionStart     byte = 8  // Start section
	SectionElement   byte = 9  // Element section
	SectionCode      byte = 10 // Code section (function bodies)
	SectionData      byte = 11 // Data section
	SectionDataCount byte = 12 // Data count section (bulk memory)
)

var sectionNames = [...]string{
	SectionCustom:    "custom",
	SectionType:      "type",
	SectionImport:    "import",
	SectionFunction:  "function",
	SectionTable:     "table",
	SectionMemory:    "memory",
	SectionGlobal:    "global",
	SectionExport:    "export",
	SectionStart:     "start",
	SectionElement:   "element",
	SectionCode:      "code",
	SectionData:      "data",
	SectionDataCount: "data count",
}

// SectionName returns the lowercase name of a section id.
func SectionName(id byte) string {
	if int(id) < len(sectionNames) {
		return sectionNames[id]
	}
	return "unknown"
}

// Import/Export descriptor kinds identify the type of imported or exported item.
const (
	KindFunc   byte = 0 // Function import/export
	KindTable  byte = 1 // Table import/export
	KindMemory byte = 2 // Memory import/export
	KindGlobal byte = 3 // Global import/export
)

// KindName returns the display name of an import/export kind.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "function"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Value type encodings as defined in the WebAssembly binary format.
const (
	ValI32     ValType = 0x7F // 32-bit integer
	ValI64     ValType = 0x7E // 64-bit integer
	ValF32     ValType = 0x7D // 32-bit float
	ValF64     ValType = 0x7C // 64-bit float
	ValV128    ValType = 0x7B // 128-bit vector (SIMD)
	ValFuncRef ValType = 0x70 // Function reference
	ValExtern  ValType = 0x6F // External reference
)

// FuncTypeByte prefixes every entry of the type section.
const FuncTypeByte byte = 0x60

// Limits flag bits
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// BlockTypeVoid is the s33 value of the empty block type (0x40).
const BlockTypeVoid int64 = -64

// Abstract heap types as s33 values, the immediate of ref.null.
const (
	HeapTypeFunc   int64 = -16 // 0x70
	HeapTypeExtern int64 = -17 // 0x6F
)

// Control flow opcodes
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpTry                byte = 0x06 // Exception handling (legacy)
	OpCatch              byte = 0x07 // Exception handling (legacy)
	OpThrow              byte = 0x08
	OpRethrow            byte = 0x09
	OpThrowRef           byte = 0x0A
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12 // Tail call proposal
	OpReturnCallIndirect byte = 0x13 // Tail call proposal
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDelegate           byte = 0x18 // Exception handling (legacy)
	OpCatchAll           byte = 0x19 // Exception handling (legacy)
	OpTryTable           byte = 0x1F
)

// Parametric opcodes
const (
	OpDrop       byte = 0x1A
	OpSelect     byte = 0x1B
	OpSelectType byte = 0x1C
)

// Variable access opcodes
const (
	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpLocalTee  byte = 0x22
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
)

// Table opcodes
const (
	OpTableGet byte = 0x25
	OpTableSet byte = 0x26
)

// Memory opcodes. Every opcode in [OpI32Load, OpI64Store32] takes a memarg.
const (
	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpI32Store   byte = 0x36
	OpI64Store32 byte = 0x3E
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
)

// Constant opcodes
const (
	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44
)

// Numeric opcodes without immediates span this range, sign extension included.
const (
	OpNumericFirst byte = 0x45 // i32.eqz
	OpNumericLast  byte = 0xC4 // i64.extend32_s
)

// Selected numeric opcodes, used by constant expressions and fixtures.
const (
	OpI32Add byte = 0x6A
	OpI32Sub byte = 0x6B
	OpI32Mul byte = 0x6C
	OpI64Add byte = 0x7C
	OpI64Sub byte = 0x7D
	OpI64Mul byte = 0x7E
)

// Reference type opcodes
const (
	OpRefNull      byte = 0xD0
	OpRefIsNull    byte = 0xD1
	OpRefFunc      byte = 0xD2
	OpRefAsNonNull byte = 0xD3
	OpRefEq        byte = 0xD4
	OpBrOnNull     byte = 0xD5
	OpBrOnNonNull  byte = 0xD6
)

// Prefix opcodes
const (
	OpPrefixMisc   byte = 0xFC // saturating trunc, bulk memory, table ops
	OpPrefixSIMD   byte = 0xFD // 128-bit vector operations
	OpPrefixAtomic byte = 0xFE // atomic memory operations
)

// 0xFC sub-opcodes
const (
	MiscI64TruncSatF64U uint32 = 0x07 // last saturating truncation
	MiscMemoryInit      uint32 = 0x08
	MiscDataDrop        uint32 = 0x09
	MiscMemoryCopy      uint32 = 0x0A
	MiscMemoryFill      uint32 = 0x0B
	MiscTableInit       uint32 = 0x0C
	MiscElemDrop        uint32 = 0x0D
	MiscTableCopy       uint32 = 0x0E
	MiscTableGrow       uint32 = 0x0F
	MiscTableSize       uint32 = 0x10
	MiscTableFill       uint32 = 0x11
	MiscMemoryDiscard   uint32 = 0x12
)

// 0xFD sub-opcodes with immediates
const (
	SimdV128Load64Splat   uint32 = 0x0A
	SimdV128Store         uint32 = 0x0B
	SimdV128Const         uint32 = 0x0C
	SimdI8x16Shuffle      uint32 = 0x0D
	SimdI8x16ExtractLaneS uint32 = 0x15
	SimdF64x2ReplaceLane  uint32 = 0x22
	SimdV128Load8Lane     uint32 = 0x54
	SimdV128Store64Lane   uint32 = 0x5B
	SimdV128Load32Zero    uint32 = 0x5C
	SimdV128Load64Zero    uint32 = 0x5D
)

// AtomicFence is the only 0xFE sub-opcode without a memarg.
const AtomicFence uint32 = 0x03

// Catch clause kinds of try_table
const (
	CatchKindCatch       byte = 0x00
	CatchKindCatchRef    byte = 0x01
	CatchKindCatchAll    byte = 0x02
	CatchKindCatchAllRef byte = 0x03
)

// memArgMultiMemBit marks a memarg that carries an explicit memory index.
const memArgMultiMemBit = 0x40
