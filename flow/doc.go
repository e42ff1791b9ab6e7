// Package flow matches structured control flow in WebAssembly function bodies.
//
// Analyze performs a single left-to-right scan over a function's instruction
// bytes and pairs every block, loop, if and try with its end:
//
//	info := flow.Analyze(fn.Code)
//	for start, end := range info.BlockEnds {
//	    fmt.Printf("block at %d continues at %d\n", start, end)
//	}
//
// A branch to a loop label jumps back to the loop's start; a branch to any
// other label continues just past the matching end. BranchTarget resolves
// both cases.
//
// Immediates are decoded with their real widths, so multi-byte LEB128
// operands, memargs and br_table vectors never desynchronise the scan. When
// the scan meets an opcode it does not know, or an immediate runs past the
// end of the code, it stops and marks the result Partial. Constructs still
// open at that point are not reported.
package flow
