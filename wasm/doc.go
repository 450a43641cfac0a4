// Package wasm provides WebAssembly binary format parsing and encoding.
//
// The package covers the core WebAssembly 2.0 subset the tracer works
// with: numeric value types, funcref/externref, functions, tables, a
// linear memory, globals, element and data segments in all their flag
// forms, bulk memory and table instructions, sign extension, saturating
// truncation and tail calls. SIMD, threads, GC, exception handling,
// multi-memory memargs and memory64 are rejected with an
// errors.KindUnsupported decode error.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModuleValidate(data)
//
// Structural errors carry the byte position of the failing section as a
// *ParseError.
//
// # Instructions
//
// Function bodies are kept as raw bytes in FuncBody.Code and decoded on
// demand:
//
//	instrs, err := wasm.DecodeInstructions(module.Code[0].Code)
//	for _, in := range instrs {
//	    fmt.Println(in) // e.g. "call 3"
//	}
//
// EncodeInstructions and Module.Encode produce binaries again; tests use
// them to build modules from Go literals.
package wasm
