// Package wasmtrace records execution traces of core WebAssembly modules.
//
// A trace is a set of tables describing one run: the linearized code of
// every function, the initial memory and global image, element bindings,
// and the call, return and host call events with their jump rows.
//
// # Architecture Overview
//
//	wasmtrace/          Trace: one-call decode, instantiate, register and run
//	├── wasm/           Core binary decoding, encoding and instruction model
//	├── instance/       Module instantiation with pluggable import resolution
//	├── trace/          Trace table types and JSON encoding
//	├── tracer/         Static registration and event recording
//	├── runner/         Execution under wazero with listener-driven events
//	├── config/         YAML tracing configuration
//	├── errors/         Structured error types
//	└── cmd/            wasmtrace and instantiate command line tools
//
// # Quick Start
//
//	cfg, err := config.Load("trace.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := wasmtrace.Trace(ctx, wasmBytes, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Tables.Events.Len(), "events")
//
// # Phantom Functions
//
// Exports whose names match one of the configured patterns are replaced by
// stubs that read their results from the host input function. The stub is
// what gets traced and what gets executed.
//
// # Stable Indices
//
// Every function receives a stable index: 0 for the start function, then
// 1, 2, ... in native order. All trace tables refer to functions by stable
// index.
package wasmtrace
