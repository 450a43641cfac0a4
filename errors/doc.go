// Package errors provides structured error types for the wasm-trace module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Tracer failures fall into two groups: configuration errors found while
// registering a module instance (missing host descriptor, invalid phantom
// pattern, missing host input) and internal consistency errors found on
// lookups that must succeed by construction (unregistered function,
// missing instruction row, duplicate row, frame stack underflow). Both
// abort the trace-building run.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRegister, errors.KindMissingHostDesc).
//		Path("env.wasm_input").
//		Detail("no descriptor for slot %d", 3).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.FrameUnderflow("pop_frame")
//	err := errors.OutOfBounds(errors.PhaseRegister, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
