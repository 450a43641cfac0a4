// Package runner executes a registered module under wazero and feeds the
// calls it observes into a tracer.
//
// The module is re-encoded from the instance the tracer registered, with
// phantom bodies replaced by their stubs, so the code wazero runs matches
// the instruction table. Guest calls are observed through wazero's
// experimental function listeners; host imports are served by Go functions
// that record a host call event and then answer the call:
//
//	r, err := runner.New(tr, runner.Config{
//		Entry:  "main",
//		Inputs: runner.Inputs{Public: []uint64{1, 2}},
//	})
//	results, err := r.Run(ctx)
//
// The host input function pops the public queue when its argument is
// non-zero and the private queue otherwise. WASI imports are bound to
// wazero's wasi_snapshot_preview1 implementation and are not traced.
package runner
