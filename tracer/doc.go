// Package tracer turns an instantiated module and its execution into the
// tables of package trace.
//
// Tracing has two phases. Register runs once, before execution, and builds
// the static tables:
//
//	tr, err := tracer.New(hosts, []string{"^get_.*"})
//	tr.SetHostInput(inputFunc)
//	err = tr.Register(inst)
//
// Registration assigns every function a stable index (0 for the start
// function, 1.. for the rest in native order), snapshots the initial
// memory words and globals, records element bindings, replaces phantom
// functions with stubs that fetch their results from the host input
// function, and linearizes every body into the instruction table using
// dense positions.
//
// During execution a driver reports calls and returns through RecordCall,
// RecordReturn, RecordHostCall and RecordStep, or manages frames directly
// with PushFrame and PopFrame. Every failure is returned as an
// *errors.Error; none of them is recoverable for the run that hit it.
package tracer
