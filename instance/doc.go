// Package instance builds the live object graph of an instantiated module:
// functions, globals, memories, tables, the export map and the element
// bindings written by active segments.
//
// Imports are satisfied by a Resolver. ResolveAll accepts everything and is
// what the smoke-test command uses; SlotResolver binds function imports to
// configured host slots:
//
//	r := instance.NewSlotResolver(map[string]int{"env#wasm_input": 0})
//	inst, err := instance.Instantiate(module, r)
//
// The start function is recorded but never executed here.
package instance
