// Command instantiate decodes, validates and instantiates a core module
// with every import resolved, then runs its start function under wazero.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/wasm"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: instantiate <file.wasm>")
		os.Exit(1)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	ctx := context.Background()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	m, err := wasm.ParseModuleValidate(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	inst, err := instance.Instantiate(m, &instance.ResolveAll{})
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}

	fmt.Printf("Module: %s\n", path)
	fmt.Printf("Functions: %d (%d imported)\n", len(inst.Funcs()), m.NumImportedFuncs())
	fmt.Printf("Globals: %d\n", len(inst.Globals()))
	fmt.Printf("Memories: %d\n", len(inst.Memories()))
	fmt.Printf("Tables: %d\n", len(inst.Tables()))
	fmt.Printf("Exports: %d\n", len(inst.Exports()))

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	if err := provideImports(ctx, rt, m); err != nil {
		return err
	}
	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer mod.Close(ctx)

	if _, ok := inst.Start(); ok {
		fmt.Println("Start function: ok")
	}
	return nil
}
