package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"

	wasmtrace "github.com/wippyai/wasm-trace"
	"github.com/wippyai/wasm-trace/config"
	"github.com/wippyai/wasm-trace/instance"
	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/tracer"
	"go.uber.org/zap"
)

type options struct {
	wasmFile    string
	configFile  string
	entry       string
	public      string
	private     string
	jsonOut     string
	stats       bool
	interactive bool
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.wasmFile, "wasm", "", "Path to core wasm module")
	flag.StringVar(&o.configFile, "config", "", "Tracing configuration (YAML)")
	flag.StringVar(&o.entry, "entry", "", "Entry export (overrides config)")
	flag.StringVar(&o.public, "public", "", "Public inputs (comma-separated, overrides config)")
	flag.StringVar(&o.private, "private", "", "Private inputs (comma-separated, overrides config)")
	flag.StringVar(&o.jsonOut, "json", "", "Write the trace tables as JSON to this file")
	flag.BoolVar(&o.stats, "stats", false, "Print instruction statistics")
	flag.BoolVar(&o.interactive, "i", false, "Browse the trace tables in a TUI")
	flag.BoolVar(&o.verbose, "v", false, "Verbose logging")
	flag.Parse()

	if o.wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmtrace -wasm <file.wasm> [-config trace.yaml] [-entry name]")
		fmt.Fprintln(os.Stderr, "       wasmtrace -wasm <file.wasm> -public 1,2 -private 3 [-stats] [-json out.json]")
		fmt.Fprintln(os.Stderr, "       wasmtrace -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	ctx := context.Background()

	log := zap.NewNop()
	if o.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer l.Sync() //nolint:errcheck
		log = l
		instance.SetLogger(l)
		tracer.SetLogger(l)
	}

	cfg := config.Default()
	if o.configFile != "" {
		c, err := config.Load(o.configFile)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = c
	}
	if err := applyOverrides(cfg, o); err != nil {
		return err
	}

	data, err := os.ReadFile(o.wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	res, err := wasmtrace.Trace(ctx, data, cfg, wasmtrace.WithLogger(log))
	if err != nil {
		return fmt.Errorf("trace %s: %w", cfg.Entry, err)
	}

	tables := res.Tables
	if o.jsonOut != "" {
		if err := writeJSON(o.jsonOut, tables); err != nil {
			return err
		}
	}
	if o.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(o.wasmFile, tables, res.Values)
	}

	printSummary(o.wasmFile, tables)
	if o.stats {
		stats, err := res.Tracer.InstructionStatistics()
		if err != nil {
			return err
		}
		printStats(stats)
	}

	fmt.Printf("\nResult: %v\n", res.Values)
	return nil
}

func applyOverrides(cfg *config.Config, o options) error {
	if o.entry != "" {
		cfg.Entry = o.entry
	}
	if o.public != "" {
		v, err := parseInputs(o.public)
		if err != nil {
			return fmt.Errorf("-public: %w", err)
		}
		cfg.Inputs.Public = v
	}
	if o.private != "" {
		v, err := parseInputs(o.private)
		if err != nil {
			return fmt.Errorf("-private: %w", err)
		}
		cfg.Inputs.Private = v
	}
	return nil
}

func parseInputs(s string) ([]uint64, error) {
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 0, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func writeJSON(path string, tables *trace.Tables) error {
	data, err := json.MarshalIndent(tables, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printSummary(file string, t *trace.Tables) {
	fmt.Printf("Module: %s\n", file)
	fmt.Printf("Functions: %d\n", len(t.Funcs))
	fmt.Printf("Instructions: %d\n", t.Instructions.Len())
	fmt.Printf("Image rows: %d (memory %d, globals %d)\n",
		t.Image.Len(), len(t.Image.Memory()), len(t.Image.Globals()))
	fmt.Printf("Memory pages: init %d, max %d\n", t.Configure.InitMemoryPages, t.Configure.MaximalMemoryPages)
	fmt.Printf("Elements: %d\n", t.Elems.Len())
	fmt.Printf("Events: %d\n", t.Events.Len())
	fmt.Printf("Jumps: %d\n", t.Jumps.Len())
}

func printStats(stats map[string]int) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if stats[names[i]] != stats[names[j]] {
			return stats[names[i]] > stats[names[j]]
		}
		return names[i] < names[j]
	})

	fmt.Printf("\nInstruction statistics:\n")
	for _, name := range names {
		fmt.Printf("  %-24s %d\n", name, stats[name])
	}
}
