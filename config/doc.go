// Package config reads tracing configuration files.
//
// A file names the entry export, the host input import, phantom function
// patterns, the host function table and the input queues:
//
//	entry: zkmain
//	host_input: {module: env, name: wasm_input}
//	phantom_functions: ["^get_.*"]
//	host_functions:
//	  - {module: env, name: wasm_input, kind: internal, plugin: host_input}
//	  - {module: env, name: log, kind: external, op: 1, params: [i64]}
//	inputs: {public: [1, 2], private: [3]}
//
// Host slots are list positions. HostTable and Resolver turn the list
// into the tracer's descriptor table and a matching import resolver.
package config
