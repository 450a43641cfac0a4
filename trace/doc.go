// Package trace defines the tables an execution trace is made of.
//
// A trace consists of:
//
//   - InstructionTable: (function stable index, position) -> operation
//   - IMTable: memory words and global values at instantiation
//   - EventTable: executed operations, ids from 1
//   - JumpTable: call transfers plus static frames
//   - ElemTable: table slot bindings used by indirect calls
//
// plus the native-index -> FuncDesc map. The tracer package fills these;
// consumers read them through Tables.
package trace
