// Package dex models class containers: class definitions, method bodies and
// the instruction set, together with the binary container format they are
// stored in.
//
// # Architecture Overview
//
//   - Opcodes: the Dalvik instruction set. Each opcode has exactly one
//     operand Format, an optional reference kind and control-flow flags.
//     Optimized opcodes carry FlagOdex and an OdexKind.
//
//   - Codec: decodes 16-bit code units into Instructions with symbolic
//     references and encodes them back. Branch and payload targets are
//     absolute code-unit addresses.
//
//   - File: a parsed container. Classes are decoded on demand, so one
//     malformed class does not prevent reading the others.
//
//   - Builder: an append-only, concurrency-safe accumulator of classes.
//     Pools are sorted when the container is serialized, so the output does
//     not depend on the order classes were added.
//
// # Container Format
//
// A container is the 8-byte Magic followed by one canonical CBOR document
// holding the optimization version, the string, type, proto, field and
// method pools, and the class items. Method code is stored as real
// instruction encodings.
package dex
