// Package abi defines the fixed contract between the pipeline core and
// dynamically loaded compute units ("custom node libraries").
//
// A library exposes three entry points: Execute, ReleaseBuffer and
// ReleaseTensors. Tensors and parameters cross the boundary as flat structs
// whose layout mirrors the C structs a shared library is compiled against:
// NUL-terminated names, raw data pointers with explicit byte lengths, and
// dimension arrays with explicit lengths.
//
// All pointer arithmetic needed to build and read those structs lives in
// this package. Nothing else in the module imports unsafe.
package abi
