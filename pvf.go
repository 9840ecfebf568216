// Package pvf is an ahead-of-time compiler and executor for WebAssembly 1.0
// modules. A module's binary is translated into a register-style IR, lowered
// to x86-64 machine code, linked, and mapped into executable memory; the host
// then invokes exported functions by name.
//
// The pipeline mirrors its stages in the API:
//
//	raw := pvf.FromBytes(wasmBytes)
//	irp, err := raw.Translate(resolver)
//	prepared := irp.Compile(pvf.NewIntelX64Compiler())
//	instance, err := pvf.Instantiate(prepared)
//	ret, err := instance.Call("test", 12)
//
// Floating point, post-MVP proposals and non-x86-64 targets are out of scope.
package pvf

import (
	"fmt"
	"os"

	"github.com/paritytech/pvf-executor/internal/codegen"
	"github.com/paritytech/pvf-executor/internal/codegen/amd64"
	"github.com/paritytech/pvf-executor/internal/wasm/binary"
)

// ImportResolver supplies host functions for the module's imports. The
// returned address must point to code obeying the System-V AMD64 ABI and be
// callable with the declared parameter and result arity (every value is one
// 64-bit slot). Returning an error fails translation with
// UnresolvedImportError.
type ImportResolver func(module, field string, params, results uint32) (uintptr, error)

// CodeGenerator lowers translated IR to machine code. NewIntelX64Compiler
// returns the only implementation.
type CodeGenerator = codegen.CodeGenerator

// NewIntelX64Compiler returns the x86-64 System-V code generator.
func NewIntelX64Compiler() CodeGenerator { return amd64.New() }

// RawPvf is an undecoded module binary, the entry point of the pipeline.
type RawPvf struct {
	wasmCode []byte
}

// FromBytes wraps a module binary.
func FromBytes(code []byte) *RawPvf {
	return &RawPvf{wasmCode: append([]byte(nil), code...)}
}

// FromFile reads a module binary from a file.
func FromFile(path string) (*RawPvf, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	return &RawPvf{wasmCode: code}, nil
}

// Translate decodes the module and lowers every function to IR, resolving
// imports through the resolver. The resolver may be nil for modules without
// function imports.
func (r *RawPvf) Translate(resolver ImportResolver) (*IrPvf, error) {
	module, err := binary.DecodeModule(r.wasmCode)
	if err != nil {
		return nil, fmt.Errorf("parse module: %w", err)
	}
	irPvf, err := translate(module, resolver)
	if err != nil {
		return nil, err
	}
	return &IrPvf{inner: irPvf}, nil
}
