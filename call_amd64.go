package pvf

// nativecall transfers control to compiled code at the given address under
// the System-V AMD64 calling convention: the first six arguments go into
// registers, the rest onto the native stack in the layout the generated
// prologue expects. It runs on the caller's stack and returns whatever the
// callee leaves in rax.
//
//go:noescape
func nativecall(code uintptr, args *uint64, n uintptr) uint64
