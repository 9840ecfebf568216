//go:build linux || darwin

// Package platform wraps the memory-mapping primitives the instance layer
// needs: anonymous read-write regions for data, and regions that transition
// from read-write to read-execute once machine code is patched in (W^X).
package platform

import (
	"golang.org/x/sys/unix"
)

// MmapData allocates an anonymous read-write mapping of the given size.
func MmapData(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// MmapCode allocates an anonymous read-write mapping that MakeExecutable can
// later seal. It is mapped writable first so relocations can be applied.
func MmapCode(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// MakeExecutable transitions a mapping obtained from MmapCode to
// read-execute. The mapping is not writable afterwards.
func MakeExecutable(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
}

// Munmap releases a mapping.
func Munmap(b []byte) error {
	return unix.Munmap(b)
}
