package pvf

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/paritytech/pvf-executor/internal/codegen"
	"github.com/paritytech/pvf-executor/internal/platform"
)

// PvfInstance is one executable incarnation of a prepared module: a
// read-execute code mapping, a read-write data mapping laid out per the
// segment map, and the export table. Instances are independent of each other
// but individually not reentrant: the linear memory, globals and tables are
// shared mutable state with no locking, so exported functions must be called
// sequentially.
type PvfInstance struct {
	codeSeg     []byte
	dataSeg     []byte
	codeBase    uintptr
	entryPoints map[string]int
}

// Instantiate maps a prepared module into memory: it stages the data chunks
// below the linear-memory base, seeds the transient VM data, applies the
// remaining relocations against the runtime addresses, seals the code
// mapping read-execute, and runs the initializer.
func Instantiate(p *PreparedPvf) (*PvfInstance, error) {
	dataPages := p.offsetMap.TotalBelowPages() + p.memoryMin
	dataSeg, err := platform.MmapData(int(dataPages) * codegen.PageSize)
	if err != nil {
		return nil, fmt.Errorf("map data region: %w", err)
	}
	membaseOff := int(p.offsetMap.TotalBelowPages()) * codegen.PageSize
	membase := uintptr(unsafe.Pointer(&dataSeg[0])) + uintptr(membaseOff)

	for i, chunk := range p.dataChunks {
		off := membaseOff + int(p.offsetMap.DataChunk(uint32(i)))
		copy(dataSeg[off:], chunk)
	}

	vmData := membaseOff + int(p.offsetMap.VMData())
	binary.LittleEndian.PutUint64(dataSeg[vmData+codegen.VMDataMemAlloc:], uint64(p.memoryMin))
	binary.LittleEndian.PutUint64(dataSeg[vmData+codegen.VMDataMemTotal:], uint64(p.memoryMax))

	codeSeg, err := platform.MmapCode((p.CodeLen() | 0xfff) + 1)
	if err != nil {
		_ = platform.Munmap(dataSeg)
		return nil, fmt.Errorf("map code region: %w", err)
	}
	copy(codeSeg, p.code)
	codeBase := uintptr(unsafe.Pointer(&codeSeg[0]))

	for _, reloc := range p.relocs {
		site := codeSeg[reloc.Offset : reloc.Offset+8]
		switch reloc.Kind {
		case codegen.RelocMemoryAbsolute64:
			binary.LittleEndian.PutUint64(site, uint64(membase))
		case codegen.RelocFunctionAbsoluteAddress:
			// The linker left a code-relative offset here; rebase it.
			binary.LittleEndian.PutUint64(site, uint64(codeBase)+binary.LittleEndian.Uint64(site))
		case codegen.RelocLabelAbsoluteAddress:
			offset, ok := p.labels[reloc.Label]
			if !ok {
				_ = platform.Munmap(dataSeg)
				_ = platform.Munmap(codeSeg)
				return nil, fmt.Errorf("relocation against undefined label %+v", reloc.Label)
			}
			binary.LittleEndian.PutUint64(site, uint64(codeBase)+uint64(offset))
		}
	}

	if err := platform.MakeExecutable(codeSeg); err != nil {
		_ = platform.Munmap(dataSeg)
		_ = platform.Munmap(codeSeg)
		return nil, fmt.Errorf("make code region executable: %w", err)
	}

	inst := &PvfInstance{
		codeSeg:     codeSeg,
		dataSeg:     dataSeg,
		codeBase:    codeBase,
		entryPoints: p.ExportedFuncs(),
	}
	logrus.WithFields(logrus.Fields{
		"code_len":   p.CodeLen(),
		"data_pages": dataPages,
		"exports":    len(inst.entryPoints),
	}).Debug("instantiated module")

	if offset, ok := inst.entryPoints[initFuncName]; ok {
		nativecall(inst.codeBase+uintptr(offset), nil, 0)
	}
	return inst, nil
}

// Call invokes the exported function by name. Every parameter occupies one
// 64-bit slot regardless of its Wasm value type, and the result comes back
// the same way; the caller is responsible for matching the function's arity
// and interpreting the value kinds, no dynamic check is performed. The call
// is synchronous and any trap in compiled code surfaces as a native signal.
func (i *PvfInstance) Call(name string, params ...uint64) (uint64, error) {
	offset, ok := i.entryPoints[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrExportNotFound)
	}
	var args *uint64
	if len(params) > 0 {
		args = &params[0]
	}
	return nativecall(i.codeBase+uintptr(offset), args, uintptr(len(params))), nil
}

// Close releases the instance's memory mappings. The instance must not be
// used afterwards.
func (i *PvfInstance) Close() error {
	if i.codeSeg != nil {
		if err := platform.Munmap(i.codeSeg); err != nil {
			return err
		}
		i.codeSeg = nil
	}
	if i.dataSeg != nil {
		if err := platform.Munmap(i.dataSeg); err != nil {
			return err
		}
		i.dataSeg = nil
	}
	return nil
}
