// Package binary decodes and encodes modules in the WebAssembly 1.0 binary
// format. Only the sections the executor handles are decoded into the model;
// custom sections are skipped, any other section is rejected unless it is
// empty.
package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/paritytech/pvf-executor/internal/wasm"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6D}
var version = []byte{0x01, 0x00, 0x00, 0x00}

// DecodeModule decodes a module from its binary representation.
func DecodeModule(binary []byte) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, magic) {
		return nil, ErrInvalidMagicNumber
	}
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %d: %w", sectionID, err)
		}

		sectionContentStart := r.Len()
		switch sectionID {
		case SectionIDCustom:
			// Name and other custom sections carry no executable content.
			if _, err = r.Seek(int64(sectionSize), io.SeekCurrent); err == io.EOF {
				err = nil
			}
		case SectionIDType:
			m.TypeSection, err = decodeTypeSection(r)
		case SectionIDImport:
			m.ImportSection, err = decodeImportSection(r)
		case SectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(r)
		case SectionIDTable:
			m.TableSection, err = decodeTableSection(r)
		case SectionIDMemory:
			m.MemorySection, err = decodeMemorySection(r)
		case SectionIDGlobal:
			m.GlobalSection, err = decodeGlobalSection(r)
		case SectionIDExport:
			m.ExportSection, err = decodeExportSection(r)
		case SectionIDElement:
			m.ElementSection, err = decodeElementSection(r)
		case SectionIDCode:
			m.CodeSection, err = decodeCodeSection(r)
		case SectionIDData:
			m.DataSection, err = decodeDataSection(r)
		default:
			if sectionSize != 0 {
				err = fmt.Errorf("unsupported section")
			}
		}
		if err != nil {
			return nil, fmt.Errorf("section ID %d: %w", sectionID, err)
		}
		if read := sectionContentStart - r.Len(); read != int(sectionSize) {
			return nil, fmt.Errorf("section ID %d: %d bytes declared, %d read", sectionID, sectionSize, read)
		}
	}
	return m, nil
}
