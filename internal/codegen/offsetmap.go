package codegen

// The segment map assigns every non-heap datum a fixed displacement from the
// linear-memory base held in R_BASE:
//
//	                +-------------------+
//	                | DataChunkN        |
//	               ~~~~~~~~~~~~~~~~~~~~~~~
//	                +-------------------+
//	                | DataChunk0        |
//	                +-------------------+
//	                | TableN            |
//	               ~~~~~~~~~~~~~~~~~~~~~~~
//	                +-------------------+
//	                | Table0            |
//	       -0x20000 +-------------------+
//	                | Globals           |
//	       -0x10000 +-------------------+
//	                | Transient VM data |
//	   base pointer +-------------------+
//	                | Linear memory     |
//	                +-------------------+
//
// Tables and data chunks are aligned to page size and grow downwards from the
// globals area; the linear memory itself sits at positive offsets.

// PageSize is the allocation granule of the segment map, matching the Wasm
// page size.
const PageSize = 0x10000

// Byte offsets of the transient VM data slots, relative to VMData().
const (
	// VMDataTmp0 stages the indirect-call selector across the ABI bridge.
	VMDataTmp0 = 0
	// VMDataMemAlloc holds the current linear-memory size in pages.
	VMDataMemAlloc = 8
	// VMDataMemTotal holds the linear-memory page limit.
	VMDataMemTotal = 16
)

const (
	vmDataOffset  = -0x10000
	globalsOffset = -0x20000
)

// OffsetMap is the computed segment map of one module: the displacement of
// every table and data chunk from the memory base.
type OffsetMap struct {
	tableOffsets []int32
	chunkOffsets []int32
	tablesPages  uint32
	chunksPages  uint32
}

// BuildOffsetMap lays tables out below the globals area and data chunks below
// the tables, each rounded up to a whole page.
func BuildOffsetMap(tables []uint32, dataChunks [][]byte) OffsetMap {
	m := OffsetMap{}
	offset := int32(globalsOffset)
	for _, maxSize := range tables {
		pages := 1 + maxSize*8/PageSize
		m.tablesPages += pages
		offset -= int32(pages) * PageSize
		m.tableOffsets = append(m.tableOffsets, offset)
	}
	for _, chunk := range dataChunks {
		pages := uint32((len(chunk)|0xffff)+1) >> 16
		m.chunksPages += pages
		offset -= int32(pages) * PageSize
		m.chunkOffsets = append(m.chunkOffsets, offset)
	}
	return m
}

// VMData returns the displacement of the transient VM data area.
func (m *OffsetMap) VMData() int32 { return vmDataOffset }

// Globals returns the displacement of the globals area.
func (m *OffsetMap) Globals() int32 { return globalsOffset }

// Table returns the displacement of table i.
func (m *OffsetMap) Table(i uint32) int32 { return m.tableOffsets[i] }

// DataChunk returns the displacement of data chunk i.
func (m *OffsetMap) DataChunk(i uint32) int32 { return m.chunkOffsets[i] }

// TablesPages returns the page count of all tables together.
func (m *OffsetMap) TablesPages() uint32 { return m.tablesPages }

// DataChunksPages returns the page count of all data chunks together.
func (m *OffsetMap) DataChunksPages() uint32 { return m.chunksPages }

// TotalBelowPages returns how many pages sit below the memory base: the VM
// data page, the globals page, the tables and the data chunks.
func (m *OffsetMap) TotalBelowPages() uint32 {
	return 2 + m.tablesPages + m.chunksPages
}
