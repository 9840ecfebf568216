package ir

// funcEntry is one slot of the function index space: either a resolved host
// import (address only) or a translated body.
type funcEntry struct {
	imported bool
	hostAddr uintptr
	body     *Func
}

// Pvf is the compilation container: a sparse indexed collection of functions
// and signatures, the memory descriptor, the tables, and the data chunks.
// It is created and mutated only by the translator, then consumed by a code
// generator.
type Pvf struct {
	funcs      []*funcEntry
	signatures []*Signature
	memoryMin  uint32
	memoryMax  uint32
	tables     []uint32
	dataChunks [][]byte
}

// NewPvf returns an empty container.
func NewPvf() *Pvf { return &Pvf{} }

func (p *Pvf) ensureFuncSlot(index uint32) {
	for uint32(len(p.funcs)) <= index {
		p.funcs = append(p.funcs, nil)
		p.signatures = append(p.signatures, nil)
	}
}

// AddFunc registers a translated body at the given function index.
func (p *Pvf) AddFunc(index uint32, body *Func, sig Signature) {
	p.ensureFuncSlot(index)
	p.funcs[index] = &funcEntry{body: body}
	s := sig
	p.signatures[index] = &s
}

// AddFuncImport registers a resolved host function at the given index.
func (p *Pvf) AddFuncImport(index uint32, hostAddr uintptr, sig Signature) {
	p.ensureFuncSlot(index)
	p.funcs[index] = &funcEntry{imported: true, hostAddr: hostAddr}
	s := sig
	p.signatures[index] = &s
}

// AddTable appends a table with the given maximum element count. Imported
// tables are not supported.
func (p *Pvf) AddTable(maxSize uint32) {
	p.tables = append(p.tables, maxSize)
}

// AddDataChunk appends a data segment's raw bytes. They are called "data
// segments" in the Wasm spec; "data chunk" is used throughout this code to
// avoid confusion with the data segment of the OS process.
func (p *Pvf) AddDataChunk(data []byte) {
	p.dataChunks = append(p.dataChunks, append([]byte(nil), data...))
}

// SetMemory records the linear-memory descriptor in 64 KiB pages.
func (p *Pvf) SetMemory(min, max uint32) {
	p.memoryMin, p.memoryMax = min, max
}

// Memory returns the linear-memory descriptor in 64 KiB pages.
func (p *Pvf) Memory() (min, max uint32) { return p.memoryMin, p.memoryMax }

// Tables returns the maximum element count of each table.
func (p *Pvf) Tables() []uint32 { return p.tables }

// DataChunks returns the raw bytes of each data segment.
func (p *Pvf) DataChunks() [][]byte { return p.dataChunks }

// Signatures returns the signature of every function slot; import slots are
// included, empty slots are nil.
func (p *Pvf) Signatures() []*Signature { return p.signatures }

// NumFuncs returns the size of the function index space.
func (p *Pvf) NumFuncs() uint32 { return uint32(len(p.funcs)) }

// Body returns the IR of the function at index, or nil for imports and empty
// slots.
func (p *Pvf) Body(index uint32) *Func {
	if index >= uint32(len(p.funcs)) || p.funcs[index] == nil {
		return nil
	}
	return p.funcs[index].body
}
