// Package wasmtest assembles small WebAssembly binaries for tests.
package wasmtest

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
)

// Instruction opcodes.
const (
	OpDrop     byte = 0x1a
	OpLocalGet byte = 0x20
	OpI32Const byte = 0x41
	OpI32Eqz   byte = 0x45
	OpCall     byte = 0x10
	OpEnd      byte = 0x0b
)

const (
	sectionType     = 0x01
	sectionImport   = 0x02
	sectionFunction = 0x03
	sectionMemory   = 0x05
	sectionExport   = 0x07
	sectionCode     = 0x0a
	sectionData     = 0x0b

	kindFunc   = 0x00
	kindMemory = 0x02
)

// Module builds a binary module. Declare every import before the first Func so
// function indices stay stable.
type Module struct {
	types   [][]byte
	imports [][]byte
	funcs   []uint32
	code    [][]byte
	memory  []byte
	exports [][]byte
	data    [][]byte
}

// Type declares a function type and returns its index.
func (m *Module) Type(params, results []byte) uint32 {
	t := []byte{0x60}
	t = append(t, vec(params)...)
	t = append(t, vec(results)...)
	m.types = append(m.types, t)
	return uint32(len(m.types) - 1)
}

// Import declares an imported function and returns its function index.
func (m *Module) Import(module, name string, typeIndex uint32) uint32 {
	imp := append(Name(module), Name(name)...)
	imp = append(imp, kindFunc)
	imp = append(imp, U32(typeIndex)...)
	m.imports = append(m.imports, imp)
	return uint32(len(m.imports) - 1)
}

// Func defines a function without locals and returns its function index.
// body must end with OpEnd.
func (m *Module) Func(typeIndex uint32, body ...byte) uint32 {
	m.funcs = append(m.funcs, typeIndex)
	m.code = append(m.code, vec(append([]byte{0x00}, body...)))
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory defines the module's memory with a minimum page count.
func (m *Module) Memory(pages uint32) {
	m.memory = append([]byte{0x00}, U32(pages)...)
}

// ExportFunc exports a function.
func (m *Module) ExportFunc(name string, funcIndex uint32) {
	exp := append(Name(name), kindFunc)
	m.exports = append(m.exports, append(exp, U32(funcIndex)...))
}

// ExportMemory exports memory 0.
func (m *Module) ExportMemory(name string) {
	m.exports = append(m.exports, append(Name(name), kindMemory, 0x00))
}

// Data places content in memory 0 at offset when the module is instantiated.
func (m *Module) Data(offset int32, content []byte) {
	seg := []byte{0x00, OpI32Const}
	seg = append(seg, I32Const(offset)...)
	seg = append(seg, OpEnd)
	seg = append(seg, U32(uint32(len(content)))...)
	m.data = append(m.data, append(seg, content...))
}

// Bytes returns the encoded module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = appendSection(out, sectionType, m.types)
	out = appendSection(out, sectionImport, m.imports)
	if len(m.funcs) > 0 {
		indices := make([][]byte, len(m.funcs))
		for i, t := range m.funcs {
			indices[i] = U32(t)
		}
		out = appendSection(out, sectionFunction, indices)
	}
	if m.memory != nil {
		out = appendSection(out, sectionMemory, [][]byte{m.memory})
	}
	out = appendSection(out, sectionExport, m.exports)
	out = appendSection(out, sectionCode, m.code)
	out = appendSection(out, sectionData, m.data)
	return out
}

func appendSection(out []byte, id byte, entries [][]byte) []byte {
	if len(entries) == 0 {
		return out
	}
	content := U32(uint32(len(entries)))
	for _, e := range entries {
		content = append(content, e...)
	}
	out = append(out, id)
	out = append(out, U32(uint32(len(content)))...)
	return append(out, content...)
}

// Name encodes a length-prefixed UTF-8 name.
func Name(s string) []byte {
	return append(U32(uint32(len(s))), s...)
}

// U32 encodes v as unsigned LEB128.
func U32(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// I32Const encodes the immediate of an i32.const as signed LEB128.
func I32Const(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// Call encodes a call instruction.
func Call(funcIndex uint32) []byte {
	return append([]byte{OpCall}, U32(funcIndex)...)
}

// Const encodes an i32.const instruction.
func Const(v int32) []byte {
	return append([]byte{OpI32Const}, I32Const(v)...)
}

// Body concatenates instructions and appends OpEnd.
func Body(instrs ...[]byte) []byte {
	var out []byte
	for _, in := range instrs {
		out = append(out, in...)
	}
	return append(out, OpEnd)
}

func vec(b []byte) []byte {
	return append(U32(uint32(len(b))), b...)
}
