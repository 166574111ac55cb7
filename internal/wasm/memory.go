package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
	"github.com/x448/float16"
)

// Element widths accepted by View.
const (
	WidthFloat16 = 2
	WidthFloat32 = 4
	WidthFloat64 = 8
)

// ErrOutOfBounds is wrapped by MemoryAccessError when a range leaves linear memory.
var ErrOutOfBounds = errors.New("range outside linear memory")

// LinearMemory is the part of api.Memory the views need.
// Read must return a slice aliasing the guest memory, as wazero does.
type LinearMemory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
}

// Memory provides typed access to a guest's linear memory.
//
// The guest owns every region handed to the host. Views returned here alias that
// memory: writing through a view mutates the guest in place, and a view must not be
// kept after the host call that produced it returns, since the guest may grow
// memory or reuse the region afterwards.
type Memory struct {
	mem LinearMemory
}

// NewMemory creates a memory helper for a module instance.
func NewMemory(module api.Module) *Memory {
	return &Memory{mem: module.Memory()}
}

// WrapMemory creates a memory helper over an arbitrary linear memory.
func WrapMemory(mem LinearMemory) *Memory {
	return &Memory{mem: mem}
}

// ReadString reads a null-terminated string from Wasm memory.
func (m *Memory) ReadString(ptr uint32, maxLen uint32) (string, bool) {
	buf, ok := m.mem.Read(ptr, maxLen)
	if !ok {
		return "", false
	}

	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}

	return string(buf[:end]), true
}

// ReadBytes reads raw bytes from Wasm memory.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, bool) {
	return m.mem.Read(ptr, length)
}

// View is a live typed window over linear memory.
type View interface {
	// Len returns the number of elements.
	Len() int
	// At returns element i widened to float32.
	At(i int) float32
	// Set stores v at element i, narrowing as needed.
	Set(i int, v float32)
}

// View returns a typed view of count elements of the given width starting at offset.
func (m *Memory) View(offset uint32, count int, width int) (View, error) {
	buf, err := m.region(offset, count, width)
	if err != nil {
		return nil, err
	}

	switch width {
	case WidthFloat16:
		return Float16View{buf: buf}, nil
	case WidthFloat32:
		return Float32View{buf: buf}, nil
	default:
		return Float64View{buf: buf}, nil
	}
}

// Float32s returns a float32 view, the layout used for every network tensor.
func (m *Memory) Float32s(offset uint32, count int) (Float32View, error) {
	buf, err := m.region(offset, count, WidthFloat32)
	if err != nil {
		return Float32View{}, err
	}
	return Float32View{buf: buf}, nil
}

func (m *Memory) region(offset uint32, count int, width int) ([]byte, error) {
	if width != WidthFloat16 && width != WidthFloat32 && width != WidthFloat64 {
		return nil, &MemoryAccessError{
			Operation: "view",
			Address:   offset,
			Err:       fmt.Errorf("unsupported element width %d", width),
		}
	}
	if count < 0 {
		return nil, &MemoryAccessError{
			Operation: "view",
			Address:   offset,
			Err:       fmt.Errorf("negative element count %d", count),
		}
	}

	total := uint64(count) * uint64(width)
	if total > math.MaxUint32 {
		return nil, &MemoryAccessError{Operation: "view", Address: offset, Length: math.MaxUint32, Err: ErrOutOfBounds}
	}

	buf, ok := m.mem.Read(offset, uint32(total))
	if !ok {
		return nil, &MemoryAccessError{Operation: "view", Address: offset, Length: uint32(total), Err: ErrOutOfBounds}
	}
	return buf, nil
}

// Float32View views little-endian float32 elements.
type Float32View struct {
	buf []byte
}

func (v Float32View) Len() int { return len(v.buf) / WidthFloat32 }

func (v Float32View) At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(v.buf[i*WidthFloat32:]))
}

func (v Float32View) Set(i int, f float32) {
	binary.LittleEndian.PutUint32(v.buf[i*WidthFloat32:], math.Float32bits(f))
}

// CopyFrom writes src into the view and returns the number of elements copied.
func (v Float32View) CopyFrom(src []float32) int {
	n := min(len(src), v.Len())
	for i := 0; i < n; i++ {
		v.Set(i, src[i])
	}
	return n
}

// Values copies the view out of guest memory.
func (v Float32View) Values() []float32 {
	out := make([]float32, v.Len())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}

// Float16View views little-endian IEEE half-precision elements.
type Float16View struct {
	buf []byte
}

func (v Float16View) Len() int { return len(v.buf) / WidthFloat16 }

func (v Float16View) At(i int) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(v.buf[i*WidthFloat16:])).Float32()
}

func (v Float16View) Set(i int, f float32) {
	binary.LittleEndian.PutUint16(v.buf[i*WidthFloat16:], float16.Fromfloat32(f).Bits())
}

// Float64View views little-endian float64 elements.
type Float64View struct {
	buf []byte
}

func (v Float64View) Len() int { return len(v.buf) / WidthFloat64 }

func (v Float64View) At(i int) float32 {
	return float32(math.Float64frombits(binary.LittleEndian.Uint64(v.buf[i*WidthFloat64:])))
}

func (v Float64View) Set(i int, f float32) {
	binary.LittleEndian.PutUint64(v.buf[i*WidthFloat64:], math.Float64bits(float64(f)))
}
