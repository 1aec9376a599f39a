package kestrel

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// MemoryError is returned when a memory access cannot be performed.
type MemoryError struct {
	Op      string // "load" or "store"
	Address uint64
	Err     error
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	return fmt.Sprintf("%s 0x%x: %s", e.Op, e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *MemoryError) Unwrap() error { return e.Err }

// SymbolicMemory is a byte-addressable store of 8-bit symbolic expressions.
//
// Wider values are split into bytes on store and reassembled on load using
// the memory's endianness. The byte map is persistent so Clone is O(1) and
// forked engines share unchanged bytes.
type SymbolicMemory struct {
	wordSize uint
	endian   Endian
	bytes    *immutable.SortedMap // uint64 -> Expr

	// When Strict is set, accesses to bytes that were never stored, loaded
	// from a segment, or reserved fail with ErrUnmappedAddress instead of
	// producing fresh symbolic bytes.
	Strict bool
}

// NewSymbolicMemory returns an empty memory for a target with the given word
// size in bits and byte order.
func NewSymbolicMemory(wordSize uint, endian Endian) *SymbolicMemory {
	return &SymbolicMemory{
		wordSize: wordSize,
		endian:   endian,
		bytes:    immutable.NewSortedMap(&uint64Comparer{}),
	}
}

// WordSize returns the target word size in bits.
func (m *SymbolicMemory) WordSize() uint { return m.wordSize }

// Endian returns the byte order of the memory.
func (m *SymbolicMemory) Endian() Endian { return m.endian }

// Len returns the number of populated bytes.
func (m *SymbolicMemory) Len() int { return m.bytes.Len() }

// Clone returns an independent copy of the memory.
func (m *SymbolicMemory) Clone() *SymbolicMemory {
	other := *m
	return &other
}

// IsMapped returns true if the byte at address has been populated.
func (m *SymbolicMemory) IsMapped(address uint64) bool {
	_, ok := m.bytes.Get(address)
	return ok
}

// Store writes value at address. The width of value must be a boolean or a
// whole number of bytes.
func (m *SymbolicMemory) Store(address uint64, value Expr) error {
	width := ExprWidth(value)
	if width == WidthBool {
		value, width = NewZExtExpr(value, Width8), Width8
	} else if width%8 != 0 {
		return &MemoryError{Op: "store", Address: address, Err: fmt.Errorf("%w: %d", ErrInvalidWidth, width)}
	}

	n := uint64(width / 8)
	if m.Strict {
		for i := uint64(0); i < n; i++ {
			if !m.IsMapped(address + i) {
				return &MemoryError{Op: "store", Address: address + i, Err: ErrUnmappedAddress}
			}
		}
	}

	for i := uint64(0); i < n; i++ {
		m.storeByte(address+m.byteOffset(i, n), NewExtractExpr(value, uint(i)*8, Width8))
	}
	return nil
}

// Load reads width bits starting at address. Bytes that have never been
// written are replaced by fresh symbolic bytes named after their address, and
// those bytes are remembered so later loads observe the same value.
func (m *SymbolicMemory) Load(address uint64, width uint) (Expr, error) {
	if width == WidthBool {
		b, err := m.loadByte(address)
		if err != nil {
			return nil, err
		}
		return NewExtractExpr(b, 0, WidthBool), nil
	} else if width == 0 || width%8 != 0 {
		return nil, &MemoryError{Op: "load", Address: address, Err: fmt.Errorf("%w: %d", ErrInvalidWidth, width)}
	}

	var result Expr
	for i, n := uint64(0), uint64(width/8); i < n; i++ {
		b, err := m.loadByte(address + m.byteOffset(i, n))
		if err != nil {
			return nil, err
		}

		if i == 0 {
			result = b
		} else {
			result = NewConcatExpr(b, result)
		}
	}
	return result, nil
}

// Reserve populates size bytes starting at address with zeros.
func (m *SymbolicMemory) Reserve(address, size uint64) {
	zero := NewConstantExpr(0, Width8)
	for i := uint64(0); i < size; i++ {
		m.storeByte(address+i, zero)
	}
}

// byteOffset returns the offset from the base address of the i-th least
// significant byte of an n-byte value.
func (m *SymbolicMemory) byteOffset(i, n uint64) uint64 {
	if m.endian == BigEndian {
		return n - i - 1
	}
	return i
}

func (m *SymbolicMemory) storeByte(address uint64, value Expr) {
	assert(ExprWidth(value) == Width8, "store byte: invalid width: %d", ExprWidth(value))
	m.bytes = m.bytes.Set(address, value)
}

func (m *SymbolicMemory) loadByte(address uint64) (Expr, error) {
	if v, ok := m.bytes.Get(address); ok {
		return v.(Expr), nil
	} else if m.Strict {
		return nil, &MemoryError{Op: "load", Address: address, Err: ErrUnmappedAddress}
	}

	b := NewScalarExpr(fmt.Sprintf("mem_%x", address), Width8)
	m.storeByte(address, b)
	return b, nil
}

// String returns a listing of every populated byte in address order.
func (m *SymbolicMemory) String() string {
	var buf bytes.Buffer
	itr := m.bytes.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%016x: %s\n", k.(uint64), v.(Expr))
	}
	return buf.String()
}

// uint64Comparer orders addresses. Implements immutable.Comparer.
type uint64Comparer struct{}

func (c *uint64Comparer) Compare(a, b interface{}) int {
	if x, y := a.(uint64), b.(uint64); x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}
