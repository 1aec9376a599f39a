package kestrel

import (
	"errors"
	"fmt"
	"io"
	"log"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

// Location resolution errors.
var (
	ErrLocationNotFound    = errors.New("kestrel: location not found")
	ErrFunctionNotFound    = errors.New("kestrel: function not found")
	ErrBlockNotFound       = errors.New("kestrel: block not found")
	ErrEdgeNotFound        = errors.New("kestrel: edge not found")
	ErrInstructionNotFound = errors.New("kestrel: instruction not found")
)

// Memory access errors. These are wrapped in a *MemoryError.
var (
	ErrUnmappedAddress = errors.New("kestrel: unmapped address")
	ErrSymbolicAddress = errors.New("kestrel: symbolic address")
)

// Evaluation errors.
var (
	ErrUnsupportedExpr      = errors.New("kestrel: unsupported expression")
	ErrUnsupportedOperation = errors.New("kestrel: unsupported operation")
	ErrInvalidWidth         = errors.New("kestrel: invalid width")
	ErrSymbolicTarget       = errors.New("kestrel: symbolic branch target")
	ErrUnboundScalar        = errors.New("kestrel: unbound scalar")
)

// Endian represents the byte order of a target.
type Endian int

const (
	LittleEndian = Endian(iota)
	BigEndian
)

// String returns the lowercase name of the byte order.
func (e Endian) String() string {
	switch e {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return fmt.Sprintf("Endian<%d>", int(e))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Endian) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Endian) UnmarshalText(text []byte) error {
	switch string(text) {
	case "little", "le":
		*e = LittleEndian
	case "big", "be":
		*e = BigEndian
	default:
		return fmt.Errorf("kestrel: invalid endian: %q", text)
	}
	return nil
}

// Logger receives trace output from the engines. Discards by default.
var Logger = log.New(io.Discard, "", 0)

// SetLogger redirects engine tracing to w with the given flags.
func SetLogger(w io.Writer, flags int) {
	Logger = log.New(w, "", flags)
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
