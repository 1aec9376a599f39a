package kestrel_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/kestrel"
	"github.com/google/go-cmp/cmp"
)

func TestSymbolicMemory_Store(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		for _, endian := range []kestrel.Endian{kestrel.LittleEndian, kestrel.BigEndian} {
			t.Run(endian.String(), func(t *testing.T) {
				t.Run("Byte", func(t *testing.T) {
					m := kestrel.NewSymbolicMemory(64, endian)
					if err := m.Store(0x1000, kestrel.NewConstantExpr(0xAB, 8)); err != nil {
						t.Fatal(err)
					}
					if v, err := m.Load(0x1000, 8); err != nil {
						t.Fatal(err)
					} else if diff := cmp.Diff(kestrel.NewConstantExpr(0xAB, 8), v); diff != "" {
						t.Fatal(diff)
					}
				})

				t.Run("Word", func(t *testing.T) {
					m := kestrel.NewSymbolicMemory(64, endian)
					if err := m.Store(0x1000, kestrel.NewConstantExpr(0x1122334455667788, 64)); err != nil {
						t.Fatal(err)
					}
					if v, err := m.Load(0x1000, 64); err != nil {
						t.Fatal(err)
					} else if diff := cmp.Diff(kestrel.NewConstantExpr(0x1122334455667788, 64), v); diff != "" {
						t.Fatal(diff)
					}
				})

				t.Run("Symbolic", func(t *testing.T) {
					x := kestrel.NewScalarExpr("x", 32)
					m := kestrel.NewSymbolicMemory(64, endian)
					if err := m.Store(0x1000, x); err != nil {
						t.Fatal(err)
					}
					if v, err := m.Load(0x1000, 32); err != nil {
						t.Fatal(err)
					} else if diff := cmp.Diff(x, v); diff != "" {
						t.Fatal(diff)
					}
				})
			})
		}
	})

	t.Run("LittleEndianBytes", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(32, kestrel.LittleEndian)
		if err := m.Store(0x2000, kestrel.NewConstantExpr(0x11223344, 32)); err != nil {
			t.Fatal(err)
		}
		for i, want := range []uint64{0x44, 0x33, 0x22, 0x11} {
			if v, err := m.Load(0x2000+uint64(i), 8); err != nil {
				t.Fatal(err)
			} else if diff := cmp.Diff(kestrel.NewConstantExpr(want, 8), v); diff != "" {
				t.Fatalf("byte %d: %s", i, diff)
			}
		}
	})

	t.Run("BigEndianBytes", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(32, kestrel.BigEndian)
		if err := m.Store(0x2000, kestrel.NewConstantExpr(0x11223344, 32)); err != nil {
			t.Fatal(err)
		}
		for i, want := range []uint64{0x11, 0x22, 0x33, 0x44} {
			if v, err := m.Load(0x2000+uint64(i), 8); err != nil {
				t.Fatal(err)
			} else if diff := cmp.Diff(kestrel.NewConstantExpr(want, 8), v); diff != "" {
				t.Fatalf("byte %d: %s", i, diff)
			}
		}
	})

	t.Run("PartialOverwrite", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(32, kestrel.LittleEndian)
		if err := m.Store(0x2000, kestrel.NewConstantExpr(0x11223344, 32)); err != nil {
			t.Fatal(err)
		} else if err := m.Store(0x2001, kestrel.NewConstantExpr(0xAABB, 16)); err != nil {
			t.Fatal(err)
		}
		if v, err := m.Load(0x2000, 32); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(kestrel.NewConstantExpr(0x11AABB44, 32), v); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Bool", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(32, kestrel.LittleEndian)
		if err := m.Store(0x10, kestrel.NewBoolConstantExpr(true)); err != nil {
			t.Fatal(err)
		}
		if v, err := m.Load(0x10, 8); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(kestrel.NewConstantExpr(1, 8), v); diff != "" {
			t.Fatal(diff)
		}
		if v, err := m.Load(0x10, 1); err != nil {
			t.Fatal(err)
		} else if !kestrel.IsConstantTrue(v) {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("ErrInvalidWidth", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(32, kestrel.LittleEndian)
		if err := m.Store(0x10, kestrel.NewConstantExpr(0, 12)); !errors.Is(err, kestrel.ErrInvalidWidth) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSymbolicMemory_Load(t *testing.T) {
	t.Run("Unwritten", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(32, kestrel.LittleEndian)
		v, err := m.Load(0x30, 16)
		if err != nil {
			t.Fatal(err)
		}
		want := &kestrel.ConcatExpr{
			MSB: kestrel.NewScalarExpr("mem_31", 8),
			LSB: kestrel.NewScalarExpr("mem_30", 8),
		}
		if diff := cmp.Diff(want, v); diff != "" {
			t.Fatal(diff)
		}

		// Fresh bytes are remembered.
		if m.Len() != 2 {
			t.Fatalf("unexpected len: %d", m.Len())
		} else if other, err := m.Load(0x30, 16); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(v, other); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Strict", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(32, kestrel.LittleEndian)
		m.Strict = true
		m.Reserve(0x100, 4)

		if v, err := m.Load(0x100, 32); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(kestrel.NewConstantExpr(0, 32), v); diff != "" {
			t.Fatal(diff)
		}

		_, err := m.Load(0x102, 32)
		var merr *kestrel.MemoryError
		if !errors.As(err, &merr) {
			t.Fatalf("unexpected error: %v", err)
		} else if merr.Op != "load" || merr.Address != 0x104 {
			t.Fatalf("unexpected memory error: %s", merr)
		} else if !errors.Is(err, kestrel.ErrUnmappedAddress) {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := m.Store(0x0FF, kestrel.NewConstantExpr(0, 16)); !errors.Is(err, kestrel.ErrUnmappedAddress) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSymbolicMemory_Clone(t *testing.T) {
	m := kestrel.NewSymbolicMemory(32, kestrel.LittleEndian)
	if err := m.Store(0x10, kestrel.NewConstantExpr(1, 8)); err != nil {
		t.Fatal(err)
	}

	other := m.Clone()
	if err := other.Store(0x10, kestrel.NewConstantExpr(2, 8)); err != nil {
		t.Fatal(err)
	}

	if v, _ := m.Load(0x10, 8); kestrel.CompareExpr(v, kestrel.NewConstantExpr(1, 8)) != 0 {
		t.Fatalf("original changed: %s", v)
	} else if v, _ := other.Load(0x10, 8); kestrel.CompareExpr(v, kestrel.NewConstantExpr(2, 8)) != 0 {
		t.Fatalf("unexpected clone value: %s", v)
	}
}
