package kestrel_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/kestrel"
	"github.com/google/go-cmp/cmp"
)

func TestDecodeConfig(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		c, err := kestrel.DecodeConfig("")
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(kestrel.DefaultConfig(), c); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("OK", func(t *testing.T) {
		c, err := kestrel.DecodeConfig(`
[analysis]
max_values = 4
narrow_edges = true
endian = "big"

[memory]
word_size = 32
endian = "be"
strict = true
reserve = [{ address = 0x1000, size = 16 }]

[explore]
searcher = "dfs"
parallel = true
`)
		if err != nil {
			t.Fatal(err)
		}

		want := kestrel.DefaultConfig()
		want.Analysis.MaxValues = 4
		want.Analysis.NarrowEdges = true
		want.Analysis.Endian = kestrel.BigEndian
		want.Memory = kestrel.MemoryConfig{
			WordSize: 32,
			Endian:   kestrel.BigEndian,
			Strict:   true,
			Reserve:  []kestrel.RangeConfig{{Address: 0x1000, Size: 16}},
		}
		want.Explore.Searcher = kestrel.SearcherDFS
		want.Explore.Parallel = true
		if diff := cmp.Diff(want, c); diff != "" {
			t.Fatal(diff)
		}
	})

	for _, tt := range []struct {
		name string
		data string
	}{
		{"UnknownKey", "[analysis]\nmax_value = 4\n"},
		{"InvalidEndian", "[memory]\nendian = \"middle\"\n"},
		{"InvalidMaxValues", "[analysis]\nmax_values = 0\n"},
		{"InvalidWordSize", "[memory]\nword_size = 12\n"},
		{"InvalidSearcher", "[explore]\nsearcher = \"astar\"\n"},
		{"InvalidSyntax", "[analysis\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := kestrel.DecodeConfig(tt.data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kestrel.toml")
	if err := os.WriteFile(path, []byte("[explore]\nmax_generations = 3\n"), 0o666); err != nil {
		t.Fatal(err)
	}

	c, err := kestrel.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	} else if c.Explore.MaxGenerations != 3 {
		t.Fatalf("unexpected max generations: %d", c.Explore.MaxGenerations)
	}

	if _, err := kestrel.LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); !os.IsNotExist(err) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryConfig_NewMemory(t *testing.T) {
	c := kestrel.MemoryConfig{
		WordSize: 32,
		Endian:   kestrel.BigEndian,
		Strict:   true,
		Reserve:  []kestrel.RangeConfig{{Address: 0x100, Size: 4}},
	}

	m := c.NewMemory()
	if m.WordSize() != 32 || m.Endian() != kestrel.BigEndian || !m.Strict {
		t.Fatalf("unexpected memory: %d %s %v", m.WordSize(), m.Endian(), m.Strict)
	} else if !m.IsMapped(0x103) || m.IsMapped(0x104) {
		t.Fatal("unexpected reserved range")
	}
}
