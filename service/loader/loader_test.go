package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vos-lab/vos/service/memory"
)

const descriptor = `
entry: 0x401000
segments:
  - addr: 0x401000
    size: 0x2000
    data: !!binary SGVsbG8=
  - addr: 0x601000
    writable: true
    data: !!binary AAECAw==
`

func TestParseDescriptor(t *testing.T) {
	img, err := ParseDescriptor("shell", []byte(descriptor))
	assert.NoError(t, err)
	assert.Equal(t, "shell", img.Name)
	assert.EqualValues(t, 0x401000, img.Entry)
	assert.Len(t, img.Segments, 2)

	assert.EqualValues(t, 0x2000, img.Segments[0].Size)
	assert.Equal(t, []byte("Hello"), img.Segments[0].Data)

	// A missing size defaults to the payload length.
	assert.EqualValues(t, 4, img.Segments[1].Size)
	assert.True(t, img.Segments[1].Writable)
}

func TestParseDescriptorRejectsIncomplete(t *testing.T) {
	_, err := ParseDescriptor("bad", []byte("entry: 0x1000\n"))
	assert.Error(t, err)
	_, err = ParseDescriptor("bad", []byte("segments:\n  - addr: 0x1000\n    size: 8\n"))
	assert.Error(t, err)
	_, err = ParseDescriptor("bad", []byte("not: [valid"))
	assert.Error(t, err)
}

func TestParseSniffsELF(t *testing.T) {
	// ELF magic with a truncated body must route to the ELF parser and fail
	// there instead of being misread as a descriptor.
	_, err := Parse("trunc", []byte{0x7f, 'E', 'L', 'F', 0, 0})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "elf")
}

func TestMapIntoWritesPayloads(t *testing.T) {
	alloc := memory.NewAllocator(32)
	pt, err := memory.NewPageTable(alloc)
	assert.NoError(t, err)

	img, err := ParseDescriptor("shell", []byte(descriptor))
	assert.NoError(t, err)

	ranges, codeBytes, err := MapInto(pt, alloc, img, true)
	assert.NoError(t, err)
	assert.Len(t, ranges, 2)
	assert.EqualValues(t, 0x2000+4, codeBytes)

	buf := make([]byte, 5)
	assert.NoError(t, pt.ReadAt(0x401000, buf))
	assert.Equal(t, []byte("Hello"), buf)

	// Bytes beyond the payload are zero-filled bss.
	assert.NoError(t, pt.ReadAt(0x401000+5, buf))
	assert.Equal(t, make([]byte, 5), buf)

	_, flags, ok := pt.Translate(memory.PageOf(0x601000))
	assert.True(t, ok)
	assert.NotZero(t, flags&memory.FlagWritable)
	assert.NotZero(t, flags&memory.FlagUserAccessible)
}

func TestMapIntoSkipsSharedPages(t *testing.T) {
	alloc := memory.NewAllocator(32)
	pt, err := memory.NewPageTable(alloc)
	assert.NoError(t, err)

	img := &Image{
		Name:  "overlap",
		Entry: 0x1000,
		Segments: []Segment{
			{Addr: 0x1000, Size: 0x100, Data: []byte{1, 2, 3}},
			{Addr: 0x1800, Size: 0x100, Data: []byte{4, 5, 6}},
		},
	}
	_, _, err = MapInto(pt, alloc, img, true)
	assert.NoError(t, err)
	assert.Equal(t, 1, pt.MappedPages())

	buf := make([]byte, 3)
	assert.NoError(t, pt.ReadAt(0x1800, buf))
	assert.Equal(t, []byte{4, 5, 6}, buf)
}

func TestMapIntoFailsOnExhaustion(t *testing.T) {
	alloc := memory.NewAllocator(1)
	pt, err := memory.NewPageTable(alloc)
	assert.NoError(t, err)

	img := &Image{Name: "big", Entry: 0x1000, Segments: []Segment{{Addr: 0x1000, Size: 0x1000}}}
	_, _, err = MapInto(pt, alloc, img, true)
	assert.ErrorIs(t, err, memory.ErrNoFreeFrames)
}
