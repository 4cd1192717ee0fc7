// Package loader parses program images and maps their segments into an
// address space. Two formats are supported: regular ELF binaries and a YAML
// image descriptor used for hand-written teaching programs and tests.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/vos-lab/vos/service/memory"
)

// Segment is one loadable region of a program image. Size may exceed
// len(Data); the remainder is zero-filled (bss).
type Segment struct {
	Addr     uint64 `yaml:"addr"`
	Size     uint64 `yaml:"size"`
	Writable bool   `yaml:"writable"`
	Data     []byte `yaml:"data"`
}

// Image is a parsed program ready to be mapped.
type Image struct {
	Name     string    `yaml:"name"`
	Entry    uint64    `yaml:"entry"`
	Segments []Segment `yaml:"segments"`
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Parse decodes an image from raw bytes, sniffing the format.
func Parse(name string, data []byte) (*Image, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], elfMagic) {
		return ParseELF(name, data)
	}
	return ParseDescriptor(name, data)
}

// ParseELF extracts the PT_LOAD segments and entry point of an ELF binary.
func ParseELF(name string, data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse elf %q: %w", name, err)
	}
	defer f.Close()

	img := &Image{Name: name, Entry: f.Entry}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(p.Open(), int64(p.Filesz)))
		if err != nil {
			return nil, fmt.Errorf("read elf segment %q: %w", name, err)
		}
		img.Segments = append(img.Segments, Segment{
			Addr:     p.Vaddr,
			Size:     p.Memsz,
			Writable: p.Flags&elf.PF_W != 0,
			Data:     raw,
		})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("elf %q has no loadable segments", name)
	}
	return img, nil
}

// ParseDescriptor decodes the YAML image format.
func ParseDescriptor(name string, data []byte) (*Image, error) {
	img := &Image{}
	if err := yaml.Unmarshal(data, img); err != nil {
		return nil, fmt.Errorf("parse image descriptor %q: %w", name, err)
	}
	if img.Name == "" {
		img.Name = name
	}
	for i := range img.Segments {
		if img.Segments[i].Size == 0 {
			img.Segments[i].Size = uint64(len(img.Segments[i].Data))
		}
	}
	if img.Entry == 0 || len(img.Segments) == 0 {
		return nil, fmt.Errorf("image descriptor %q: missing entry or segments", name)
	}
	return img, nil
}

// MapInto maps every segment of img through the supplied page table,
// allocating and zeroing fresh frames, and copies the segment payloads in.
// It returns the mapped page ranges and the total byte count. Pages shared by
// two segments are mapped once with the union of their permissions.
func MapInto(pt *memory.PageTableContext, alloc *memory.Allocator, img *Image, user bool) ([]memory.PageRange, uint64, error) {
	var (
		ranges    []memory.PageRange
		codeBytes uint64
	)
	for _, seg := range img.Segments {
		start := memory.PageOf(seg.Addr)
		end := memory.PageOf(memory.AlignUp(seg.Addr + seg.Size))
		if end == start {
			end = start + 1
		}
		flags := memory.FlagPresent
		if seg.Writable {
			flags |= memory.FlagWritable
		}
		if user {
			flags |= memory.FlagUserAccessible
		}
		for page := start; page < end; page++ {
			if _, _, ok := pt.Translate(page); ok {
				continue
			}
			frame, err := alloc.AllocateFrame()
			if err != nil {
				return nil, 0, fmt.Errorf("map image %q: %w", img.Name, err)
			}
			frame.Zero()
			if err := pt.Map(page, frame, flags); err != nil {
				alloc.DeallocateFrame(frame)
				return nil, 0, fmt.Errorf("map image %q: %w", img.Name, err)
			}
		}
		if len(seg.Data) > 0 {
			if err := pt.WriteAt(seg.Addr, seg.Data); err != nil {
				return nil, 0, fmt.Errorf("copy image %q: %w", img.Name, err)
			}
		}
		ranges = append(ranges, memory.PageRange{Start: start, End: end})
		codeBytes += seg.Size
	}
	return ranges, codeBytes, nil
}
