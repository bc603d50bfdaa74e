// Package elfload parses the 32-bit ELF executables the ram disk holds
// and classifies their loadable segments into the TEXT/RODATA/DATA page
// types §4.2's create_page expects (a writable segment is DATA even when
// it has no file bytes; exec maps the pages past a DATA segment's file
// bytes as BSS). Grounded on the teacher's use
// of debug/elf in kernel/chentry.go (the only ELF-touching code in the
// teacher tree) generalized from entry-point patching to full segment
// enumeration, since the teacher's own process loader is part of the
// patched-runtime boot path this kernel cannot reuse.
package elfload

import (
	"bytes"
	"debug/elf"
	"io"

	"github.com/d94ny/x86kernel/defs"
	"github.com/d94ny/x86kernel/vm"
)

/// Segment is one loadable ELF segment, classified into the page type
/// exec's loader maps it with.
type Segment struct {
	Type     vm.PageType
	Vaddr    uint32
	Filesz   uint32
	Memsz    uint32
	Data     []byte // Filesz bytes from the file, nil for pure-BSS segments
}

/// Image is a parsed executable ready for mapping.
type Image struct {
	Entry    uint32
	Segments []Segment
}

/// Parse reads raw, a whole ELF32/EM_386 executable's bytes (as stored
/// in the ram disk's TOC), and reports EBADELF if it is not a
/// statically linked 32-bit x86 executable this kernel can load.
func Parse(raw []byte) (*Image, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, defs.EBADELF
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_386 || f.Type != elf.ET_EXEC {
		return nil, defs.EBADELF
	}

	img := &Image{Entry: uint32(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		seg := Segment{
			Vaddr:  uint32(prog.Vaddr),
			Filesz: uint32(prog.Filesz),
			Memsz:  uint32(prog.Memsz),
			Type:   classify(prog.Flags),
		}
		if seg.Filesz > 0 {
			buf := make([]byte, seg.Filesz)
			if _, err := io.ReadFull(prog.Open(), buf); err != nil {
				return nil, defs.EBADELF
			}
			seg.Data = buf
		}
		img.Segments = append(img.Segments, seg)
	}
	if len(img.Segments) == 0 {
		return nil, defs.EBADELF
	}
	return img, 0
}

func classify(flags elf.ProgFlag) vm.PageType {
	switch {
	case flags&elf.PF_W != 0:
		return vm.DATA
	case flags&elf.PF_X != 0:
		return vm.TEXT
	default:
		return vm.RODATA
	}
}
