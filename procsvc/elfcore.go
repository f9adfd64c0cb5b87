package procsvc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// Segment is one mapped region of guest memory to include in a coredump.
type Segment struct {
	Addr       uint32
	Data       []byte
	Readable   bool
	Writable   bool
	Executable bool
}

// elf32Header mirrors Elf32_Ehdr's fields in file order.
type elf32Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// elf32ProgramHeader mirrors Elf32_Phdr.
type elf32ProgramHeader struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

const (
	etCore      = 4
	emNone      = 0 // the guest ISA has no reserved e_machine value of its own
	ptNote      = 4
	ptLoad      = 1
	pfExecute   = 1
	pfWrite     = 2
	pfRead      = 4
	elfHdrSize  = 52
	phdrSize    = 32
)

func segmentFlags(s Segment) uint32 {
	var f uint32
	if s.Readable {
		f |= pfRead
	}
	if s.Writable {
		f |= pfWrite
	}
	if s.Executable {
		f |= pfExecute
	}
	return f
}

// WriteCoredump writes an ELF core file for pid to dir, named
// "vgcore.<pid>" (or "vgcore.<pid>.N" if that name already exists, up to
// maxCoreSuffix attempts), containing one PT_NOTE segment (holding note, a
// caller-supplied byte blob such as a register snapshot) followed by one
// PT_LOAD program header per Segment. It returns the path written.
func WriteCoredump(dir string, pid int, note []byte, segments []Segment) (string, error) {
	path, err := coreFilePath(dir, pid)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	numPhdrs := 1 + len(segments) // PT_NOTE + one PT_LOAD per segment
	dataOffset := uint32(elfHdrSize + numPhdrs*phdrSize)

	hdr := elf32Header{
		Type:      etCore,
		Machine:   emNone,
		Version:   1,
		Phoff:     elfHdrSize,
		Ehsize:    elfHdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(numPhdrs),
	}
	copy(hdr.Ident[:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr.Ident[4] = 1 // ELFCLASS32
	hdr.Ident[5] = 1 // ELFDATA2LSB
	hdr.Ident[6] = 1 // EV_CURRENT

	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return "", fmt.Errorf("procsvc: writing ELF header: %w", err)
	}

	noteOffset := dataOffset
	segOffset := noteOffset + uint32(len(note))

	notePhdr := elf32ProgramHeader{
		Type:   ptNote,
		Offset: noteOffset,
		Filesz: uint32(len(note)),
		Memsz:  uint32(len(note)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, notePhdr); err != nil {
		return "", fmt.Errorf("procsvc: writing PT_NOTE header: %w", err)
	}

	offset := segOffset
	for _, s := range segments {
		phdr := elf32ProgramHeader{
			Type:   ptLoad,
			Offset: offset,
			Vaddr:  s.Addr,
			Paddr:  s.Addr,
			Filesz: uint32(len(s.Data)),
			Memsz:  uint32(len(s.Data)),
			Flags:  segmentFlags(s),
			Align:  4096,
		}
		if err := binary.Write(&buf, binary.LittleEndian, phdr); err != nil {
			return "", fmt.Errorf("procsvc: writing PT_LOAD header: %w", err)
		}
		offset += uint32(len(s.Data))
	}

	buf.Write(note)
	for _, s := range segments {
		buf.Write(s.Data)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("procsvc: writing coredump file: %w", err)
	}
	return path, nil
}

const maxCoreSuffix = 1000

func coreFilePath(dir string, pid int) (string, error) {
	base := filepath.Join(dir, fmt.Sprintf("vgcore.%d", pid))
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base, nil
	}
	for n := 1; n < maxCoreSuffix; n++ {
		candidate := fmt.Sprintf("%s.%d", base, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("procsvc: could not find an unused vgcore name under %s after %d attempts", dir, maxCoreSuffix)
}
