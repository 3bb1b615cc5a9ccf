package codesign

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// BinaryInfo summarizes a Mach-O executable
type BinaryInfo struct {
	Path   string
	Fat    bool
	Arches []string
	Is64   bool
	Signed bool
}

// InspectBinary parses the Mach-O file at path. Universal binaries report
// every slice; Signed is true when any slice carries a code signature.
func InspectBinary(path string) (*BinaryInfo, error) {
	if !IsMachO(path) {
		return nil, fmt.Errorf("%s is not a Mach-O file", path)
	}

	info := &BinaryInfo{Path: path}

	fat, err := macho.OpenFat(path)
	if err == nil {
		defer fat.Close()
		info.Fat = true
		for _, arch := range fat.Arches {
			info.Arches = append(info.Arches, arch.CPU.String())
			if arch.File != nil {
				info.Is64 = info.Is64 || arch.Magic == types.Magic64
				info.Signed = info.Signed || hasCodeSignature(arch.File)
			}
		}
		return info, nil
	}
	if !errors.Is(err, macho.ErrNotFat) {
		return nil, fmt.Errorf("failed to parse universal binary: %w", err)
	}

	m, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Mach-O: %w", err)
	}
	defer m.Close()

	info.Arches = []string{m.CPU.String()}
	info.Is64 = m.Magic == types.Magic64
	info.Signed = hasCodeSignature(m)

	return info, nil
}

func hasCodeSignature(m *macho.File) bool {
	for _, load := range m.Loads {
		if cs, ok := load.(*macho.CodeSignature); ok && cs.Size > 0 {
			return true
		}
	}
	return false
}

// IsMachO checks the magic number of the file at path
func IsMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}

	// MH_MAGIC_64 and MH_MAGIC are little endian on disk, FAT_MAGIC and
	// FAT_MAGIC_64 big endian
	return (magic[0] == 0xcf && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) ||
		(magic[0] == 0xce && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) ||
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbe) ||
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbf)
}
