package objfile

import (
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ntGnuBuildID is the note type of a GNU build id.
const ntGnuBuildID = 3

// buildID returns the GNU build id of ef as a hex string, the empty
// string when the executable does not carry one.
func buildID(ef *elf.File, order binary.ByteOrder) string {
	sec := ef.Section(".note.gnu.build-id")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil {
		return ""
	}
	id, err := parseBuildIDNote(data, order)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(id)
}

// parseBuildIDNote walks the notes in data and returns the descriptor
// of the GNU build id note. Each note is a namesz, descsz and type
// word followed by the name and descriptor, both padded to four bytes.
func parseBuildIDNote(data []byte, order binary.ByteOrder) ([]byte, error) {
	for len(data) >= 12 {
		namesz := order.Uint32(data[0:4])
		descsz := order.Uint32(data[4:8])
		typ := order.Uint32(data[8:12])
		data = data[12:]

		nameLen := (uint64(namesz) + 3) &^ 3
		descLen := (uint64(descsz) + 3) &^ 3
		if nameLen+descLen > uint64(len(data)) {
			return nil, errors.New("truncated note section")
		}
		name := data[:namesz]
		desc := data[nameLen : nameLen+uint64(descsz)]
		data = data[nameLen+descLen:]

		if typ == ntGnuBuildID && string(name) == "GNU\x00" {
			return desc, nil
		}
	}
	return nil, errors.New("no GNU build id note")
}

// findSeparateDebugInfo looks through dirs for the debug info file of
// the executable at exePath with the given build id. Directories named
// after the build id layout hold files at id[:2]/id[2:].debug, any
// other directory is tried with the base name of the executable.
func findSeparateDebugInfo(exePath, id string, dirs []string) (string, bool) {
	for _, dir := range dirs {
		var p string
		if strings.Contains(dir, "build-id") {
			if len(id) <= 2 {
				continue
			}
			p = filepath.Join(dir, id[:2], id[2:]+".debug")
		} else {
			p = filepath.Join(dir, filepath.Base(exePath)+".debug")
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func (f *File) openSeparateDebugInfo(dirs []string) (*elf.File, string, error) {
	id := buildID(f.elfFile, f.byteOrder)
	p, ok := findSeparateDebugInfo(f.Path, id, dirs)
	if !ok {
		return nil, "", errors.New("no separate debug info file found")
	}
	sep, err := elf.Open(p)
	if err != nil {
		return nil, "", err
	}
	return sep, p, nil
}
