// Package util provides small helpers shared by the DWARF readers and
// their tests.
package util

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ParseString reads a NUL terminated string from data.
func ParseString(data *bytes.Buffer) (string, uint32, error) {
	str, err := data.ReadString(0x0)
	if err != nil {
		return "", 0, err
	}

	return str[:len(str)-1], uint32(len(str)), nil
}

// ReadUintRaw reads an integer of size bytes, with the specified byte order, from reader.
func ReadUintRaw(reader io.Reader, order binary.ByteOrder, size int) (uint64, error) {
	switch size {
	case 1:
		var n uint8
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 2:
		var n uint16
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("unsupported size %d", size)
}

// WriteUint writes an integer of size bytes to writer, in the specified byte order.
func WriteUint(writer io.Writer, order binary.ByteOrder, size int, data uint64) error {
	switch size {
	case 1:
		return binary.Write(writer, order, uint8(data))
	case 2:
		return binary.Write(writer, order, uint16(data))
	case 4:
		return binary.Write(writer, order, uint32(data))
	case 8:
		return binary.Write(writer, order, data)
	}
	return fmt.Errorf("unsupported size %d", size)
}
