// Package archive extracts embedded documents from zip containers by
// reading the local-file-header structure directly, without an archive
// library. Issuing systems produce small, well-formed archives; corrupt
// or unsupported entries are skipped rather than failing the whole
// container.
package archive

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Local file header layout (little-endian):
//
//	offset 0  signature        "PK\x03\x04"
//	offset 4  version needed   uint16
//	offset 6  general flags    uint16
//	offset 8  compression      uint16
//	offset 14 crc-32           uint32
//	offset 18 compressed size  uint32
//	offset 22 original size    uint32
//	offset 26 filename length  uint16
//	offset 28 extra length     uint16
//	offset 30 filename, extra, payload
const (
	headerSignature = 0x04034b50
	headerSize      = 30

	methodStored  = 0
	methodDeflate = 8

	// flagDataDescriptor means sizes follow the payload instead of the
	// header; such entries cannot be sliced without the central
	// directory and are skipped.
	flagDataDescriptor = 0x0008
)

// Entry is one document recovered from an archive.
type Entry struct {
	Name string
	Data []byte
}

// SkipFunc is called for each entry that could not be decoded.
type SkipFunc func(name string, reason error)

// Extract scans data for local file headers and returns the decoded
// bytes of every entry whose name ends in ".xml". Entries with unknown
// compression methods or corrupt headers are reported through skip (if
// non-nil) and do not fail the scan.
func Extract(data []byte, skip SkipFunc) ([]Entry, error) {
	sig := []byte{'P', 'K', 0x03, 0x04}
	pos := bytes.Index(data, sig)
	if pos < 0 {
		return nil, fmt.Errorf("no local file header found in %d bytes", len(data))
	}

	var entries []Entry
	for pos >= 0 && pos+headerSize <= len(data) {
		entry, next, err := readEntry(data, pos)
		if err != nil {
			if skip != nil {
				skip("", err)
			}
			// Resume at the best-effort next offset.
			if next <= pos {
				next = pos + len(sig)
			}
		} else if entry != nil {
			entries = append(entries, *entry)
		}

		rel := bytes.Index(data[next:], sig)
		if rel < 0 {
			break
		}
		pos = next + rel
	}

	return entries, nil
}

// readEntry parses one local file header at pos. It returns the decoded
// entry (nil for non-document entries), and the offset just past the
// entry's payload.
func readEntry(data []byte, pos int) (*Entry, int, error) {
	if binary.LittleEndian.Uint32(data[pos:]) != headerSignature {
		return nil, pos, fmt.Errorf("bad signature at offset %d", pos)
	}

	flags := binary.LittleEndian.Uint16(data[pos+6:])
	method := binary.LittleEndian.Uint16(data[pos+8:])
	compressedSize := int(binary.LittleEndian.Uint32(data[pos+18:]))
	nameLen := int(binary.LittleEndian.Uint16(data[pos+26:]))
	extraLen := int(binary.LittleEndian.Uint16(data[pos+28:]))

	nameStart := pos + headerSize
	payloadStart := nameStart + nameLen + extraLen
	payloadEnd := payloadStart + compressedSize

	if nameStart+nameLen > len(data) || payloadEnd > len(data) {
		return nil, pos, fmt.Errorf("truncated entry at offset %d", pos)
	}

	name := string(data[nameStart : nameStart+nameLen])

	if flags&flagDataDescriptor != 0 && compressedSize == 0 {
		return nil, payloadStart, fmt.Errorf("entry %q uses a data descriptor, cannot slice payload", name)
	}

	if !strings.HasSuffix(strings.ToLower(name), ".xml") {
		// Not a candidate document; still advance past its payload.
		return nil, payloadEnd, nil
	}

	payload := data[payloadStart:payloadEnd]

	switch method {
	case methodStored:
		decoded := make([]byte, len(payload))
		copy(decoded, payload)
		return &Entry{Name: name, Data: decoded}, payloadEnd, nil
	case methodDeflate:
		r := flate.NewReader(bytes.NewReader(payload))
		decoded, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, pos, fmt.Errorf("inflate entry %q: %w", name, err)
		}
		return &Entry{Name: name, Data: decoded}, payloadEnd, nil
	default:
		return nil, pos, fmt.Errorf("entry %q: unsupported compression method %d", name, method)
	}
}
