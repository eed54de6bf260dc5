// Package icon inspects the directory of an ICO file.
package icon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerSize = 6
	entrySize  = 16

	// MaxEdge is the largest frame edge the directory can describe.
	MaxEdge = 256
)

var pngMagic = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// Entry describes one frame listed in an ICO directory.
type Entry struct {
	Width, Height int
	BitCount      int
	Size          uint32
	Offset        uint32
	IsPNG         bool
}

// Area is the frame's pixel count.
func (e Entry) Area() int {
	return e.Width * e.Height
}

// Data returns the encoded payload of e within the file b.
func (e Entry) Data(b []byte) []byte {
	return b[e.Offset : e.Offset+e.Size]
}

var (
	ErrTooSmall  = errors.New("ico: too small")
	ErrNotIcon   = errors.New("ico: not an icon file")
	ErrTruncated = errors.New("ico: truncated directory")
)

// ReadDirectory parses the ICONDIR of b. Entries whose payload falls outside
// b are rejected, so Entry.Data is safe on every returned entry.
func ReadDirectory(b []byte) ([]Entry, error) {
	if len(b) < headerSize {
		return nil, ErrTooSmall
	}

	reserved := binary.LittleEndian.Uint16(b[0:2])
	typ := binary.LittleEndian.Uint16(b[2:4])
	count := int(binary.LittleEndian.Uint16(b[4:6]))
	if reserved != 0 || typ != 1 || count == 0 {
		return nil, ErrNotIcon
	}
	if len(b) < headerSize+entrySize*count {
		return nil, ErrTruncated
	}

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		e := b[headerSize+entrySize*i : headerSize+entrySize*(i+1)]
		w, h := int(e[0]), int(e[1])
		if w == 0 {
			w = MaxEdge
		}
		if h == 0 {
			h = MaxEdge
		}
		bpp := int(binary.LittleEndian.Uint16(e[6:8]))
		if bpp == 0 {
			bpp = 32 // assume 32-bit if not specified
		}
		size := binary.LittleEndian.Uint32(e[8:12])
		offset := binary.LittleEndian.Uint32(e[12:16])
		if size == 0 || uint64(offset)+uint64(size) > uint64(len(b)) {
			return nil, fmt.Errorf("ico: entry %d payload out of range", i)
		}

		entry := Entry{Width: w, Height: h, BitCount: bpp, Size: size, Offset: offset}
		entry.IsPNG = bytes.HasPrefix(entry.Data(b), pngMagic)
		entries = append(entries, entry)
	}
	return entries, nil
}
