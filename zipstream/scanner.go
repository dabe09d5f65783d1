// Package zipstream reads app package archives (zip containers) strictly
// front to back.
//
// Unlike a general-purpose zip reader, this package never consults the
// central directory at the end of the archive. Install packages are read
// exactly once, in order, and the trailing directory of a freshly
// downloaded or repackaged archive is not trusted to match the local
// entry headers. Instead the Scanner searches the byte stream for local
// entry signatures and parses each fixed-layout header as it is found.
//
// # Entry Sequence
//
// A Scanner yields a lazy, finite, forward-only sequence of entries:
//
//	sc, err := zipstream.Open("App.ipa")
//	for {
//	    e, err := sc.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// Only one entry is current at a time. Advancing finalizes the previous
// entry: its payload is skipped (Stored) or decoded and discarded
// (Deflated) so the cursor lands on the first byte after the payload,
// where the next signature search begins. Encountering any
// central-directory family signature ends the sequence.
//
// # Supported Entries
//
// Compression methods 0 (Stored) and 8 (raw Deflate) are supported.
// Entries may defer their sizes to a trailing data descriptor, except in
// combination with the Stored method: with no compressed end-of-stream
// marker and no trustworthy size there is no way to find the end of the
// payload, so that combination is rejected.
package zipstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Container-level signatures. Only sigLocalHeader begins an entry; the
// others mark the start of the trailing directory structures and end
// the scan.
const (
	sigLocalHeader      = 0x04034b50
	sigCentralHeader    = 0x02014b50
	sigEndOfCentralDir  = 0x06054b50
	sigDigitalSignature = 0x05054b50
	sigArchiveExtraData = 0x07064b50
	sigZip64Central     = 0x06064b50
)

// Compression method codes from the local entry header.
const (
	MethodStored   uint16 = 0
	MethodDeflated uint16 = 8
)

// FlagDataDescriptor signals that the entry's sizes are authoritative
// only in a descriptor following the payload, not in the header.
const FlagDataDescriptor uint16 = 0x8

const (
	localHeaderSize = 30
	chunkSize       = 4096
)

// NameMax bounds the supported entry name length. The format allows
// 64 KiB names; nothing in an app package comes anywhere near that.
const NameMax = 255

// ErrUnsupportedEntry is returned when an entry header carries a
// combination this package does not support. Scanning cannot continue
// past such an entry.
var ErrUnsupportedEntry = errors.New("zipstream: unsupported entry header")

// Entry describes the current archive entry. It is owned by the Scanner
// and valid only until the next call to Next, Rewind, or ExtractNamed.
type Entry struct {
	// Name is the entry path as stored in the archive.
	Name string

	// CompressedSize and UncompressedSize are the declared sizes from
	// the header. Both are zero when the sizes are deferred to a
	// trailing descriptor; the descriptor itself is never read.
	CompressedSize   uint64
	UncompressedSize uint64

	// Method is the compression method code.
	Method uint16

	// Flags holds the general purpose flag bits.
	Flags uint16

	// HeaderOffset and DataOffset are absolute byte offsets of the
	// entry header and its payload. DataOffset is always
	// HeaderOffset + 30 + name length + extra-field length.
	HeaderOffset int64
	DataOffset   int64

	consumed bool
}

// SizesDeferred reports whether the entry's true sizes live in a
// trailing data descriptor.
func (e *Entry) SizesDeferred() bool {
	return e.Flags&FlagDataDescriptor != 0
}

// IsDir reports whether the entry names a directory.
func (e *Entry) IsDir() bool {
	return len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/'
}

// Scanner is a forward-only cursor over the local entries of an archive
// file. It is not safe for concurrent use.
type Scanner struct {
	f   *os.File
	cur *Entry
}

// Open opens the archive at path. The error from os.Open passes
// through, so a missing file surfaces as fs.ErrNotExist.
func Open(path string) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Scanner{f: f}, nil
}

// Close releases the underlying file.
func (s *Scanner) Close() error {
	return s.f.Close()
}

// Rewind restarts the scan from the beginning of the archive. Any
// current entry is dropped without being consumed.
func (s *Scanner) Rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.cur = nil
	return nil
}

// Next advances to the next local entry and returns its descriptor.
// It returns io.EOF when no further local entry exists, either because
// a central-directory signature was reached or because the remaining
// bytes are too short to hold one. A truncated header also ends the
// sequence rather than failing hard.
func (s *Scanner) Next() (*Entry, error) {
	if s.cur != nil && !s.cur.consumed {
		if err := s.skipCurrent(); err != nil {
			return nil, err
		}
	}
	s.cur = nil

	headerOff, err := s.findSignature()
	if err != nil {
		return nil, err
	}

	if _, err := s.f.Seek(headerOff, io.SeekStart); err != nil {
		return nil, err
	}
	var hdr [localHeaderSize]byte
	if _, err := io.ReadFull(s.f, hdr[:]); err != nil {
		return nil, io.EOF
	}

	flags := binary.LittleEndian.Uint16(hdr[6:8])
	method := binary.LittleEndian.Uint16(hdr[8:10])
	csize := binary.LittleEndian.Uint32(hdr[18:22])
	usize := binary.LittleEndian.Uint32(hdr[22:26])
	nameLen := binary.LittleEndian.Uint16(hdr[26:28])
	extraLen := binary.LittleEndian.Uint16(hdr[28:30])

	if nameLen > NameMax {
		return nil, fmt.Errorf("%w: name length %d exceeds %d", ErrUnsupportedEntry, nameLen, NameMax)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(s.f, name); err != nil {
		return nil, io.EOF
	}
	// Extra field is skipped without parsing.
	if _, err := s.f.Seek(int64(extraLen), io.SeekCurrent); err != nil {
		return nil, err
	}

	e := &Entry{
		Name:         string(name),
		Method:       method,
		Flags:        flags,
		HeaderOffset: headerOff,
		DataOffset:   headerOff + localHeaderSize + int64(nameLen) + int64(extraLen),
	}
	if flags&FlagDataDescriptor != 0 && csize == 0 {
		// Sizes deferred to the trailing descriptor; they stay zero and
		// the payload length is measured during decoding instead.
	} else {
		e.CompressedSize = uint64(csize)
		e.UncompressedSize = uint64(usize)
	}

	if method == MethodStored && flags&FlagDataDescriptor != 0 {
		// No end-of-stream marker and no usable size: the payload end
		// cannot be located.
		return nil, fmt.Errorf("%w: stored entry with deferred sizes", ErrUnsupportedEntry)
	}

	s.cur = e
	return e, nil
}

// findSignature slides a 4-byte window over the stream in fixed-size
// chunks until a local entry signature is found, carrying the last 3
// bytes of each chunk into the next by backing the cursor up before the
// following read. It returns the absolute offset of the signature, or
// io.EOF at the natural end of the entry sequence.
func (s *Scanner) findSignature() (int64, error) {
	var buf [chunkSize]byte
	for {
		start, err := s.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		n, err := s.f.Read(buf[:])
		if n == 0 {
			if err == io.EOF || err == nil {
				return 0, io.EOF
			}
			return 0, err
		}
		if n < 4 {
			return 0, io.EOF
		}
		for i := 0; i <= n-4; i++ {
			switch binary.LittleEndian.Uint32(buf[i : i+4]) {
			case sigLocalHeader:
				return start + int64(i), nil
			case sigCentralHeader, sigEndOfCentralDir, sigDigitalSignature,
				sigArchiveExtraData, sigZip64Central:
				return 0, io.EOF
			}
		}
		// Re-check the last 3 bytes against the start of the next chunk.
		if _, err := s.f.Seek(start+int64(n)-3, io.SeekStart); err != nil {
			return 0, err
		}
	}
}

// skipCurrent consumes the current entry's payload without delivering
// it anywhere, leaving the cursor on the first byte after the payload.
func (s *Scanner) skipCurrent() error {
	e := s.cur
	switch e.Method {
	case MethodDeflated:
		// The declared size may be absent or wrong, so the payload end
		// has to be found by decoding to the end-of-stream marker and
		// measuring how many compressed bytes that took.
		if _, err := s.f.Seek(e.DataOffset, io.SeekStart); err != nil {
			return err
		}
		inf := NewInflater(s.f)
		if _, err := inf.Decode(Discard); err != nil {
			return err
		}
		if _, err := s.f.Seek(e.DataOffset+inf.Consumed(), io.SeekStart); err != nil {
			return err
		}
	default:
		if _, err := s.f.Seek(e.DataOffset+int64(e.CompressedSize), io.SeekStart); err != nil {
			return err
		}
	}
	e.consumed = true
	return nil
}
