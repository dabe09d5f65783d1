package zipstream

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrSourceRead is returned when the archive delivers fewer payload
// bytes than an entry declares.
var ErrSourceRead = errors.New("zipstream: short read from archive")

// Extract writes the current entry's decoded payload to sink and
// returns the number of bytes delivered.
//
// Stored entries are copied verbatim, exactly CompressedSize bytes, in
// fixed-size chunks. Deflated entries stream through an Inflater until
// its end-of-stream marker; afterwards the archive cursor is positioned
// by the inflater's measured consumed-byte count, since the declared
// size may be absent. On success the entry is marked consumed so that
// advancing the scanner does not skip its payload a second time.
func (s *Scanner) Extract(e *Entry, sink Sink) (uint64, error) {
	if _, err := s.f.Seek(e.DataOffset, io.SeekStart); err != nil {
		return 0, err
	}

	switch e.Method {
	case MethodStored:
		var buf [chunkSize]byte
		var total uint64
		for total < e.CompressedSize {
			n := uint64(chunkSize)
			if rem := e.CompressedSize - total; rem < n {
				n = rem
			}
			if _, err := io.ReadFull(s.f, buf[:n]); err != nil {
				return total, fmt.Errorf("%w: %v", ErrSourceRead, err)
			}
			if _, err := sink.Write(buf[:n]); err != nil {
				return total, err
			}
			total += n
		}
		e.consumed = true
		return total, nil

	case MethodDeflated:
		inf := NewInflater(s.f)
		total, err := inf.Decode(sink)
		if err != nil {
			return total, err
		}
		if _, err := s.f.Seek(e.DataOffset+inf.Consumed(), io.SeekStart); err != nil {
			return total, err
		}
		e.consumed = true
		return total, nil

	default:
		return 0, fmt.Errorf("%w: compression method %d", ErrUnsupportedEntry, e.Method)
	}
}

// ExtractNamed scans from the start of the archive for the first entry
// whose name has name as a prefix and extracts it to memory. It returns
// nil data when no entry matches. The scanner is rewound afterwards
// regardless of outcome, so it can be reused for further scans.
//
// Extraction is subject to the MaxBufferSize cap: a declared
// uncompressed size over the cap is rejected before extraction begins,
// and entries with deferred sizes are aborted mid-stream as soon as the
// cap is crossed. Both cases return ErrTooLarge.
func (s *Scanner) ExtractNamed(name string) (data []byte, err error) {
	if err := s.Rewind(); err != nil {
		return nil, err
	}
	defer func() {
		if rerr := s.Rewind(); rerr != nil && err == nil {
			data, err = nil, rerr
		}
	}()

	for {
		e, nerr := s.Next()
		if nerr == io.EOF {
			return nil, nil
		}
		if nerr != nil {
			return nil, nerr
		}
		if !strings.HasPrefix(e.Name, name) {
			continue
		}
		if e.UncompressedSize > MaxBufferSize {
			return nil, ErrTooLarge
		}
		sink := NewBufferSink()
		if _, xerr := s.Extract(e, sink); xerr != nil {
			return nil, xerr
		}
		return sink.Bytes(), nil
	}
}
