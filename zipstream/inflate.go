package zipstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// ErrCorrupt is returned when a compressed payload cannot be decoded.
var ErrCorrupt = errors.New("zipstream: corrupt deflate stream")

// Inflater incrementally decodes one raw deflate stream with bounded
// working buffers and tracks exactly how many compressed bytes it has
// consumed. Entries that defer their sizes to a trailing descriptor
// have no trustworthy declared size, so repositioning the archive after
// decoding must use this measured count.
//
// An Inflater decodes a single stream; create a new one per entry.
type Inflater struct {
	src  *countingReader
	fr   io.ReadCloser
	out  [chunkSize]byte
	done bool
}

// NewInflater returns an Inflater reading compressed bytes from r.
func NewInflater(r io.Reader) *Inflater {
	src := &countingReader{r: bufio.NewReaderSize(r, chunkSize)}
	return &Inflater{src: src, fr: flate.NewReader(src)}
}

// Decode pumps the stream to completion, forwarding each decompressed
// chunk to sink. It returns the number of decompressed bytes produced.
// A decoder-internal failure surfaces as ErrCorrupt; sink errors are
// returned as-is.
func (inf *Inflater) Decode(sink Sink) (uint64, error) {
	var total uint64
	for {
		n, err := inf.fr.Read(inf.out[:])
		if n > 0 {
			if _, werr := sink.Write(inf.out[:n]); werr != nil {
				return total, werr
			}
			total += uint64(n)
		}
		if err == io.EOF {
			inf.done = true
			return total, inf.fr.Close()
		}
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
}

// Done reports whether the end-of-stream marker has been reached.
func (inf *Inflater) Done() bool {
	return inf.done
}

// Consumed returns the exact number of compressed bytes read so far.
func (inf *Inflater) Consumed() int64 {
	return inf.src.n
}

// countingReader counts bytes handed to the decompressor. It exposes
// ReadByte so that flate never reads past the end of the compressed
// stream, which keeps the count exact.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}
