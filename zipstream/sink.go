package zipstream

import "errors"

// MaxBufferSize caps in-memory extraction at 10 MiB. Manifests and
// signature blobs are the only entries extracted to memory and they are
// tiny; anything larger indicates a malformed or hostile package.
const MaxBufferSize = 10 << 20

// ErrTooLarge is returned when an in-memory extraction target exceeds
// MaxBufferSize, either by its declared size up front or mid-stream
// when the size was deferred.
var ErrTooLarge = errors.New("zipstream: entry exceeds in-memory extraction limit")

// ErrWriteMismatch is returned by a RemoteSink when the remote file
// service accepts fewer bytes than it was asked to write. A short write
// is fatal for the whole extraction and is not retried.
var ErrWriteMismatch = errors.New("zipstream: remote write accepted fewer bytes than requested")

// Sink is the destination for extracted entry bytes. The extraction
// driver is the sink's only writer for the duration of one entry.
type Sink interface {
	Write(p []byte) (int, error)
}

// Discard is a Sink that drops everything written to it.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }

// BufferSink collects extracted bytes in memory. Capacity doubles
// whenever a write would overflow it, and the hard MaxBufferSize limit
// is enforced before any growth.
type BufferSink struct {
	buf []byte
	max int
}

// NewBufferSink returns an empty BufferSink with the default initial
// capacity and the MaxBufferSize limit.
func NewBufferSink() *BufferSink {
	return &BufferSink{buf: make([]byte, 0, chunkSize), max: MaxBufferSize}
}

func (b *BufferSink) Write(p []byte) (int, error) {
	need := len(b.buf) + len(p)
	if need > b.max {
		return 0, ErrTooLarge
	}
	if need > cap(b.buf) {
		newCap := cap(b.buf) * 2
		for newCap < need {
			newCap *= 2
		}
		if newCap > b.max {
			newCap = b.max
		}
		grown := make([]byte, len(b.buf), newCap)
		copy(grown, b.buf)
		b.buf = grown
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Len returns the number of bytes written so far.
func (b *BufferSink) Len() int {
	return len(b.buf)
}

// Bytes returns the collected data trimmed to its exact length.
func (b *BufferSink) Bytes() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// RemoteFile is the sequential remote write target a RemoteSink feeds.
// Write must report the number of bytes the remote side accepted.
type RemoteFile interface {
	Write(p []byte) (uint32, error)
}

// RemoteSink adapts an open remote file into a Sink, treating any short
// write as ErrWriteMismatch.
type RemoteSink struct {
	f RemoteFile
}

// NewRemoteSink returns a Sink writing to f.
func NewRemoteSink(f RemoteFile) *RemoteSink {
	return &RemoteSink{f: f}
}

func (r *RemoteSink) Write(p []byte) (int, error) {
	n, err := r.f.Write(p)
	if err != nil {
		return int(n), err
	}
	if int(n) != len(p) {
		return int(n), ErrWriteMismatch
	}
	return len(p), nil
}
