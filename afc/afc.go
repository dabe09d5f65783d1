// Package afc defines the remote file-transfer service boundary and
// helpers for moving package trees across it.
//
// The wire protocol is the consumer's concern; implementations adapt a
// real device file-service connection to FileService. MemService
// provides an in-memory implementation for tests and examples.
package afc

import "errors"

// ErrNotFound is returned by Stat and OpenForRead for missing remote
// paths.
var ErrNotFound = errors.New("afc: no such file or directory")

// FileInfo describes a remote file.
type FileInfo struct {
	Size int64
}

// File is an open remote file. Read and Write report the number of
// bytes the remote side actually transferred; Read reports 0 at end of
// file. The service may accept fewer bytes than offered on a single
// Write without that being an error.
type File interface {
	Read(p []byte) (uint32, error)
	Write(p []byte) (uint32, error)
	Close() error
}

// FileService is the remote file-transfer service.
type FileService interface {
	OpenForRead(path string) (File, error)
	OpenForWrite(path string) (File, error)
	MakeDirectory(path string) error
	MakeLink(target, path string) error
	Stat(path string) (*FileInfo, error)
}
