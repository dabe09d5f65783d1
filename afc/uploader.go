package afc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

const (
	uploadChunk   = 1 << 20
	downloadChunk = 8192
)

// ErrSizeMismatch is returned by Download when the number of bytes
// copied differs from the remote file's reported size. The local file
// is kept; the caller decides whether the copy is usable.
var ErrSizeMismatch = errors.New("afc: remote and local file sizes differ")

// Uploader copies local files and directory trees to a remote
// FileService.
type Uploader struct {
	FS FileService
}

// UploadFile copies the local file at localPath to remotePath. Writes
// go out in 1 MiB chunks; a chunk the service accepts only partially is
// resubmitted from the unaccepted remainder, and only a write that
// makes no progress at all fails the upload.
func (u *Uploader) UploadFile(localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rf, err := u.FS.OpenForWrite(remotePath)
	if err != nil {
		return fmt.Errorf("afc: opening %s for writing: %w", remotePath, err)
	}
	defer rf.Close()

	buf := make([]byte, uploadChunk)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				written, werr := rf.Write(chunk)
				if werr != nil {
					return fmt.Errorf("afc: writing %s: %w", remotePath, werr)
				}
				if written == 0 {
					return fmt.Errorf("afc: writing %s: no progress", remotePath)
				}
				chunk = chunk[written:]
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}

// UploadDir recursively copies the local directory tree at localPath to
// remotePath. Symbolic links are recreated remotely with their local
// targets; other non-regular files are skipped.
func (u *Uploader) UploadDir(localPath, remotePath string) error {
	if err := u.FS.MakeDirectory(remotePath); err != nil {
		return fmt.Errorf("afc: creating directory %s: %w", remotePath, err)
	}
	entries, err := os.ReadDir(localPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		local := filepath.Join(localPath, entry.Name())
		remote := path.Join(remotePath, entry.Name())
		switch {
		case entry.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(local)
			if err != nil {
				return err
			}
			if err := u.FS.MakeLink(target, remote); err != nil {
				return fmt.Errorf("afc: creating link %s: %w", remote, err)
			}
		case entry.IsDir():
			if err := u.UploadDir(local, remote); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := u.UploadFile(local, remote); err != nil {
				return err
			}
		}
	}
	return nil
}

// Download copies the remote file at remotePath to localPath and
// verifies the byte count against the service's reported size,
// returning ErrSizeMismatch when they differ. The local file is written
// either way.
func (u *Uploader) Download(remotePath, localPath string) error {
	info, err := u.FS.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("afc: stat %s: %w", remotePath, err)
	}
	if info.Size == 0 {
		return fmt.Errorf("afc: %s: remote file length could not be determined", remotePath)
	}

	rf, err := u.FS.OpenForRead(remotePath)
	if err != nil {
		return fmt.Errorf("afc: opening %s for reading: %w", remotePath, err)
	}
	defer rf.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, downloadChunk)
	var total int64
	for {
		n, rerr := rf.Read(buf)
		if rerr != nil {
			return fmt.Errorf("afc: reading %s: %w", remotePath, rerr)
		}
		if n == 0 {
			break
		}
		if _, werr := f.Write(buf[:n]); werr != nil {
			return werr
		}
		total += int64(n)
	}

	if total != info.Size {
		return fmt.Errorf("%w: %s: %d != %d", ErrSizeMismatch, remotePath, info.Size, total)
	}
	return nil
}
