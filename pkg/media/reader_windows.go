//go:build windows

package media

import (
	"io"
	"os"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// fileReader on Windows falls back to pread-style ReadAt without a mapping:
// the pack carries no cross-platform mmap wiring for Windows, so the
// memory-mapped Reader backend via golang.org/x/sys/unix exists only on
// non-Windows platforms (see reader_unix.go). This fallback copies into a fresh buffer per read
// instead of aliasing the file directly.
type fileReader struct {
	f    *os.File
	size int64
}

// NewFileReader opens path for ReadAt-based random access.
func NewFileReader(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.ReaderError, "NewFileReader", "open", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mediaerr.Wrap(mediaerr.ReaderError, "NewFileReader", "stat", err)
	}
	return &fileReader{f: f, size: fi.Size()}, nil
}

// NewFileReaderFd is only available on the unix mmap backend; Windows file
// descriptors are handles and have no dup(2)/mmap(2) equivalent here.
func NewFileReaderFd(fd int) (Reader, error) {
	return nil, mediaerr.New(mediaerr.Unsupported, "NewFileReaderFd", "fd-based construction requires the unix mmap backend")
}

func (r *fileReader) Size() int64 { return r.size }

func (r *fileReader) ReadAt(offset, size int64) (Data[byte], error) {
	if size < 0 || size > MaxSingleWrite {
		return Data[byte]{}, mediaerr.New(mediaerr.Unsafe, "fileReader.ReadAt", "size exceeds MaxSingleWrite")
	}
	if offset < 0 || offset+size > r.size {
		return Data[byte]{}, mediaerr.New(mediaerr.ReaderError, "fileReader.ReadAt", "short read")
	}
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return Data[byte]{}, mediaerr.Wrap(mediaerr.ReaderError, "fileReader.ReadAt", "short read", err)
	}
	return NewData(buf, nil), nil
}

func (r *fileReader) Close() error {
	return r.f.Close()
}
