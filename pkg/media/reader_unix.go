//go:build !windows

package media

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// fileReader memory-maps a file and serves ReadAt as sub-views of the
// mapping, so repeated reads never copy. The mapping is the shared "release"
// target: it stays alive as long as any Data view clone over it is open,
// even after the fileReader itself is closed (spec.md §3 "Lifecycle",
// §9 "Reference-counted byte views over potentially-non-owned buffers").
type fileReader struct {
	f       *os.File
	mapping Data[byte] // whole-file view; release() unmaps. Size()==0 variant has nil-release view.
	size    int64
}

// NewFileReader memory-maps path for read-only random access.
func NewFileReader(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.ReaderError, "NewFileReader", "open", err)
	}
	return mapFile(f, "NewFileReader")
}

// NewFileReaderFd memory-maps an already-open file descriptor for read-only
// random access. fd is duplicated first, so the caller keeps ownership of
// its descriptor and may close it independently of the Reader.
func NewFileReaderFd(fd int) (Reader, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.ReaderError, "NewFileReaderFd", "dup", err)
	}
	return mapFile(os.NewFile(uintptr(dup), "containerforge-fd"), "NewFileReaderFd")
}

// mapFile stats and memory-maps f, taking ownership of it on both the
// success and failure paths.
func mapFile(f *os.File, op string) (Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mediaerr.Wrap(mediaerr.ReaderError, op, "stat", err)
	}
	if fi.Size() > int64(^uint(0)>>1) {
		f.Close()
		return nil, mediaerr.New(mediaerr.Unsupported, op, "file size exceeds addressable range")
	}
	if fi.Size() == 0 {
		return &fileReader{f: f, mapping: NewData[byte](nil, nil), size: 0}, nil
	}
	raw, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, mediaerr.Wrap(mediaerr.ReaderError, op, "mmap", err)
	}
	mapping := NewData(raw, func() { _ = unix.Munmap(raw) })
	return &fileReader{f: f, mapping: mapping, size: fi.Size()}, nil
}

func (r *fileReader) Size() int64 { return r.size }

// ReadAt returns a clone of the whole-file mapping narrowed to [offset,
// offset+size). Because the clone shares the mapping's core, the munmap
// only runs once every such view (and the fileReader itself) has closed.
func (r *fileReader) ReadAt(offset, size int64) (Data[byte], error) {
	if size < 0 || size > MaxSingleWrite {
		return Data[byte]{}, mediaerr.New(mediaerr.Unsafe, "fileReader.ReadAt", "size exceeds MaxSingleWrite")
	}
	if offset < 0 || offset+size > r.size {
		return Data[byte]{}, mediaerr.New(mediaerr.ReaderError, "fileReader.ReadAt", "short read")
	}
	view := r.mapping.Clone()
	if err := view.SetBounds(int(offset), int(offset+size)); err != nil {
		view.Close()
		return Data[byte]{}, mediaerr.Wrap(mediaerr.ReaderError, "fileReader.ReadAt", "bounds", err)
	}
	return view, nil
}

func (r *fileReader) Close() error {
	r.mapping.Close()
	return r.f.Close()
}
