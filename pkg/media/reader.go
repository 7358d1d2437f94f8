package media

import (
	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// Reader is a random-access backing store: (offset, size) -> Data[byte].
// Demuxers hold one Reader and build Sample payload-thunks that call back
// into it; muxers never read through a Reader (spec.md §3 "Lifecycle").
type Reader interface {
	// ReadAt returns a Data[byte] view of size bytes starting at offset.
	// Fails ReaderError on a short read, Unsafe if size exceeds
	// MaxSingleWrite.
	ReadAt(offset int64, size int64) (Data[byte], error)
	// Size returns the total addressable length of the backing store.
	Size() int64
	// Close releases the reader's resources (e.g. unmaps a file).
	Close() error
}

// memReader is the in-memory Reader backend: it wraps a caller-owned byte
// slice and never allocates on ReadAt, returning sub-views of the same
// backing core (spec.md §4.2 "from a file path (memory-map)... empty-of-
// length").
type memReader struct {
	data Data[byte]
}

// NewMemReader wraps buf as a Reader. buf is retained for the lifetime of
// the Reader and of any Data views it hands out.
func NewMemReader(buf []byte) Reader {
	return &memReader{data: NewData(buf, nil)}
}

func (r *memReader) Size() int64 { return int64(r.data.Len()) }

func (r *memReader) ReadAt(offset, size int64) (Data[byte], error) {
	if size < 0 || size > MaxSingleWrite {
		return Data[byte]{}, mediaerr.New(mediaerr.Unsafe, "memReader.ReadAt", "size exceeds MaxSingleWrite")
	}
	if offset < 0 || offset+size > int64(r.data.Len()) {
		return Data[byte]{}, mediaerr.New(mediaerr.ReaderError, "memReader.ReadAt", "short read")
	}
	view := r.data.Clone()
	if err := view.SetBounds(int(offset), int(offset+size)); err != nil {
		view.Close()
		return Data[byte]{}, mediaerr.Wrap(mediaerr.ReaderError, "memReader.ReadAt", "bounds", err)
	}
	return view, nil
}

func (r *memReader) Close() error {
	r.data.Close()
	return nil
}
