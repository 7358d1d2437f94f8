package media

import (
	"bytes"
	"sync"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// Element is the closed set of element types a Data view may be parameterized
// over: raw bytes for encoded payloads and NAL/box bytes, or 16-bit samples
// for coalesced PCM (spec.md §3 "Data view").
type Element interface {
	~byte | ~int16
}

// core is the shared, reference-counted backing buffer for one or more Data
// views. release runs exactly once, when the last view referencing it drops.
// This plays the role the source's atomic-refcounted buffer + custom deleter
// plays: a memory-mapped file keeps the mapping alive here; a caller-owned
// slice has a nil release and Close is a no-op (spec.md §9 "Reference-counted
// byte views").
type core[T Element] struct {
	mu       sync.Mutex
	buf      []T
	refs     int
	release  func()
	released bool
}

func newCore[T Element](buf []T, release func()) *core[T] {
	return &core[T]{buf: buf, refs: 1, release: release}
}

func (c *core[T]) retain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
}

func (c *core[T]) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
	if c.refs <= 0 && !c.released {
		c.released = true
		if c.release != nil {
			c.release()
		}
	}
}

// Data is a bounded view [a,b) over a shared backing buffer. Multiple Data
// values may alias one core via Clone; the backing release action runs
// exactly once, when the last clone is closed (spec.md §3 "Data view").
type Data[T Element] struct {
	c    *core[T]
	a, b int // element-unit bounds into c.buf
}

// NewData constructs a Data view over buf with a custom release action.
// release may be nil when the caller retains ownership of buf (spec.md §4.2
// "construct from (ptr, len, release)").
func NewData[T Element](buf []T, release func()) Data[T] {
	return Data[T]{c: newCore(buf, release), a: 0, b: len(buf)}
}

// Empty allocates a zeroed buffer of length n (spec.md §4.2
// "empty-of-length (allocates zeroed)").
func Empty[T Element](n int) (Data[T], error) {
	if n < 0 {
		return Data[T]{}, mediaerr.New(mediaerr.InvalidArguments, "media.Empty", "negative length")
	}
	buf := make([]T, n)
	return NewData(buf, nil), nil
}

// Copy allocates a fresh buffer and copies src's current bounds into it
// (spec.md §4.2 "Copy-constructor allocates and memcpys").
func Copy[T Element](src Data[T]) Data[T] {
	buf := make([]T, src.Len())
	copy(buf, src.c.buf[src.a:src.b])
	return NewData(buf, nil)
}

// Len returns the number of elements in the view's current bounds.
func (d Data[T]) Len() int {
	return d.b - d.a
}

// Bytes returns the raw bytes of a byte-element view's current bounds. The
// returned slice aliases the backing buffer and must not be retained past
// the view's lifetime.
func (d Data[T]) Bytes() []T {
	return d.c.buf[d.a:d.b]
}

// capacity returns the full backing buffer length, independent of bounds.
func (d Data[T]) capacity() int {
	return len(d.c.buf)
}

// SetBounds mutates only this view's range; it never reallocates or releases
// the backing buffer (spec.md §4.2, testable property 10). a and b are
// absolute offsets into the original backing buffer, not relative to the
// current bounds.
func (d *Data[T]) SetBounds(a, b int) error {
	if a < 0 || b < a || b > d.capacity() {
		return mediaerr.New(mediaerr.OutOfRange, "Data.SetBounds", "a<=b<=capacity violated")
	}
	d.a, d.b = a, b
	return nil
}

// Bounds returns the view's current [a,b) range.
func (d Data[T]) Bounds() (int, int) {
	return d.a, d.b
}

// CopyInto writes src into the view starting at offset rel (relative to the
// view's own bounds), failing OutOfRange if it would exceed the view
// (spec.md §4.2 "copy(src) ... fails OutOfRange if it would exceed
// capacity").
func (d Data[T]) CopyInto(rel int, src []T) error {
	if rel < 0 || rel+len(src) > d.Len() {
		return mediaerr.New(mediaerr.OutOfRange, "Data.CopyInto", "write would exceed view bounds")
	}
	copy(d.c.buf[d.a+rel:d.a+rel+len(src)], src)
	return nil
}

// Equal compares two views byte-for-byte over their current bounds; it does
// not compare identity or backing buffer (spec.md §3 "Equality compares the
// live byte range, not identity").
func (d Data[T]) Equal(o Data[T]) bool {
	if d.Len() != o.Len() {
		return false
	}
	a, b := d.Bytes(), o.Bytes()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EqualBytes is a fast path for T=byte using bytes.Equal.
func EqualBytes(d, o Data[byte]) bool {
	return bytes.Equal(d.Bytes(), o.Bytes())
}

// Clone returns a new view over the same backing buffer and bounds,
// incrementing the shared reference count. Each clone must be Closed
// independently.
func (d Data[T]) Clone() Data[T] {
	d.c.retain()
	return d
}

// Close releases this view's share of the backing buffer. The release
// action runs exactly once, when the last clone is closed.
func (d Data[T]) Close() {
	d.c.drop()
}
