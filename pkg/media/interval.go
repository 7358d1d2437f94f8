// Package media provides the generic lazy, random-access, settings-carrying
// sequence abstraction (spec.md §4.1 "Lazy media pipeline") plus the byte-
// level Data view and Reader it is built from.
package media

import (
	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// Producer lazily yields the value at index i. It must be pure: repeated
// calls for the same source and index return structurally equal values
// (spec.md §3 "Track / Media").
type Producer[V any] func(i uint32) (V, error)

// Media is a lazy, bounded, random-access sequence over [a,b) of sample
// indices, carrying an attached, immutable settings value S (spec.md §3,
// §4.1). It is intentionally decoupled from any concrete settings type: V is
// the element (encoded Sample, decoded frame, decoded sound buffer, encoded
// artifact...) and S is whatever per-track metadata the producer of this
// Media wants attached (video/audio/data/caption Settings, or nothing).
type Media[V any, S any] struct {
	a, b     uint32
	produce  Producer[V]
	settings S
}

// New builds a Media over [a,b) backed by produce, carrying settings s.
func New[V any, S any](a, b uint32, produce Producer[V], s S) Media[V, S] {
	return Media[V, S]{a: a, b: b, produce: produce, settings: s}
}

// Len returns b-a.
func (m Media[V, S]) Len() uint32 { return m.b - m.a }

// Bounds returns the current [a,b) index range.
func (m Media[V, S]) Bounds() (uint32, uint32) { return m.a, m.b }

// Settings returns the attached settings value.
func (m Media[V, S]) Settings() S { return m.settings }

// Get returns the value at absolute index i, failing OutOfRange if
// i is not in [a,b) (spec.md §4.1).
func (m Media[V, S]) Get(i uint32) (V, error) {
	var zero V
	if i < m.a || i >= m.b {
		return zero, mediaerr.New(mediaerr.OutOfRange, "Media.Get", "index outside [a,b)")
	}
	return m.produce(i)
}

// Iterator is a cursor over [a,b).
type Iterator[V any] struct {
	media  interface{ get(uint32) (V, error) }
	i, end uint32
}

// iterAdapter adapts a Media into the minimal interface Iterator needs, so Iterator
// itself does not need the S type parameter.
type iterAdapter[V any, S any] struct {
	m Media[V, S]
}

func (a iterAdapter[V, S]) get(i uint32) (V, error) { return a.m.Get(i) }

// Iter returns a bounded iterator over m's current range.
func (m Media[V, S]) Iter() *Iterator[V] {
	a, b := m.Bounds()
	return &Iterator[V]{media: iterAdapter[V, S]{m}, i: a, end: b}
}

// Next returns the next value and true, or the zero value and false once the
// iterator is exhausted.
func (it *Iterator[V]) Next() (V, bool, error) {
	var zero V
	if it.i >= it.end {
		return zero, false, nil
	}
	v, err := it.media.get(it.i)
	it.i++
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Filter produces a new Media whose index space is a contiguous remap over
// the subset of original indices for which pred holds; settings are
// inherited unchanged (spec.md §4.1 "filter").
func Filter[V any, S any](m Media[V, S], pred func(V) bool) (Media[V, S], error) {
	a, b := m.Bounds()
	kept := make([]uint32, 0, b-a)
	for i := a; i < b; i++ {
		v, err := m.produce(i)
		if err != nil {
			return Media[V, S]{}, err
		}
		if pred(v) {
			kept = append(kept, i)
		}
	}
	return remap(m, kept), nil
}

// FilterIndex is Filter's index-only sibling (spec.md §4.1 "filter_index").
func FilterIndex[V any, S any](m Media[V, S], pred func(uint32) bool) Media[V, S] {
	a, b := m.Bounds()
	kept := make([]uint32, 0, b-a)
	for i := a; i < b; i++ {
		if pred(i) {
			kept = append(kept, i)
		}
	}
	return remap(m, kept)
}

func remap[V any, S any](m Media[V, S], kept []uint32) Media[V, S] {
	produce := m.produce
	producer := func(i uint32) (V, error) {
		var zero V
		if int(i) >= len(kept) {
			return zero, mediaerr.New(mediaerr.OutOfRange, "Media.filter", "index outside remapped range")
		}
		return produce(kept[i])
	}
	return New(0, uint32(len(kept)), producer, m.settings)
}

// Transform produces a lazy Media[U,S] projecting each V through f. settings
// is carried through unchanged; use TransformSettings to also rewrite it
// (spec.md §4.1 "transform<U>").
func Transform[V any, U any, S any](m Media[V, S], f func(V) (U, error)) Media[U, S] {
	a, b := m.Bounds()
	producer := func(i uint32) (U, error) {
		var zero U
		v, err := m.Get(i)
		if err != nil {
			return zero, err
		}
		return f(v)
	}
	return New(a, b, producer, m.settings)
}

// TransformSettings is Transform plus a settings rewrite (spec.md §4.1
// "transform<U>(f, g: Settings<K> -> Settings<K>)").
func TransformSettings[V any, U any, S any, S2 any](m Media[V, S], f func(V) (U, error), g func(S) S2) Media[U, S2] {
	a, b := m.Bounds()
	producer := func(i uint32) (U, error) {
		var zero U
		v, err := m.Get(i)
		if err != nil {
			return zero, err
		}
		return f(v)
	}
	return New(a, b, producer, g(m.settings))
}

// Join lazily zips two Media by index via f; the result's bounds are the
// elementwise minima of the two inputs (spec.md §4.1 "transform_with").
func Join[A any, B any, U any, S any](ma Media[A, S], mb Media[B, S], f func(A, B) (U, error)) Media[U, S] {
	aa, ab := ma.Bounds()
	ba, bb := mb.Bounds()
	lo, hi := aa, ab
	if ba < lo {
		lo = ba
	}
	if bb < hi {
		hi = bb
	}
	producer := func(i uint32) (U, error) {
		var zero U
		av, err := ma.Get(i)
		if err != nil {
			return zero, err
		}
		bv, err := mb.Get(i)
		if err != nil {
			return zero, err
		}
		return f(av, bv)
	}
	return New(lo, hi, producer, ma.settings)
}

// ToSlice forces the whole sequence, pulling every index in order.
func ToSlice[V any, S any](m Media[V, S]) ([]V, error) {
	a, b := m.Bounds()
	out := make([]V, 0, b-a)
	for i := a; i < b; i++ {
		v, err := m.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
