package settings

import (
	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/pkg/media"
)

// PayloadFunc is a nullary closure returning a sample's encoded bytes,
// capturing a weak/shared reference back to its owning demuxer rather than a
// strong cycle (spec.md §3 "Sample (encoded)", §9 "Cyclic producer/owner
// relationships").
type PayloadFunc func() (media.Data[byte], error)

// ByteRange is the optional backing-file location of a sample's payload.
type ByteRange struct {
	Offset int64
	Size   int64
}

// Sample is the encoded-sample tuple spec.md §3 describes: (pts, dts,
// keyframe?, kind, payload-thunk, optional byte-range). Two samples compare
// equal if their metadata matches; payloads are compared only on explicit
// request via Payload().
type Sample struct {
	PTS       int64
	DTS       int64
	Keyframe  bool
	Kind      Kind
	Payload   PayloadFunc
	ByteRange *ByteRange
}

// MetadataEqual reports whether s and o carry the same pts/dts/keyframe/kind,
// ignoring payload (spec.md §3 "Two samples compare equal if their metadata
// matches").
func (s Sample) MetadataEqual(o Sample) bool {
	return s.PTS == o.PTS && s.DTS == o.DTS && s.Keyframe == o.Keyframe && s.Kind == o.Kind
}

// Shift returns a new sample with pts/dts shifted by offset, failing on
// overflow or underflow (spec.md §3 "shift(offset)").
func (s Sample) Shift(offset int64) (Sample, error) {
	pts, ptsOK := addOverflows(s.PTS, offset)
	dts, dtsOK := addOverflows(s.DTS, offset)
	if !ptsOK || !dtsOK {
		return Sample{}, mediaerr.New(mediaerr.Overflow, "Sample.Shift", "pts/dts shift under/overflowed")
	}
	if pts < 0 || dts < 0 {
		return Sample{}, mediaerr.New(mediaerr.Overflow, "Sample.Shift", "shift produced a negative timestamp")
	}
	out := s
	out.PTS = pts
	out.DTS = dts
	return out, nil
}

// addOverflows adds b to a, reporting whether the result did not overflow
// int64.
func addOverflows(a, b int64) (int64, bool) {
	sum := a + b
	if b > 0 && sum < a {
		return 0, false
	}
	if b < 0 && sum > a {
		return 0, false
	}
	return sum, true
}
