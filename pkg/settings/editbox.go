package settings

import "github.com/jmylchreest/containerforge/internal/mediaerr"

// EmptyEdit is the sentinel start_pts value marking an empty edit
// (spec.md §3 "EditBox... start_pts ∈ ℤ ∪ {EMPTY=-1}").
const EmptyEdit = -1

// Edit is one entry of an edit-list: (start_pts, duration_pts, rate, kind),
// in the track's media timescale (spec.md §3 "EditBox").
type Edit struct {
	StartPTS   int64 // EmptyEdit for an empty edit
	Duration   uint64
	Rate       float64
	Kind       Kind
}

// ValidateEdits enforces the three ordered-list invariants (spec.md §3
// "EditBox... Invariants", §8 property 5):
//  1. at most one empty edit, only at index 0
//  2. a single empty edit alone is invalid
//  3. non-empty edits are non-overlapping and ordered
func ValidateEdits(edits []Edit) error {
	if len(edits) == 0 {
		return nil
	}
	hasEmpty := edits[0].StartPTS == EmptyEdit
	if hasEmpty && len(edits) == 1 {
		return mediaerr.New(mediaerr.Invalid, "ValidateEdits", "a single empty edit alone is invalid")
	}
	for i, e := range edits {
		if e.StartPTS == EmptyEdit && i != 0 {
			return mediaerr.New(mediaerr.Invalid, "ValidateEdits", "empty edit only allowed at index 0")
		}
	}
	start := 0
	if hasEmpty {
		start = 1
	}
	for i := start; i < len(edits)-1; i++ {
		cur, next := edits[i], edits[i+1]
		if cur.StartPTS+int64(cur.Duration) > next.StartPTS {
			return mediaerr.New(mediaerr.Invalid, "ValidateEdits", "non-empty edits must be non-overlapping and ordered")
		}
	}
	return nil
}

// RealPts maps a media-time pts through edits to its playback position,
// returning -1 if pts falls outside every non-empty edit ("edited out")
// (spec.md §3 "RealPts(edits, pts)").
func RealPts(edits []Edit, pts int64) int64 {
	if len(edits) == 0 {
		return pts
	}

	var accumulated int64
	i := 0
	if edits[0].StartPTS == EmptyEdit {
		accumulated = int64(edits[0].Duration)
		i = 1
	}

	for ; i < len(edits); i++ {
		e := edits[i]
		s := e.StartPTS
		d := int64(e.Duration)
		if pts >= s && pts < s+d {
			return accumulated + (pts - s)
		}
		if pts > s+d {
			accumulated += d
			continue
		}
		// pts < s: falls in the gap before this edit, not covered by any edit.
		break
	}
	return -1
}
