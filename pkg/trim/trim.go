// Package trim implements the trim and chunk operators (spec.md §4.8,
// expanded by SPEC_FULL.md §4.8) that window a track and its edit list in
// playback time.
package trim

import (
	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// Result is one windowed (track, edits) pair: the samples whose playback
// time intersects the requested window, plus a rewritten edit list that
// expresses that window starting at playback time zero.
type Result[S any] struct {
	Track media.Media[settings.Sample, S]
	Edits []settings.Edit
}

// Trim returns the samples of track whose playback time (via RealPts over
// edits) falls in [startMs, startMs+durationMs), and a new edit list
// expressing that window in playback time starting at 0 (spec.md §4.8).
// settings is carried through unchanged; timescale is read from
// timescaleOf since Trim is generic over the settings type S.
func Trim[S any](track media.Media[settings.Sample, S], edits []settings.Edit, startMs, durationMs uint64, timescaleOf func(S) uint32) (Result[S], error) {
	if err := settings.ValidateEdits(edits); err != nil {
		return Result[S]{}, err
	}
	ts := timescaleOf(track.Settings())
	if ts == 0 {
		return Result[S]{}, mediaerr.New(mediaerr.InvalidArguments, "trim.Trim", "track timescale is zero")
	}

	startPTS := msToTicks(startMs, ts)
	endPTS := msToTicks(startMs+durationMs, ts)

	a, b := track.Bounds()
	kept := make([]uint32, 0, b-a)
	for i := a; i < b; i++ {
		s, err := track.Get(i)
		if err != nil {
			return Result[S]{}, err
		}
		play := settings.RealPts(edits, s.PTS)
		if play < 0 {
			continue
		}
		if play >= int64(startPTS) && play < int64(endPTS) {
			kept = append(kept, i)
		}
	}

	newEdits := windowEdits(edits, startPTS, endPTS)

	return Result[S]{
		Track: media.FilterIndex(track, func(i uint32) bool {
			return containsIndex(kept, i)
		}),
		Edits: newEdits,
	}, nil
}

// Chunk tiles the whole edited timeline into consecutive, non-overlapping
// playback-time windows of chunkDurationMs (the last chunk may be
// shorter), built on Trim (SPEC_FULL.md §4.8 "chunk operator").
func Chunk[S any](track media.Media[settings.Sample, S], edits []settings.Edit, chunkDurationMs uint64, timescaleOf func(S) uint32) ([]Result[S], error) {
	if chunkDurationMs == 0 {
		return nil, mediaerr.New(mediaerr.InvalidArguments, "trim.Chunk", "chunkDurationMs must be positive")
	}
	total, err := totalPlaybackMs(track, edits, timescaleOf)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	var out []Result[S]
	for start := uint64(0); start < total; start += chunkDurationMs {
		dur := chunkDurationMs
		if start+dur > total {
			dur = total - start
		}
		r, err := Trim(track, edits, start, dur, timescaleOf)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func totalPlaybackMs[S any](track media.Media[settings.Sample, S], edits []settings.Edit, timescaleOf func(S) uint32) (uint64, error) {
	ts := timescaleOf(track.Settings())
	if ts == 0 {
		return 0, mediaerr.New(mediaerr.InvalidArguments, "trim.Chunk", "track timescale is zero")
	}
	a, b := track.Bounds()
	if a == b {
		return 0, nil
	}
	var maxPlay int64
	for i := a; i < b; i++ {
		s, err := track.Get(i)
		if err != nil {
			return 0, err
		}
		play := settings.RealPts(edits, s.PTS)
		if play > maxPlay {
			maxPlay = play
		}
	}
	return ticksToMs(uint64(maxPlay), ts) + 1, nil
}

func msToTicks(ms uint64, timescale uint32) uint64 {
	return ms * uint64(timescale) / 1000
}

func ticksToMs(ticks uint64, timescale uint32) uint64 {
	return ticks * 1000 / uint64(timescale)
}

// windowEdits clips edits to [startPTS, endPTS) and shifts every retained
// edit's start_pts so the window begins at playback-time zero (spec.md
// §4.8 "a new edit-box list that expresses the window in playback time").
func windowEdits(edits []settings.Edit, startPTS, endPTS uint64) []settings.Edit {
	var out []settings.Edit
	var cursor uint64 // cumulative playback duration consumed by edits so far
	for _, e := range edits {
		if e.StartPTS == settings.EmptyEdit {
			// An empty edit occupies playback time (RealPts counts it), so the
			// cursor moves past it; the returned list carries no empty edit.
			cursor += e.Duration
			continue
		}
		editStart := cursor
		editEnd := cursor + e.Duration
		cursor = editEnd

		lo := editStart
		if startPTS > lo {
			lo = startPTS
		}
		hi := editEnd
		if endPTS < hi {
			hi = endPTS
		}
		if lo >= hi {
			continue
		}
		out = append(out, settings.Edit{
			StartPTS: e.StartPTS + int64(lo-editStart),
			Duration: hi - lo,
			Rate:     e.Rate,
			Kind:     e.Kind,
		})
	}
	return out
}

func containsIndex(sorted []uint32, v uint32) bool {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(sorted) && sorted[lo] == v
}
