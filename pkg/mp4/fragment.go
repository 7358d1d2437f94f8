package mp4

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// FragmentSample is one decoded sample from a moof+mdat media fragment,
// already carrying its track-relative DTS (spec.md §4.2 "DASH data
// segment... base_media_decode_time + accumulated durations").
type FragmentSample struct {
	TrackID   int
	DTS       int64
	PTSOffset int32
	Keyframe  bool
	Payload   []byte
}

// BuildFragment marshals one moof+mdat media fragment carrying samples for
// the given tracks, grounded on the confirmed fmp4.Part{SequenceNumber,
// Tracks}.Marshal call shape (internal-device_connect fMP4 writer,
// internal/relay's batched-sample muxing).
func BuildFragment(sequenceNumber uint32, tracks map[int][]settings.Sample, baseTime map[int]uint64) ([]byte, error) {
	part := &fmp4.Part{SequenceNumber: sequenceNumber}

	for trackID, samples := range tracks {
		partTrack := &fmp4.PartTrack{ID: trackID, BaseTime: baseTime[trackID]}
		for i, s := range samples {
			payload, err := s.Payload()
			if err != nil {
				return nil, mediaerr.Wrap(mediaerr.ReaderError, "mp4.BuildFragment", "sample payload unavailable", err)
			}
			defer payload.Close()

			var duration int64
			if i+1 < len(samples) {
				duration = samples[i+1].DTS - s.DTS
			} else if i > 0 {
				duration = s.DTS - samples[i-1].DTS
			}
			if duration < 0 {
				duration = 0
			}

			partTrack.Samples = append(partTrack.Samples, &fmp4.Sample{
				Duration:        uint32(duration),
				PTSOffset:       int32(s.PTS - s.DTS),
				IsNonSyncSample: !s.Keyframe,
				Payload:         payload.Bytes(),
			})
		}
		part.Tracks = append(part.Tracks, partTrack)
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, mediaerr.Wrap(mediaerr.Invalid, "mp4.BuildFragment", "marshal failed", err)
	}
	return buf.Bytes(), nil
}

// ParseFragments decodes zero or more back-to-back moof+mdat fragments,
// grounded on internal/daemon/fmp4_demuxer.go's parseFragment
// (fmp4.Parts.Unmarshal).
func ParseFragments(data []byte) ([]FragmentSample, error) {
	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		return nil, mediaerr.Wrap(mediaerr.Invalid, "mp4.ParseFragments", "unmarshal failed", err)
	}

	var out []FragmentSample
	for _, part := range parts {
		for _, track := range part.Tracks {
			baseTime := track.BaseTime
			for i, sample := range track.Samples {
				dts := int64(baseTime)
				out = append(out, FragmentSample{
					TrackID:   track.ID,
					DTS:       dts,
					PTSOffset: sample.PTSOffset,
					Keyframe:  !sample.IsNonSyncSample || i == 0,
					Payload:   sample.Payload,
				})
				baseTime += uint64(sample.Duration)
			}
		}
	}
	return out, nil
}
