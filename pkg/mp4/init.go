package mp4

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// InitSegment is the decoded form of a fragmented-MP4 initialization
// segment (ftyp+moov, no samples): one entry per track, video first then
// audio, matching spec.md §4.2's DASH init-segment projection.
type InitSegment struct {
	VideoTrackID int
	AudioTrackID int
	Video        *settings.TrackVideo
	Audio        *settings.TrackAudio
}

// BuildInitSegment marshals an fMP4 init segment for the given tracks,
// grounded on internal/daemon/fmp4_muxer.go's init-segment construction and
// the Init.Marshal call confirmed in the retrieval pack's mediamtx/gbox
// fMP4 writers.
func BuildInitSegment(videoTrackID int, video *settings.TrackVideo, audioTrackID int, audio *settings.TrackAudio) ([]byte, error) {
	init := &fmp4.Init{}

	if video != nil {
		codec, err := BuildVideoCodec(*video)
		if err != nil {
			return nil, err
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        videoTrackID,
			TimeScale: video.Timescale,
			Codec:     codec,
		})
	}
	if audio != nil {
		codec, err := BuildAudioCodec(*audio)
		if err != nil {
			return nil, err
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        audioTrackID,
			TimeScale: audio.Timescale,
			Codec:     codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, mediaerr.Wrap(mediaerr.Invalid, "mp4.BuildInitSegment", "marshal failed", err)
	}
	return buf.Bytes(), nil
}

// ParseInitSegment decodes an fMP4 init segment back into track
// descriptions, grounded on internal/daemon/fmp4_demuxer.go's parseInit.
func ParseInitSegment(data []byte) (InitSegment, error) {
	init := &fmp4.Init{}
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		return InitSegment{}, mediaerr.Wrap(mediaerr.Invalid, "mp4.ParseInitSegment", "unmarshal failed", err)
	}

	var out InitSegment
	for _, track := range init.Tracks {
		switch codec := track.Codec.(type) {
		case *mp4.CodecH264, *mp4.CodecH265:
			vc, spsPPS, err := DescribeVideoCodec(codec)
			if err != nil {
				return InitSegment{}, err
			}
			out.VideoTrackID = track.ID
			out.Video = &settings.TrackVideo{Codec: vc, Timescale: track.TimeScale, SPSPPS: spsPPS}
		case *mp4.CodecMPEG4Audio, *mp4.CodecLPCM:
			ac, err := DescribeAudioCodec(codec)
			if err != nil {
				return InitSegment{}, err
			}
			ac.Timescale = track.TimeScale
			out.AudioTrackID = track.ID
			out.Audio = &ac
		}
	}
	return out, nil
}
