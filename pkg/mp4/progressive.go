package mp4

import (
	"encoding/binary"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// ProgressiveTrack is one track's worth of samples ready to mux into a
// classic (progressive) MP4/QuickTime file.
type ProgressiveTrack struct {
	ID         int
	TimeScale  uint32
	TimeOffset int32
	Video      *settings.TrackVideo
	Audio      *settings.TrackAudio
	Samples    []settings.Sample
}

// BuildProgressive marshals a classic moov-before-mdat MP4 file (header
// boxes via mediacommon's mp4.Header, which wraps the full stbl/elst box
// set — stts/stsc/stsz/stco/stss/ctts — the way
// internal/daemon/fmp4_muxer.go and the pack's mediamtx playback muxer
// both build it) followed by a flat mdat of sample payloads, track by track
// in each track's sample (decode) order.
func BuildProgressive(tracks []ProgressiveTrack) ([]byte, error) {
	header := mp4.Header{}

	type resolved struct {
		payloads [][]byte
	}
	var payloadSets []resolved

	for _, t := range tracks {
		var codec mp4.Codec
		var err error
		switch {
		case t.Video != nil:
			codec, err = BuildVideoCodec(*t.Video)
		case t.Audio != nil:
			codec, err = BuildAudioCodec(*t.Audio)
		default:
			err = mediaerr.New(mediaerr.InvalidArguments, "mp4.BuildProgressive", "track has neither video nor audio settings")
		}
		if err != nil {
			return nil, err
		}

		ht := &mp4.HeaderTrack{
			ID:         t.ID,
			TimeScale:  t.TimeScale,
			TimeOffset: t.TimeOffset,
			Codec:      codec,
		}

		var payloads [][]byte
		for i, s := range t.Samples {
			data, err := s.Payload()
			if err != nil {
				return nil, mediaerr.Wrap(mediaerr.ReaderError, "mp4.BuildProgressive", "sample payload unavailable", err)
			}
			payload := append([]byte(nil), data.Bytes()...)
			data.Close()
			payloads = append(payloads, payload)

			var duration uint32
			if i+1 < len(t.Samples) {
				d := t.Samples[i+1].DTS - s.DTS
				if d > 0 {
					duration = uint32(d)
				}
			}
			ht.Samples = append(ht.Samples, &mp4.HeaderTrackSample{
				Duration:        duration,
				PTSOffset:       int32(s.PTS - s.DTS),
				IsNonSyncSample: !s.Keyframe,
				PayloadSize:     len(payload),
			})
		}

		header.Tracks = append(header.Tracks, ht)
		payloadSets = append(payloadSets, resolved{payloads: payloads})
	}

	var buf seekablebuffer.Buffer
	if err := header.Marshal(&buf); err != nil {
		return nil, mediaerr.Wrap(mediaerr.Invalid, "mp4.BuildProgressive", "header marshal failed", err)
	}

	mdatSize := 8
	for _, set := range payloadSets {
		for _, p := range set.payloads {
			mdatSize += len(p)
		}
	}
	out := buf.Bytes()
	var sizeHdr [4]byte
	binary.BigEndian.PutUint32(sizeHdr[:], uint32(mdatSize))
	out = append(out, sizeHdr[:]...)
	out = append(out, 'm', 'd', 'a', 't')
	for _, set := range payloadSets {
		for _, p := range set.payloads {
			out = append(out, p...)
		}
	}
	return out, nil
}

// ParsedProgressiveSample is one sample table entry decoded from a classic
// moov/stbl box set.
type ParsedProgressiveSample struct {
	Offset   int64
	Size     int64
	DTS      int64
	PTS      int64
	Keyframe bool
}

// ParsedProgressiveTrack is one track's decoded stbl plus edit list.
type ParsedProgressiveTrack struct {
	ID        int
	TimeScale uint32
	Video     *settings.TrackVideo
	Audio     *settings.TrackAudio
	Edits     []settings.Edit
	Samples   []ParsedProgressiveSample
}

// ParseProgressive walks a classic MP4/QuickTime file's moov box and decodes
// every track's sample table, edit list, and codec configuration. Unlike
// the fragmented path, no confirmed mediacommon read API covers this (see
// box.go); this hand-rolled walk follows ISO/IEC 14496-12's trak/mdia/minf/
// stbl box nesting directly.
func ParseProgressive(reader media.Reader) ([]ParsedProgressiveTrack, error) {
	size := reader.Size()
	top, err := reader.ReadAt(0, size)
	if err != nil {
		return nil, err
	}
	defer top.Close()
	data := top.Bytes()

	boxes, err := walkBoxes(data, 0, len(data))
	if err != nil {
		return nil, err
	}
	moov, ok := findBox(boxes, "moov")
	if !ok {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.ParseProgressive", "no moov box found")
	}
	moovChildren, err := walkBoxes(data, moov.Start, moov.End)
	if err != nil {
		return nil, err
	}

	var out []ParsedProgressiveTrack
	for _, b := range moovChildren {
		if b.Type != "trak" {
			continue
		}
		track, err := parseTrak(data, b)
		if err != nil {
			return nil, err
		}
		out = append(out, track)
	}
	return out, nil
}
