package mp2ts

import (
	"context"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/internal/observability"
	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/nal"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// PID assignment mirrors internal/daemon/ts_muxer.go's fixed layout: one
// elementary stream per PID, video first.
const (
	videoPID = 0x0100
	audioPID = 0x0101
)

// MuxInput names the tracks Mux combines into one TS stream. Video and
// Audio are each optional; Caption, when present, is spliced as an SEI NAL
// into every video access unit whose pts exactly matches a caption sample's
// pts, the way the demuxer split it out.
type MuxInput struct {
	Video   *media.Media[settings.Sample, settings.TrackVideo]
	Audio   *media.Media[settings.Sample, settings.TrackAudio]
	Caption *media.Media[settings.Sample, settings.TrackCaption]

	// Logger receives structured trace/debug output; nil defaults to
	// slog.Default(), same as Config.
	Logger *slog.Logger
}

// Mux writes in to w as an MPEG-2 Transport Stream, wrapping
// mpegts.Writer for PAT/PMT/PES mechanics exactly as
// internal/daemon/ts_muxer.go does, and handling the caption-splice and
// keyframe SPS/PPS-prepend semantics mp2ts's demuxer strips out.
func Mux(w io.Writer, in MuxInput) error {
	logger := observability.WithComponent(media.ResolveLogger(media.LogConfig{Logger: in.Logger}), "mp2ts.mux")
	writer := &mpegts.Writer{}
	writer.W = w

	var videoTrack, audioTrack *mpegts.Track
	var videoSettings settings.TrackVideo
	isH265 := false

	if in.Video != nil {
		videoSettings = in.Video.Settings()
		isH265 = videoSettings.Codec == settings.VideoH265
		var codec mpegts.Codec
		if isH265 {
			codec = &mpegts.CodecH265{}
		} else {
			codec = &mpegts.CodecH264{}
		}
		videoTrack = &mpegts.Track{PID: videoPID, Codec: codec}
		writer.Tracks = append(writer.Tracks, videoTrack)
	}

	var audioSettings settings.TrackAudio
	if in.Audio != nil {
		audioSettings = in.Audio.Settings()
		codec, err := audioCodecFor(audioSettings)
		if err != nil {
			return err
		}
		audioTrack = &mpegts.Track{PID: audioPID, Codec: codec}
		writer.Tracks = append(writer.Tracks, audioTrack)
	}

	if err := writer.Initialize(); err != nil {
		return mediaerr.Wrap(mediaerr.Invalid, "mp2ts.Mux", "initializing mpegts writer", err)
	}
	if _, err := writer.WriteTables(); err != nil {
		return mediaerr.Wrap(mediaerr.Invalid, "mp2ts.Mux", "writing PAT/PMT", err)
	}

	captionsByPTS, err := indexCaptions(in.Caption)
	if err != nil {
		return err
	}

	type videoOp struct {
		sample   settings.Sample
		captions []nal.Caption
	}

	order := make([]media.Tagged[func() error], 0, 64)

	if in.Video != nil {
		a, b := in.Video.Bounds()
		for i := a; i < b; i++ {
			s, err := in.Video.Get(i)
			if err != nil {
				return err
			}
			op := videoOp{sample: s, captions: captionsByPTS[s.PTS]}
			order = append(order, media.Tagged[func() error]{
				DTS: s.DTS, Priority: 0,
				Value: func() error { return writeVideoSample(writer, videoTrack, videoSettings, isH265, op.sample, op.captions) },
			})
		}
	}
	if in.Audio != nil {
		a, b := in.Audio.Bounds()
		for i := a; i < b; i++ {
			s, err := in.Audio.Get(i)
			if err != nil {
				return err
			}
			order = append(order, media.Tagged[func() error]{
				DTS: s.DTS, Priority: 1,
				Value: func() error { return writeAudioSample(writer, audioTrack, s) },
			})
		}
	}

	for _, fn := range media.OrderSamples(order) {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Log(context.Background(), observability.LevelTrace, "mux complete", slog.Int("samples", len(order)))
	return nil
}

func audioCodecFor(a settings.TrackAudio) (mpegts.Codec, error) {
	switch a.Codec {
	case settings.AudioAACLC, settings.AudioAACLCSBR:
		cfg := mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   int(a.SampleRate),
			ChannelCount: int(a.Channels),
		}
		return &mpegts.CodecMPEG4Audio{Config: cfg}, nil
	default:
		return nil, mediaerr.New(mediaerr.Unsupported, "mp2ts.Mux", "audio codec has no MPEG-TS mapping")
	}
}

// indexCaptions groups caption samples by their exact pts, preserving the
// pts-exact-match splice quirk the demuxer's caption extraction relies on
// (spec.md §4.6 "Caption SEI re-injection").
func indexCaptions(track *media.Media[settings.Sample, settings.TrackCaption]) (map[int64][]nal.Caption, error) {
	out := map[int64][]nal.Caption{}
	if track == nil {
		return out, nil
	}
	a, b := track.Bounds()
	for i := a; i < b; i++ {
		s, err := track.Get(i)
		if err != nil {
			return nil, err
		}
		payload, err := s.Payload()
		if err != nil {
			return nil, err
		}
		defer payload.Close()
		raw := payload.Bytes()
		// Caption payloads carry a 4-byte prefix (start code or length
		// field) ahead of the 1-byte SEI NAL header, and rbsp_trailing_bits
		// at the end.
		if len(raw) < 6 {
			continue
		}
		rbsp := nal.StripEmulationPrevention(raw[5 : len(raw)-1])
		out[s.PTS] = append(out[s.PTS], nal.ExtractCaptions(rbsp)...)
	}
	return out, nil
}

func writeVideoSample(w *mpegts.Writer, track *mpegts.Track, v settings.TrackVideo, isH265 bool, s settings.Sample, captions []nal.Caption) error {
	payload, err := s.Payload()
	if err != nil {
		return err
	}
	defer payload.Close()

	raw := payload.Bytes()
	au := splitAnnexB(raw)
	if au == nil {
		au = splitAVCC(raw, v.SPSPPS.NALLengthSize)
	}
	if s.Keyframe {
		au = prependParameterSets(au, v, isH265)
	}
	if len(captions) > 0 {
		// Caption SEI goes after the parameter sets and before the coded
		// NALs for the same pts.
		idx := 0
		for idx < len(au) && isParameterSet(au[idx], isH265) {
			idx++
		}
		spliced := make([][]byte, 0, len(au)+1)
		spliced = append(spliced, au[:idx]...)
		spliced = append(spliced, nal.BuildCaptionSEI(captions))
		spliced = append(spliced, au[idx:]...)
		au = spliced
	}
	if len(au) == 0 {
		return nil
	}
	if isH265 {
		return w.WriteH265(track, s.PTS, s.DTS, au)
	}
	return w.WriteH264(track, s.PTS, s.DTS, au)
}

func writeAudioSample(w *mpegts.Writer, track *mpegts.Track, s settings.Sample) error {
	payload, err := s.Payload()
	if err != nil {
		return err
	}
	defer payload.Close()
	au := append([]byte(nil), payload.Bytes()...)
	return w.WriteMPEG4Audio(track, s.PTS, [][]byte{au})
}

// splitAnnexB splits an Annex-B-framed payload into its constituent NAL
// units (start codes stripped), the inverse of the demuxer's start-code
// prepend.
func splitAnnexB(b []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}
	var out [][]byte
	for i, s := range starts {
		end := len(b)
		if i+1 < len(starts) {
			end = starts[i+1] - 3
			if end > 0 && b[end-1] == 0 {
				end-- // the next start code was the 4-byte 00 00 00 01 form
			}
		}
		if end > s {
			out = append(out, b[s:end])
		}
	}
	return out
}

// splitAVCC splits a length-prefixed payload (as produced by the MP4
// demuxer) into NAL units, so cross-container remuxing does not require the
// caller to reframe samples first.
func splitAVCC(b []byte, nalLengthSize int) [][]byte {
	if nalLengthSize == 0 {
		nalLengthSize = 4
	}
	infos, err := nal.ScanAVCC(b, nalLengthSize)
	if err != nil {
		return nil
	}
	out := make([][]byte, 0, len(infos))
	for _, info := range infos {
		out = append(out, b[info.Offset:info.Offset+info.Size])
	}
	return out
}

func prependParameterSets(au [][]byte, v settings.TrackVideo, isH265 bool) [][]byte {
	if len(v.SPSPPS.SPS) == 0 || (len(au) > 0 && isParameterSet(au[0], isH265)) {
		return au
	}
	var prefix [][]byte
	if isH265 && len(v.SPSPPS.VPS) > 0 {
		prefix = append(prefix, v.SPSPPS.VPS)
	}
	prefix = append(prefix, v.SPSPPS.SPS, v.SPSPPS.PPS)
	return append(prefix, au...)
}

func isParameterSet(n []byte, isH265 bool) bool {
	if len(n) == 0 {
		return false
	}
	if isH265 {
		t := (n[0] >> 1) & 0x3F
		return t == h265NALVPS || t == h265NALSPS || t == h265NALPPS
	}
	t := nal.Type(n[0] & 0x1F)
	return t == nal.TypeSPS || t == nal.TypePPS
}
