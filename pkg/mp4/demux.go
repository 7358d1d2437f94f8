package mp4

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sort"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/internal/observability"
	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/nal"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// Config controls a Demuxer's optional structured logging. The zero value
// is valid: a nil Logger defaults to slog.Default(), the same pattern
// tvarr's daemon.FMP4DemuxerConfig/daemon.TSDemuxerConfig use.
type Config struct {
	media.LogConfig
}

func resolveConfig(cfg []Config) Config {
	if len(cfg) == 0 {
		return Config{}
	}
	return cfg[0]
}

// isomEditDurationUnknown32 is the 32-bit 0xFFFFFFFF sentinel some writers
// use for "duration computed later"; normalizeEdits rejects it, and the
// 64-bit 0xFFFFFFFFFFFFFFFF form, outright rather than guessing a real
// duration.
const isomEditDurationUnknown32 = 0xFFFFFFFF

// h265 NAL unit types carrying caption SEI, mirrored from pkg/mp2ts's
// demuxer (hvcC-framed MP4 samples use the same Annex-B type space as TS).
const (
	hevcNALPrefixSEI = 39
	hevcNALSuffixSEI = 40
)

// Demuxer demultiplexes a classic (progressive) moov-before-mdat MP4 or
// QuickTime file into video/audio/caption sample sequences plus each
// track's edit list (spec.md §4.4). Unlike pkg/mp2ts's eager push-based
// demuxer, Demuxer is pull-based: every sample's Payload thunk re-reads
// its byte range from the backing Reader, and the Reader outlives the
// Demuxer's tracks.
type Demuxer struct {
	reader media.Reader
	logger *slog.Logger

	video      *settings.TrackVideo
	audio      *settings.TrackAudio
	caption    *settings.TrackCaption
	videoEdits []settings.Edit
	audioEdits []settings.Edit

	vSamples []settings.Sample
	aSamples []settings.Sample
	cSamples []settings.Sample
}

// NewDemuxer parses reader's moov box and builds lazy sample sequences for
// the first video and first audio track found (spec.md §4.4 "first of each
// type wins").
func NewDemuxer(reader media.Reader, cfg ...Config) (*Demuxer, error) {
	tracks, err := ParseProgressive(reader)
	if err != nil {
		return nil, err
	}

	logger := observability.WithComponent(media.ResolveLogger(resolveConfig(cfg).LogConfig), "mp4.demux")
	d := &Demuxer{reader: reader, logger: logger}

	var videoTrack, audioTrack *ParsedProgressiveTrack
	for i := range tracks {
		t := &tracks[i]
		if t.Video != nil && videoTrack == nil {
			videoTrack = t
		}
		if t.Audio != nil && audioTrack == nil {
			audioTrack = t
		}
	}

	if videoTrack != nil {
		if err := d.buildVideo(videoTrack); err != nil {
			return nil, err
		}
	}
	if audioTrack != nil {
		if err := d.buildAudio(audioTrack); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Demuxer) buildVideo(t *ParsedProgressiveTrack) error {
	if t.Video.CodedWidth > media.MaxCodedDimension || t.Video.CodedHeight > media.MaxCodedDimension {
		return mediaerr.New(mediaerr.Unsafe, "mp4.NewDemuxer", "coded dimension exceeds hard limit")
	}
	if len(t.Samples) > media.MaxSamplesPerTrack {
		return mediaerr.New(mediaerr.Unsafe, "mp4.NewDemuxer", "track sample count exceeds hard limit")
	}
	if len(t.Video.SPSPPS.SPS) > media.MaxHeaderSize || len(t.Video.SPSPPS.PPS) > media.MaxHeaderSize {
		return mediaerr.New(mediaerr.Unsafe, "mp4.NewDemuxer", "SPS/PPS size exceeds hard limit")
	}

	// PAR: the matrix-derived orientation is already set; override with the
	// SPS VUI sample_aspect_ratio when it's non-zero (spec.md §4.4 step 1).
	parW, parH := t.Video.PARWidth, t.Video.PARHeight
	if len(t.Video.SPSPPS.SPS) > 0 {
		var dims nal.Dimensions
		var err error
		if t.Video.Codec == settings.VideoH265 {
			dims, err = nal.ParseH265SPS(t.Video.SPSPPS.SPS)
		} else {
			dims, err = nal.ParseH264SPS(t.Video.SPSPPS.SPS)
		}
		if err == nil && dims.ParWidth > 0 && dims.ParHeight > 0 {
			parW, parH = uint32(dims.ParWidth), uint32(dims.ParHeight)
		}
	}
	if parW == 0 || parH == 0 {
		parW, parH = 1, 1
	}
	t.Video.PARWidth, t.Video.PARHeight = parW, parH
	t.Video.DisplayWidth, t.Video.DisplayHeight = settings.DeriveDisplayDimensions(
		t.Video.CodedWidth, t.Video.CodedHeight, parW, parH)

	edits, err := normalizeEdits(t.Edits, totalDuration(t.Samples))
	if err != nil {
		return err
	}
	d.videoEdits = edits

	keyframeIndex := openGOPKeyframes(t.Samples)
	firstKeyframe := 0
	for firstKeyframe < len(keyframeIndex) && !keyframeIndex[firstKeyframe] {
		firstKeyframe++
	}
	if firstKeyframe > 0 {
		d.logger.Log(context.Background(), observability.LevelTrace, "open GOP: dropping leading samples before first keyframe",
			slog.Int("dropped", firstKeyframe))
	}

	nalLengthSize := t.Video.SPSPPS.NALLengthSize
	if nalLengthSize == 0 {
		nalLengthSize = 4
	}
	isH265 := t.Video.Codec == settings.VideoH265

	lastKeyframe := firstKeyframe
	for i := firstKeyframe; i < len(t.Samples); i++ {
		s := t.Samples[i]
		if s.Size > media.MaxSampleSize {
			return mediaerr.New(mediaerr.Unsafe, "mp4.NewDemuxer", "sample size exceeds hard limit")
		}
		if keyframeIndex[i] {
			lastKeyframe = i
		} else if i-lastKeyframe >= media.MaxGOPSize {
			return mediaerr.New(mediaerr.Unsafe, "mp4.NewDemuxer", "GOP size exceeds hard limit")
		}
		sample := s
		payloadFn := d.videoPayload(sample, nalLengthSize, isH265)
		d.vSamples = append(d.vSamples, settings.Sample{
			PTS: s.PTS, DTS: s.DTS, Keyframe: keyframeIndex[i], Kind: settings.Video,
			Payload: payloadFn, ByteRange: &settings.ByteRange{Offset: s.Offset, Size: s.Size},
		})
	}

	d.video = t.Video
	return nil
}

// videoPayload returns a thunk that reads the sample's AVCC-framed NAL
// units from the backing reader and, if any SEI NAL carries an ITU-T T.35
// caption payload, rewrites the buffer with every SEI NAL of the sample
// removed (SEI NALs without captions included), routing the captions to a
// separate track (spec.md §4.4 "Sample access... rewrites
// the payload").
func (d *Demuxer) videoPayload(s ParsedProgressiveSample, nalLengthSize int, isH265 bool) settings.PayloadFunc {
	return func() (media.Data[byte], error) {
		view, err := d.reader.ReadAt(s.Offset, s.Size)
		if err != nil {
			return media.Data[byte]{}, err
		}
		defer view.Close()
		raw := append([]byte(nil), view.Bytes()...)

		infos, err := nal.ScanAVCC(raw, nalLengthSize)
		if err != nil {
			return media.Data[byte]{}, err
		}

		var captions []nal.Caption
		hasSEI := false
		for _, info := range infos {
			if isH265 {
				t := (raw[info.Offset] >> 1) & 0x3f
				if t != hevcNALPrefixSEI && t != hevcNALSuffixSEI {
					continue
				}
			} else if info.Type != nal.TypeSEI {
				continue
			}
			hasSEI = true
			headerLen := 1
			if isH265 {
				headerLen = 2
			}
			if info.Size <= headerLen {
				continue
			}
			rbsp := nal.StripEmulationPrevention(raw[info.Offset+headerLen : info.Offset+info.Size])
			caps := nal.ExtractCaptions(rbsp)
			if len(caps) > 0 {
				captions = append(captions, caps...)
			}
		}

		if len(captions) > 0 {
			d.appendCaption(s.PTS, s.DTS, captions)
		}

		if !hasSEI {
			return media.NewData(raw, nil), nil
		}

		out := make([]byte, 0, len(raw))
		for _, info := range infos {
			isCaptionSEI := false
			if isH265 {
				t := (raw[info.Offset] >> 1) & 0x3f
				isCaptionSEI = t == hevcNALPrefixSEI || t == hevcNALSuffixSEI
			} else {
				isCaptionSEI = info.Type == nal.TypeSEI
			}
			if isCaptionSEI && len(captions) > 0 {
				continue
			}
			out = appendLength(out, info.Size, nalLengthSize)
			out = append(out, raw[info.Offset:info.Offset+info.Size]...)
		}
		return media.NewData(out, nil), nil
	}
}

func (d *Demuxer) appendCaption(pts, dts int64, captions []nal.Caption) {
	if d.caption == nil {
		d.caption = &settings.TrackCaption{Codec: "cea-708"}
		if d.video != nil {
			d.caption.Timescale = d.video.Timescale
		}
	}
	nalu := nal.BuildCaptionSEI(captions)
	payload := appendLength(nil, len(nalu), 4)
	payload = append(payload, nalu...)
	d.cSamples = append(d.cSamples, settings.Sample{
		PTS: pts, DTS: dts, Keyframe: true, Kind: settings.Caption,
		Payload: constPayload(payload),
	})
}

func (d *Demuxer) buildAudio(t *ParsedProgressiveTrack) error {
	if len(t.Samples) > media.MaxSamplesPerTrack {
		return mediaerr.New(mediaerr.Unsafe, "mp4.NewDemuxer", "track sample count exceeds hard limit")
	}

	edits, err := normalizeEdits(t.Edits, totalDuration(t.Samples))
	if err != nil {
		return err
	}
	d.audioEdits = edits

	samples := t.Samples
	if t.Audio.Codec.IsPCM() {
		samples = coalescePCM(samples, t.Audio.Codec.BitDepth()/8*int(t.Audio.Channels))
	}

	for _, s := range samples {
		if s.Size > media.MaxSampleSize {
			return mediaerr.New(mediaerr.Unsafe, "mp4.NewDemuxer", "sample size exceeds hard limit")
		}
		sample := s
		d.aSamples = append(d.aSamples, settings.Sample{
			PTS: sample.PTS, DTS: sample.DTS, Keyframe: sample.Keyframe, Kind: settings.Audio,
			Payload:   rawPayload(d.reader, sample.Offset, sample.Size),
			ByteRange: &settings.ByteRange{Offset: sample.Offset, Size: sample.Size},
		})
	}
	d.audio = t.Audio
	return nil
}

func rawPayload(reader media.Reader, offset, size int64) settings.PayloadFunc {
	return func() (media.Data[byte], error) {
		view, err := reader.ReadAt(offset, size)
		if err != nil {
			return media.Data[byte]{}, err
		}
		return view, nil
	}
}

func constPayload(b []byte) settings.PayloadFunc {
	return func() (media.Data[byte], error) {
		return media.NewData(b, nil), nil
	}
}

// openGOPKeyframes implements spec.md §4.4 step 5: a sample is reported as
// keyframe only if the container's sync-sample flag says so AND its
// position in a pts-sorted copy of the sample list equals its dts-order
// index (i.e. it would still be the first sample decodable in presentation
// order — an "open GOP" keyframe whose presentation position has shifted
// is not safe to treat as a random-access point).
func openGOPKeyframes(samples []ParsedProgressiveSample) []bool {
	ptsOrder := make([]int, len(samples))
	for i := range ptsOrder {
		ptsOrder[i] = i
	}
	sort.SliceStable(ptsOrder, func(i, j int) bool {
		return samples[ptsOrder[i]].PTS < samples[ptsOrder[j]].PTS
	})
	out := make([]bool, len(samples))
	for pos, idx := range ptsOrder {
		out[idx] = samples[idx].Keyframe && pos == idx
	}
	return out
}

// coalescePCM fuses consecutive PCM samples with contiguous byte ranges
// into multi-frame samples of up to media.AudioFrameSize PCM frames,
// marking only frame-aligned fusion boundaries as keyframe (spec.md §4.4
// step 6). bytesPerFrame is channels * (bit_depth/8); a zero value disables
// coalescing (unknown frame geometry).
func coalescePCM(samples []ParsedProgressiveSample, bytesPerFrame int) []ParsedProgressiveSample {
	if bytesPerFrame <= 0 || len(samples) == 0 {
		return samples
	}
	var out []ParsedProgressiveSample
	cur := samples[0]
	framesInCur := cur.Size / int64(bytesPerFrame)
	var framesBeforeCur int64
	flush := func() {
		// Only a fusion boundary sitting on an AudioFrameSize multiple is a
		// safe split point (spec.md §8 property 9).
		cur.Keyframe = framesBeforeCur%media.AudioFrameSize == 0
		out = append(out, cur)
		framesBeforeCur += framesInCur
	}
	for i := 1; i < len(samples); i++ {
		s := samples[i]
		contiguous := s.Offset == cur.Offset+cur.Size
		framesAfter := framesInCur + s.Size/int64(bytesPerFrame)
		if contiguous && framesAfter <= media.AudioFrameSize {
			cur.Size += s.Size
			framesInCur = framesAfter
			continue
		}
		flush()
		cur = s
		framesInCur = s.Size / int64(bytesPerFrame)
	}
	flush()
	return out
}

func totalDuration(samples []ParsedProgressiveSample) int64 {
	if len(samples) == 0 {
		return 0
	}
	last := samples[len(samples)-1]
	if len(samples) == 1 {
		return last.PTS + 1
	}
	delta := last.DTS - samples[len(samples)-2].DTS
	return last.DTS + delta
}

// normalizeEdits applies spec.md §4.4 step 7's edit-box rules: only
// rate=1.0 edits are accepted, ISOM_EDIT_DURATION_UNKNOWN* is rejected, and
// edits beyond the track's playback duration are dropped once the
// cumulative declared duration reaches it.
func normalizeEdits(edits []settings.Edit, trackDuration int64) ([]settings.Edit, error) {
	if len(edits) == 0 {
		return nil, nil
	}
	var out []settings.Edit
	var cumulative uint64
	for _, e := range edits {
		if e.Duration == isomEditDurationUnknown32 || e.Duration == ^uint64(0) {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.normalizeEdits", "edit duration is ISOM_EDIT_DURATION_UNKNOWN")
		}
		if e.StartPTS != settings.EmptyEdit && e.Rate != 1.0 {
			return nil, mediaerr.New(mediaerr.Unsupported, "mp4.normalizeEdits", "only rate=1.0 edits are supported")
		}
		if trackDuration > 0 && cumulative >= uint64(trackDuration) {
			break
		}
		out = append(out, e)
		cumulative += e.Duration
	}
	if err := settings.ValidateEdits(out); err != nil {
		return nil, err
	}
	return out, nil
}

func appendLength(dst []byte, n, size int) []byte {
	switch size {
	case 2:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		return append(dst, b[:]...)
	default:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		return append(dst, b[:]...)
	}
}

// VideoTrack returns the demultiplexed video track and its edit list, if
// the file carried a video track.
func (d *Demuxer) VideoTrack() (media.Media[settings.Sample, settings.TrackVideo], []settings.Edit, bool) {
	if d.video == nil {
		return media.Media[settings.Sample, settings.TrackVideo]{}, nil, false
	}
	return media.New(0, uint32(len(d.vSamples)), sliceProducer(d.vSamples), *d.video), d.videoEdits, true
}

// AudioTrack returns the demultiplexed audio track and its edit list, if
// the file carried an audio track.
func (d *Demuxer) AudioTrack() (media.Media[settings.Sample, settings.TrackAudio], []settings.Edit, bool) {
	if d.audio == nil {
		return media.Media[settings.Sample, settings.TrackAudio]{}, nil, false
	}
	return media.New(0, uint32(len(d.aSamples)), sliceProducer(d.aSamples), *d.audio), d.audioEdits, true
}

// CaptionTrack returns the caption track split out of the video track's
// embedded SEI, if any, cloning the video track's edit list (spec.md §4.4
// step 7 "Caption-track edits are cloned from the video track").
func (d *Demuxer) CaptionTrack() (media.Media[settings.Sample, settings.TrackCaption], []settings.Edit, bool) {
	if d.caption == nil {
		return media.Media[settings.Sample, settings.TrackCaption]{}, nil, false
	}
	return media.New(0, uint32(len(d.cSamples)), sliceProducer(d.cSamples), *d.caption), d.videoEdits, true
}

func sliceProducer(samples []settings.Sample) media.Producer[settings.Sample] {
	return func(i uint32) (settings.Sample, error) {
		if int(i) >= len(samples) {
			return settings.Sample{}, mediaerr.New(mediaerr.OutOfRange, "mp4.Demuxer", "index outside sample list")
		}
		return samples[i], nil
	}
}
