// Package webm implements the optional Matroska/WebM demultiplexer
// (spec.md §2.2 domain-stack expansion). It is a thin wrapper over
// github.com/luispater/matroska-go, the only pure-Go Matroska parser in
// the retrieved pack, following the same "drain the whole stream up
// front, project a settings.Sample slice per track" shape as pkg/mp2ts,
// since matroska.Demuxer.ReadPacket is a single interleaved pull cursor
// rather than a per-track one.
package webm

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/luispater/matroska-go"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/internal/observability"
	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/nal"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// Config controls a Demuxer's optional structured logging, the same
// optional-logger shape tvarr's daemon configs use.
type Config struct {
	media.LogConfig
}

func resolveConfig(cfg []Config) Config {
	if len(cfg) == 0 {
		return Config{}
	}
	return cfg[0]
}

// Matroska TrackType values (Matroska spec §11.8, mirrored by
// matroska.TrackInfo.Type).
const (
	trackTypeVideo    = 1
	trackTypeAudio    = 2
	trackTypeSubtitle = 17
)

// Demuxer demultiplexes one Matroska/WebM stream into per-track sample
// sequences (spec.md §4.5's container-agnostic demux contract, applied to
// Matroska rather than TS).
type Demuxer struct {
	logger    *slog.Logger
	video     *settings.TrackVideo
	audio     *settings.TrackAudio
	vSamples  []settings.Sample
	aSamples  []settings.Sample
	timescale uint64
}

// NewDemuxer reads the entirety of r (matroska-go requires io.ReadSeeker)
// and demultiplexes it into video and audio tracks. Subtitle tracks are
// intentionally dropped: spec.md's Caption kind models SEI-embedded CEA-
// 608/708 data, not Matroska's separately-muxed SSA/SRT streams.
func NewDemuxer(r io.ReadSeeker, cfg ...Config) (*Demuxer, error) {
	logger := observability.WithComponent(media.ResolveLogger(resolveConfig(cfg).LogConfig), "webm.demux")
	dm, err := matroska.NewDemuxer(r)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.Invalid, "webm.NewDemuxer", "opening Matroska stream", err)
	}
	defer dm.Close()

	info, err := dm.GetFileInfo()
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.Invalid, "webm.NewDemuxer", "reading segment info", err)
	}

	numTracks, err := dm.GetNumTracks()
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.Invalid, "webm.NewDemuxer", "reading track count", err)
	}

	d := &Demuxer{logger: logger, timescale: info.TimecodeScale}
	trackKind := make(map[uint8]settings.Kind, numTracks)
	videoLengthSize := map[uint8]int{}

	for i := uint(0); i < numTracks; i++ {
		ti, err := dm.GetTrackInfo(i)
		if err != nil {
			return nil, mediaerr.Wrap(mediaerr.Invalid, "webm.NewDemuxer", "reading track info", err)
		}
		switch ti.Type {
		case trackTypeVideo:
			trackKind[ti.Number] = settings.Video
			videoLengthSize[ti.Number] = 4
			if d.video == nil {
				d.video = videoSettingsFor(ti)
			}
		case trackTypeAudio:
			trackKind[ti.Number] = settings.Audio
			if d.audio == nil {
				d.audio = audioSettingsFor(ti)
			}
		default:
			trackKind[ti.Number] = settings.Data // subtitle/other, dropped below
		}
	}
	d.logger.Log(context.Background(), observability.LevelTrace, "Matroska tracks discovered",
		slog.Bool("video", d.video != nil), slog.Bool("audio", d.audio != nil))

	var audioBytes int64
	for {
		packet, err := dm.ReadPacket()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, mediaerr.Wrap(mediaerr.Invalid, "webm.NewDemuxer", "reading packet", err)
		}
		kind, ok := trackKind[packet.Track]
		if !ok {
			continue
		}
		pts := scaleToHundredNanos(packet.StartTime, d.timescale)
		switch kind {
		case settings.Video:
			lengthSize := videoLengthSize[packet.Track]
			keyframe, err := isAVCCKeyframe(packet.Data, lengthSize, d.video != nil && d.video.Codec == settings.VideoH265)
			if err != nil {
				return nil, mediaerr.Wrap(mediaerr.Invalid, "webm.NewDemuxer", "scanning sample NAL units", err)
			}
			payload, err := nal.FromAVCC(packet.Data, lengthSize)
			if err != nil {
				return nil, mediaerr.Wrap(mediaerr.Invalid, "webm.NewDemuxer", "converting AVCC sample to Annex-B", err)
			}
			d.vSamples = append(d.vSamples, settings.Sample{
				PTS: pts, DTS: pts, Keyframe: keyframe,
				Kind: settings.Video, Payload: constPayload(payload),
			})
		case settings.Audio:
			raw := append([]byte(nil), packet.Data...)
			audioBytes += int64(len(raw))
			d.aSamples = append(d.aSamples, settings.Sample{
				PTS: pts, DTS: pts, Keyframe: true,
				Kind: settings.Audio, Payload: constPayload(raw),
			})
		}
	}

	// Matroska carries no per-track bitrate; derive it as total bytes over
	// duration, unlike the MP4/TS paths which copy the container's value.
	if d.audio != nil && len(d.aSamples) > 1 {
		span := d.aSamples[len(d.aSamples)-1].PTS - d.aSamples[0].PTS
		if span > 0 {
			d.audio.Bitrate = uint32(audioBytes * 8 * int64(d.audio.Timescale) / span)
		}
	}

	return d, nil
}

// scaleToHundredNanos rewrites a Matroska timestamp (timecode_scale
// nanoseconds per tick) into containerforge's fixed 10,000,000 Hz internal
// timescale, the way pkg/mp4 and pkg/mp2ts both settle on a track-local
// rational timescale rather than carrying Matroska's ns-based one forward.
func scaleToHundredNanos(ticks, timecodeScale uint64) int64 {
	if timecodeScale == 0 {
		timecodeScale = 1000000 // Matroska default: 1ms per tick
	}
	ns := ticks * timecodeScale
	return int64(ns / 100)
}

func videoSettingsFor(ti *matroska.TrackInfo) *settings.TrackVideo {
	codec := settings.VideoH264
	if strings.Contains(ti.CodecID, "HEVC") || strings.Contains(ti.CodecID, "H265") {
		codec = settings.VideoH265
	}
	v := &settings.TrackVideo{
		Codec:       codec,
		Timescale:   10000000,
		Orientation: settings.Landscape,
		PARWidth:    1,
		PARHeight:   1,
	}
	if len(ti.CodecPrivate) >= 8 {
		nalLengthSize := int(ti.CodecPrivate[4]&0x03) + 1
		sps, pps, vps := splitAVCCConfig(ti.CodecPrivate, codec == settings.VideoH265)
		v.SPSPPS = settings.SPSPPS{VPS: vps, SPS: sps, PPS: pps, NALLengthSize: nalLengthSize}
		if dims, err := sizeFromSPS(sps, codec); err == nil {
			v.CodedWidth, v.CodedHeight = uint32(dims.Width), uint32(dims.Height)
			if dims.ParWidth > 0 {
				v.PARWidth, v.PARHeight = uint32(dims.ParWidth), uint32(dims.ParHeight)
			}
			v.DisplayWidth, v.DisplayHeight = settings.DeriveDisplayDimensions(
				v.CodedWidth, v.CodedHeight, v.PARWidth, v.PARHeight)
		}
	}
	return v
}

// isAVCCKeyframe scans a length-prefixed sample for a random-access NAL
// (H.264 IDR type 5, or H.265 IDR/BLA/CRA types 16-23) since matroska-go's
// Packet carries no separate keyframe flag in the confirmed API surface;
// keyframe detection is derived from the bitstream itself, the same
// approach pkg/mp2ts uses via mediacommon's IsRandomAccess.
func isAVCCKeyframe(data []byte, nalLengthSize int, isH265 bool) (bool, error) {
	infos, err := nal.ScanAVCC(data, nalLengthSize)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if isH265 {
			t := (data[info.Offset] >> 1) & 0x3F
			if t >= 16 && t <= 23 {
				return true, nil
			}
			continue
		}
		if info.Type == nal.TypeIDR {
			return true, nil
		}
	}
	return false, nil
}

func sizeFromSPS(sps []byte, codec settings.VideoCodec) (nal.Dimensions, error) {
	if codec == settings.VideoH265 {
		return nal.ParseH265SPS(sps)
	}
	return nal.ParseH264SPS(sps)
}

// splitAVCCConfig extracts the SPS/PPS (and, for HEVC, VPS) NAL payloads
// out of an ISO/IEC 14496-15 avcC/hvcC configuration record, the format
// matroska-go hands back verbatim as TrackInfo.CodecPrivate for AVC/HEVC
// tracks.
func splitAVCCConfig(config []byte, isH265 bool) (sps, pps, vps []byte) {
	if isH265 {
		// hvcC parameter-array parsing is involved enough (nested per-type
		// arrays with their own counts) that webm HEVC support is left to a
		// future pass; AVC is the common WebM/Matroska video case.
		return nil, nil, nil
	}
	if len(config) < 6 {
		return nil, nil, nil
	}
	pos := 5
	numSPS := int(config[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS && pos+1 < len(config); i++ {
		n := int(config[pos])<<8 | int(config[pos+1])
		pos += 2
		if pos+n > len(config) {
			break
		}
		if i == 0 {
			sps = append([]byte(nil), config[pos:pos+n]...)
		}
		pos += n
	}
	if pos >= len(config) {
		return sps, nil, nil
	}
	numPPS := int(config[pos])
	pos++
	for i := 0; i < numPPS && pos+1 < len(config); i++ {
		n := int(config[pos])<<8 | int(config[pos+1])
		pos += 2
		if pos+n > len(config) {
			break
		}
		if i == 0 {
			pps = append([]byte(nil), config[pos:pos+n]...)
		}
		pos += n
	}
	return sps, pps, nil
}

func audioSettingsFor(ti *matroska.TrackInfo) *settings.TrackAudio {
	codec := settings.AudioAACLC
	sampleRate := uint32(48000)
	if strings.Contains(ti.CodecID, "AAC") {
		if len(ti.CodecPrivate) > 0 {
			if cfg, _, err := nal.UnmarshalASC(ti.CodecPrivate); err == nil {
				sampleRate = uint32(cfg.SampleRate)
			}
		}
	}
	return &settings.TrackAudio{
		Codec:      codec,
		Timescale:  10000000,
		SampleRate: sampleRate,
		Channels:   2,
	}
}

func constPayload(b []byte) settings.PayloadFunc {
	return func() (media.Data[byte], error) {
		return media.NewData(b, nil), nil
	}
}

// VideoTrack returns the demultiplexed video track, if the stream carried
// one; the codec is reported as H.264 unless the track's codec ID names
// HEVC/H265.
func (d *Demuxer) VideoTrack() (media.Media[settings.Sample, settings.TrackVideo], bool) {
	if d.video == nil {
		return media.Media[settings.Sample, settings.TrackVideo]{}, false
	}
	return media.New(0, uint32(len(d.vSamples)), sliceProducer(d.vSamples), *d.video), true
}

// AudioTrack returns the demultiplexed audio track, if present.
func (d *Demuxer) AudioTrack() (media.Media[settings.Sample, settings.TrackAudio], bool) {
	if d.audio == nil {
		return media.Media[settings.Sample, settings.TrackAudio]{}, false
	}
	return media.New(0, uint32(len(d.aSamples)), sliceProducer(d.aSamples), *d.audio), true
}

func sliceProducer(samples []settings.Sample) media.Producer[settings.Sample] {
	return func(i uint32) (settings.Sample, error) {
		if int(i) >= len(samples) {
			return settings.Sample{}, mediaerr.New(mediaerr.OutOfRange, "webm.Demuxer", "index outside sample list")
		}
		return samples[i], nil
	}
}
