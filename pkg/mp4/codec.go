// Package mp4 implements the ISO-BMFF container engine: demuxing and
// remuxing of both classic (progressive, moov-before-mdat) MP4/QuickTime
// files and fragmented MP4 (DASH/CMAF init + data segments), per spec.md
// §4.1-4.2. It wraps bluenviron/mediacommon/v2's formats/mp4 and
// formats/fmp4 packages, which is what every MP4-producing path in the
// teacher (internal/daemon/fmp4_muxer.go, fmp4_demuxer.go) is built on.
package mp4

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// BuildVideoCodec converts a settings.TrackVideo track description into the
// mediacommon mp4.Codec the init segment / moov box should carry, grounded
// on internal/daemon/fmp4_muxer.go's createVideoCodec.
func BuildVideoCodec(v settings.TrackVideo) (mp4.Codec, error) {
	switch v.Codec {
	case settings.VideoH264:
		return &mp4.CodecH264{SPS: v.SPSPPS.SPS, PPS: v.SPSPPS.PPS}, nil
	case settings.VideoH265:
		return &mp4.CodecH265{VPS: v.SPSPPS.VPS, SPS: v.SPSPPS.SPS, PPS: v.SPSPPS.PPS}, nil
	default:
		return nil, mediaerr.New(mediaerr.Unsupported, "mp4.BuildVideoCodec", "codec not representable in ISO-BMFF")
	}
}

// BuildAudioCodec converts a settings.TrackAudio track description into the
// corresponding mp4.Codec, grounded on fmp4_muxer.go's createAudioCodec. The
// AAC-LC-SBR variant is signaled via the base AAC-LC object type since
// mediacommon's AudioSpecificConfig (confirmed shape: Type/SampleRate/
// ChannelCount) carries no explicit SBR extension field; SBR-aware decoders
// recover it implicitly from the ADTS/LOAS stream the way ffmpeg does.
func BuildAudioCodec(a settings.TrackAudio) (mp4.Codec, error) {
	switch {
	case a.Codec == settings.AudioAACLC || a.Codec == settings.AudioAACLCSBR:
		cfg := mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   int(a.SampleRate),
			ChannelCount: int(a.Channels),
		}
		return &mp4.CodecMPEG4Audio{Config: cfg}, nil
	case a.Codec.IsPCM():
		littleEndian := a.Codec == settings.AudioPCMS16LE || a.Codec == settings.AudioPCMS24LE
		return &mp4.CodecLPCM{
			ChannelCount: int(a.Channels),
			SampleRate:   int(a.SampleRate),
			BitDepth:     a.Codec.BitDepth(),
			LittleEndian: littleEndian,
		}, nil
	default:
		return nil, mediaerr.New(mediaerr.Unsupported, "mp4.BuildAudioCodec", "codec not representable in ISO-BMFF")
	}
}

// DescribeVideoCodec is the inverse of BuildVideoCodec, used when demuxing
// an init segment / moov box back into settings.TrackVideo.
func DescribeVideoCodec(codec mp4.Codec) (settings.VideoCodec, settings.SPSPPS, error) {
	switch c := codec.(type) {
	case *mp4.CodecH264:
		return settings.VideoH264, settings.SPSPPS{SPS: c.SPS, PPS: c.PPS, NALLengthSize: 4}, nil
	case *mp4.CodecH265:
		return settings.VideoH265, settings.SPSPPS{VPS: c.VPS, SPS: c.SPS, PPS: c.PPS, NALLengthSize: 4}, nil
	default:
		return "", settings.SPSPPS{}, mediaerr.New(mediaerr.Unsupported, "mp4.DescribeVideoCodec", "unrecognized video codec box")
	}
}

// DescribeAudioCodec is the inverse of BuildAudioCodec.
func DescribeAudioCodec(codec mp4.Codec) (settings.TrackAudio, error) {
	switch c := codec.(type) {
	case *mp4.CodecMPEG4Audio:
		return settings.TrackAudio{
			Codec:      settings.AudioAACLC,
			SampleRate: uint32(c.Config.SampleRate),
			Channels:   uint8(c.Config.ChannelCount),
		}, nil
	case *mp4.CodecLPCM:
		codec := pcmCodecFor(c.BitDepth, c.LittleEndian)
		return settings.TrackAudio{Codec: codec, SampleRate: uint32(c.SampleRate), Channels: uint8(c.ChannelCount)}, nil
	default:
		return settings.TrackAudio{}, mediaerr.New(mediaerr.Unsupported, "mp4.DescribeAudioCodec", "unrecognized audio codec box")
	}
}

func pcmCodecFor(bitDepth int, littleEndian bool) settings.AudioCodec {
	switch {
	case bitDepth >= 24 && littleEndian:
		return settings.AudioPCMS24LE
	case bitDepth >= 24:
		return settings.AudioPCMS24BE
	case littleEndian:
		return settings.AudioPCMS16LE
	default:
		return settings.AudioPCMS16BE
	}
}
