package nal

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// adtsHeaderSize is the fixed+variable ADTS header length with no CRC
// (protection_absent=1), as every ES-to-TS and TS-to-ES path in the pack
// assumes.
const adtsHeaderSize = 7

// adtsSampleRateTable is ISO/IEC 13818-7 Table 1.18, indexed by
// sampling_frequency_index.
var adtsSampleRateTable = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// ADTSFrame is one parsed ADTS frame header plus the offset/size of its AAC
// raw data block within the source buffer.
type ADTSFrame struct {
	Config          mpeg4audio.AudioSpecificConfig
	PayloadOffset   int
	PayloadSize     int
	FrameSize       int // header + payload
}

// ScanADTS walks a buffer containing zero or more back-to-back ADTS frames,
// as produced by reassembling AAC across PES packet boundaries (spec.md
// §4.5 "ADTS reframing").
func ScanADTS(data []byte) ([]ADTSFrame, error) {
	var out []ADTSFrame
	i := 0
	for i < len(data) {
		if i+adtsHeaderSize > len(data) {
			return nil, mediaerr.New(mediaerr.Invalid, "nal.ScanADTS", "truncated ADTS header")
		}
		if data[i] != 0xFF || data[i+1]&0xF0 != 0xF0 {
			return nil, mediaerr.New(mediaerr.Invalid, "nal.ScanADTS", "missing ADTS sync word")
		}
		protectionAbsent := data[i+1] & 0x01
		profileObjectType := (data[i+2] >> 6) & 0x03
		sampleRateIdx := (data[i+2] >> 2) & 0x0F
		channelConfig := ((data[i+2] & 0x01) << 2) | (data[i+3] >> 6)
		frameLen := (int(data[i+3]&0x03) << 11) | (int(data[i+4]) << 3) | int(data[i+5]>>5)

		headerSize := adtsHeaderSize
		if protectionAbsent == 0 {
			headerSize = 9
		}
		if int(sampleRateIdx) >= len(adtsSampleRateTable) {
			return nil, mediaerr.New(mediaerr.Invalid, "nal.ScanADTS", "invalid sampling_frequency_index")
		}
		if frameLen < headerSize || i+frameLen > len(data) {
			return nil, mediaerr.New(mediaerr.Invalid, "nal.ScanADTS", "invalid frame_length")
		}

		cfg := mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectType(profileObjectType + 1), // ADTS profile is objectType-1
			SampleRate:   adtsSampleRateTable[sampleRateIdx],
			ChannelCount: int(channelConfig),
		}
		out = append(out, ADTSFrame{
			Config:        cfg,
			PayloadOffset: i + headerSize,
			PayloadSize:   frameLen - headerSize,
			FrameSize:     frameLen,
		})
		i += frameLen
	}
	return out, nil
}

// channelConfigFor inverts mpeg4audio.ResolveChannelCount's forward mapping
// for the common non-program-config-element case (mono/stereo/5.1/7.1),
// which is all ADTS synthesis ever needs to emit.
func channelConfigFor(channelCount int) byte {
	switch channelCount {
	case 1, 2, 3, 4, 5, 6:
		return byte(channelCount)
	case 8:
		return 7
	default:
		return 2
	}
}

// SynthesizeADTS builds one ADTS header (no CRC) for an AAC raw data block
// of payloadSize bytes.
func SynthesizeADTS(cfg mpeg4audio.AudioSpecificConfig, payloadSize int) ([]byte, error) {
	idx := sampleRateIndex(cfg.SampleRate)
	if idx < 0 {
		return nil, mediaerr.New(mediaerr.InvalidArguments, "nal.SynthesizeADTS", "unsupported sample rate")
	}
	frameLen := adtsHeaderSize + payloadSize
	if frameLen >= 1<<13 {
		return nil, mediaerr.New(mediaerr.OutOfRange, "nal.SynthesizeADTS", "frame exceeds ADTS 13-bit length field")
	}
	profileObjectType := byte(cfg.Type) - 1
	chanCfg := channelConfigFor(cfg.ChannelCount)

	h := make([]byte, adtsHeaderSize)
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, layer 0, protection_absent=1
	h[2] = profileObjectType<<6 | byte(idx)<<2 | (chanCfg >> 2)
	h[3] = (chanCfg&0x03)<<6 | byte(frameLen>>11)
	h[4] = byte(frameLen >> 3)
	h[5] = byte(frameLen<<5) | 0x1F
	h[6] = 0xFC
	return h, nil
}

func sampleRateIndex(rate int) int {
	for i, r := range adtsSampleRateTable {
		if r == rate {
			return i
		}
	}
	return -1
}
