package nal

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// ascSampleRateTable mirrors adtsSampleRateTable but is the MPEG-4 Audio
// samplingFrequencyIndex table (ISO/IEC 14496-3 Table 1.16), which shares
// the same 13 entries ADTS uses.
var ascSampleRateTable = adtsSampleRateTable

const (
	extensionSyncType = 0x2B7
	objectTypeSBR     = 5
)

// SBRConfig is the explicit SBR-signaling suffix appended to a base
// AudioSpecificConfig to form the 5-byte backward-compatible form, for
// decoders that need explicit SBR signaling instead of implicit
// (ADTS-style) detection.
type SBRConfig struct {
	Present             bool
	ExtensionSampleRate int
}

// MarshalASC encodes a base AudioSpecificConfig (2 bytes) optionally
// followed by the explicit SBR extension (3 more bytes), matching the
// 2-/5-byte forms the spec names. The base fields reuse
// mpeg4audio.AudioSpecificConfig's representation so callers that already
// hold one built via mediacommon (e.g. from ADTS reframing) can pass it
// straight through.
func MarshalASC(cfg mpeg4audio.AudioSpecificConfig, sbr SBRConfig) ([]byte, error) {
	rateIdx := ascSampleRateIndex(cfg.SampleRate)
	if rateIdx < 0 {
		return nil, mediaerr.New(mediaerr.InvalidArguments, "nal.MarshalASC", "unsupported sample rate")
	}
	bw := newBitWriter()
	bw.u(uint32(cfg.Type), 5)
	bw.u(uint32(rateIdx), 4)
	bw.u(uint32(cfg.ChannelCount), 4)
	bw.u(0, 1) // frameLengthFlag
	bw.u(0, 1) // dependsOnCoreCoder
	bw.u(0, 1) // extensionFlag

	if !sbr.Present {
		return bw.bytes(), nil
	}

	extIdx := ascSampleRateIndex(sbr.ExtensionSampleRate)
	if extIdx < 0 {
		return nil, mediaerr.New(mediaerr.InvalidArguments, "nal.MarshalASC", "unsupported extension sample rate")
	}
	bw.u(extensionSyncType, 11)
	bw.u(objectTypeSBR, 5)
	bw.u(1, 1) // sbrPresentFlag
	bw.u(uint32(extIdx), 4)
	return bw.bytes(), nil
}

// UnmarshalASC decodes a 2- or 5-byte AudioSpecificConfig produced by
// MarshalASC.
func UnmarshalASC(data []byte) (mpeg4audio.AudioSpecificConfig, SBRConfig, error) {
	if len(data) < 2 {
		return mpeg4audio.AudioSpecificConfig{}, SBRConfig{}, mediaerr.New(mediaerr.Invalid, "nal.UnmarshalASC", "too short")
	}
	br := newBitReader(data)
	objType := br.u(5)
	rateIdx := br.u(4)
	chanCfg := br.u(4)
	br.u(1)
	br.u(1)
	br.u(1)
	if br.err != nil || int(rateIdx) >= len(ascSampleRateTable) {
		return mpeg4audio.AudioSpecificConfig{}, SBRConfig{}, mediaerr.New(mediaerr.Invalid, "nal.UnmarshalASC", "malformed base config")
	}
	cfg := mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectType(objType),
		SampleRate:   ascSampleRateTable[rateIdx],
		ChannelCount: int(chanCfg),
	}
	// Explicit SBR signaling is a sync extension after GASpecificConfig;
	// its presence is detected by the remaining bits, not the extensionFlag.
	if len(data) < 5 {
		return cfg, SBRConfig{}, nil
	}
	sync := br.u(11)
	extObjType := br.u(5)
	sbrPresent := br.u(1)
	extRateIdx := br.u(4)
	if br.err != nil || uint32(sync) != extensionSyncType || extObjType != objectTypeSBR || sbrPresent != 1 {
		return cfg, SBRConfig{}, nil
	}
	if int(extRateIdx) >= len(ascSampleRateTable) {
		return cfg, SBRConfig{}, nil
	}
	return cfg, SBRConfig{Present: true, ExtensionSampleRate: ascSampleRateTable[extRateIdx]}, nil
}

func ascSampleRateIndex(rate int) int {
	for i, r := range ascSampleRateTable {
		if r == rate {
			return i
		}
	}
	return -1
}

// bitWriter is the MSB-first counterpart to bitReader, used only for the
// ASC bit-packing above.
type bitWriter struct {
	buf      []byte
	bitCount int
}

func newBitWriter() *bitWriter {
	return &bitWriter{}
}

func (w *bitWriter) u(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := byte((v >> uint(i)) & 1)
		byteIdx := w.bitCount / 8
		if byteIdx >= len(w.buf) {
			w.buf = append(w.buf, 0)
		}
		if bit == 1 {
			w.buf[byteIdx] |= 1 << uint(7-w.bitCount%8)
		}
		w.bitCount++
	}
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}
