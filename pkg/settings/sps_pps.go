package settings

import (
	"encoding/binary"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// SPSPPS is the H.264 codec-configuration triple: one SPS NAL, one PPS NAL
// (each stored including its 1-byte NAL header, excluding any start code or
// length prefix), and the NALU length-prefix size used when this track's
// samples are stored length-prefixed (spec.md §3 "SPS_PPS").
type SPSPPS struct {
	VPS           []byte // H.265 only; empty for H.264
	SPS           []byte
	PPS           []byte
	NALLengthSize int // 2 or 4
}

// annexBStartCode is the 4-byte Annex-B start code used throughout this
// engine (spec.md §4.3 "Annex-B start codes: 00 00 00 01").
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// AVCC renders the ISO/IEC 14496-15 "avcC" box body: 1-byte version=1, 3
// bytes profile/compat/level (taken from the SPS's own header+profile
// bytes), length-size flag byte, SPS count flag byte, one size-prefixed SPS,
// one size-prefixed PPS (spec.md §6 "ISO/IEC 14496-15 (avcC)").
func (s SPSPPS) AVCC() ([]byte, error) {
	if len(s.SPS) < 4 {
		return nil, mediaerr.New(mediaerr.Invalid, "SPSPPS.AVCC", "SPS shorter than 4 bytes")
	}
	if len(s.SPS) > 0xFFFF || len(s.PPS) > 0xFFFF {
		return nil, mediaerr.New(mediaerr.Unsafe, "SPSPPS.AVCC", "SPS/PPS exceeds 16-bit length field")
	}
	lengthSizeMinusOne := byte(3)
	if s.NALLengthSize == 2 {
		lengthSizeMinusOne = 1
	}

	out := make([]byte, 0, 11+len(s.SPS)+len(s.PPS))
	out = append(out, 0x01)                    // version
	out = append(out, s.SPS[1], s.SPS[2], s.SPS[3]) // profile, compat, level
	out = append(out, 0xFC|lengthSizeMinusOne)
	out = append(out, 0xE1) // reserved(3) | numSPS(5) = 1
	out = appendU16Prefixed(out, s.SPS)
	out = append(out, 0x01) // numPPS
	out = appendU16Prefixed(out, s.PPS)
	return out, nil
}

func appendU16Prefixed(dst, data []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, data...)
}

// AnnexB renders "[00 00 00 01][sps][00 00 00 01][pps]" (spec.md §3
// "SPS_PPS... Annex-B [...]").
func (s SPSPPS) AnnexB() []byte {
	out := make([]byte, 0, 8+len(s.SPS)+len(s.PPS))
	out = append(out, annexBStartCode...)
	out = append(out, s.SPS...)
	out = append(out, annexBStartCode...)
	out = append(out, s.PPS...)
	return out
}

// LengthPrefixed renders "[L][sps][L][pps]" with nalSize-byte (2 or 4)
// big-endian lengths (spec.md §3 "length-prefixed [L][sps][L][pps]").
func (s SPSPPS) LengthPrefixed(nalSize int) ([]byte, error) {
	if nalSize != 2 && nalSize != 4 {
		return nil, mediaerr.New(mediaerr.InvalidArguments, "SPSPPS.LengthPrefixed", "nalSize must be 2 or 4")
	}
	out := make([]byte, 0, 2*nalSize+len(s.SPS)+len(s.PPS))
	out = appendLenPrefixed(out, s.SPS, nalSize)
	out = appendLenPrefixed(out, s.PPS, nalSize)
	return out, nil
}

func appendLenPrefixed(dst, data []byte, nalSize int) []byte {
	switch nalSize {
	case 2:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(len(data)))
		dst = append(dst, b[:]...)
	default:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(data)))
		dst = append(dst, b[:]...)
	}
	return append(dst, data...)
}
