package nal

import (
	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// ScanAnnexB walks a byte-stream-format NAL sequence (0x000001 or 0x00000001
// start codes) and returns one Info per NAL unit, in stream order. Emulation
// prevention bytes within the payload are left untouched; callers that need
// the RBSP must strip them separately (see StripEmulationPrevention).
func ScanAnnexB(data []byte) ([]Info, error) {
	starts := findStartCodes(data)
	if len(starts) == 0 {
		if len(data) == 0 {
			return nil, nil
		}
		return nil, mediaerr.New(mediaerr.Invalid, "nal.ScanAnnexB", "no start code found")
	}

	var out []Info
	for i, sc := range starts {
		nalStart := sc.offset + sc.prefixLen
		var end int
		if i+1 < len(starts) {
			end = starts[i+1].offset
		} else {
			end = len(data)
		}
		if nalStart >= end {
			continue // zero-length NAL between back-to-back start codes
		}
		t, unsupported, unknown := classify(data[nalStart])
		out = append(out, Info{
			Type:         t,
			Offset:       nalStart,
			Size:         end - nalStart,
			PrefixSize:   sc.prefixLen,
			Unsupported:  unsupported,
			KnownUnknown: unknown,
		})
	}
	return out, nil
}

type startCode struct {
	offset    int
	prefixLen int
}

// findStartCodes locates every 3- or 4-byte Annex-B start code in data,
// preferring the 4-byte match when a stream consistently uses one (the
// 3-byte code 0x000001 is always a suffix of the 4-byte code 0x00000001, so
// matching greedily from the left edge is sufficient).
func findStartCodes(data []byte) []startCode {
	var out []startCode
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			prefix := 3
			if i > 0 && data[i-1] == 0 {
				prefix = 4
			}
			out = append(out, startCode{offset: i - (prefix - 3), prefixLen: prefix})
			i += 3
			continue
		}
		i++
	}
	return out
}

// ToAVCC rewrites an Annex-B buffer into length-prefixed (AVCC) form using
// nalLengthSize bytes (2 or 4, per spec.md §4.3) per NAL length field.
func ToAVCC(data []byte, nalLengthSize int) ([]byte, error) {
	if nalLengthSize != 2 && nalLengthSize != 4 {
		return nil, mediaerr.New(mediaerr.InvalidArguments, "nal.ToAVCC", "nalLengthSize must be 2 or 4")
	}
	infos, err := ScanAnnexB(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data))
	for _, info := range infos {
		out = appendLength(out, info.Size, nalLengthSize)
		out = append(out, data[info.Offset:info.Offset+info.Size]...)
	}
	return out, nil
}

// FromAVCC rewrites a length-prefixed buffer into Annex-B form, emitting a
// 4-byte start code before every NAL.
func FromAVCC(data []byte, nalLengthSize int) ([]byte, error) {
	infos, err := ScanAVCC(data, nalLengthSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+4*len(infos))
	for _, info := range infos {
		out = append(out, 0, 0, 0, 1)
		out = append(out, data[info.Offset:info.Offset+info.Size]...)
	}
	return out, nil
}

func appendLength(dst []byte, n, size int) []byte {
	switch size {
	case 2:
		return append(dst, byte(n>>8), byte(n))
	default:
		return append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}
