package nal

import "github.com/jmylchreest/containerforge/internal/mediaerr"

// ScanAVCC walks a length-prefixed NAL sequence using nalLengthSize-byte
// (2 or 4) big-endian length fields and returns one Info per NAL unit.
func ScanAVCC(data []byte, nalLengthSize int) ([]Info, error) {
	if nalLengthSize != 2 && nalLengthSize != 4 {
		return nil, mediaerr.New(mediaerr.InvalidArguments, "nal.ScanAVCC", "nalLengthSize must be 2 or 4")
	}
	var out []Info
	i := 0
	for i < len(data) {
		if i+nalLengthSize > len(data) {
			return nil, mediaerr.New(mediaerr.Invalid, "nal.ScanAVCC", "truncated length field")
		}
		n := readLength(data[i:i+nalLengthSize], nalLengthSize)
		i += nalLengthSize
		if i+n > len(data) {
			return nil, mediaerr.New(mediaerr.Invalid, "nal.ScanAVCC", "truncated NAL payload")
		}
		if n == 0 {
			continue
		}
		t, unsupported, unknown := classify(data[i])
		out = append(out, Info{
			Type:         t,
			Offset:       i,
			Size:         n,
			Unsupported:  unsupported,
			KnownUnknown: unknown,
		})
		i += n
	}
	return out, nil
}

func readLength(b []byte, size int) int {
	switch size {
	case 2:
		return int(b[0])<<8 | int(b[1])
	default:
		return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	}
}

// RewriteAVCCLengthSize re-encodes a length-prefixed buffer from one length
// size to another without round-tripping through Annex-B.
func RewriteAVCCLengthSize(data []byte, fromSize, toSize int) ([]byte, error) {
	infos, err := ScanAVCC(data, fromSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data))
	for _, info := range infos {
		out = appendLength(out, info.Size, toSize)
		out = append(out, data[info.Offset:info.Offset+info.Size]...)
	}
	return out, nil
}
