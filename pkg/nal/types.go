// Package nal implements the bidirectional Annex-B/AVCC NAL-unit codec
// layer, SEI caption splitting, and AAC ADTS/AudioSpecificConfig synthesis
// (spec.md §4.3). It uses bluenviron/mediacommon's h264/h265 SPS types for
// cropped-dimension decode and mpeg4audio.AudioSpecificConfig as the AAC
// config type; NAL type classification, AudioSpecificConfig bit-packing and
// the container-facing scanning/reshaping operations are implemented here.
package nal

// Type is the canonical H.264 NAL type subset spec.md §4.3 names.
type Type int

const (
	TypeFRM  Type = 1
	TypeIDR  Type = 5
	TypeSEI  Type = 6
	TypeSPS  Type = 7
	TypePPS  Type = 8
	TypeAUD  Type = 9
	TypeEOS  Type = 10
	TypeEOFL Type = 11
	TypeFLLR Type = 12
)

// Info is one scanned NAL unit: its type, absolute byte offset of the NAL
// header within the scanned buffer, the payload size (header included), and
// (for Annex-B) the start-code prefix size that preceded it (spec.md §4.3
// "Annex-B scanner... Emits a sequence of (nal_type, absolute_offset,
// payload_size, start_code_prefix_size)").
type Info struct {
	Type         Type
	Offset       int
	Size         int
	PrefixSize   int // 0 for AVCC-scanned NALs
	Unsupported  bool
	KnownUnknown bool // valid type value (1-23) that is not one of the Type constants
}

func classify(header byte) (Type, bool, bool) {
	t := Type(header & 0x1F)
	switch t {
	case TypeFRM, TypeIDR, TypeSEI, TypeSPS, TypePPS, TypeAUD, TypeEOS, TypeEOFL, TypeFLLR:
		return t, false, false
	default:
		if t >= 1 && t <= 23 {
			return t, false, true // syntactically valid NAL type, just not one we special-case
		}
		return t, true, false
	}
}
