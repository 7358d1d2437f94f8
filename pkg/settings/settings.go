// Package settings defines the per-track metadata sum types (spec.md §3
// "Settings"), the SPS/PPS extradata projector, the edit-list / timing-
// rewrite primitives, and the encoded Sample tuple that the demux/mux layers
// exchange through pkg/media.Media pipelines.
package settings

// Kind tags which of the four sample kinds a track carries.
type Kind int

const (
	Video Kind = iota
	Audio
	Data
	Caption
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Data:
		return "data"
	case Caption:
		return "caption"
	default:
		return "unknown"
	}
}

// Orientation is one of the four cardinal display rotations a video track's
// transformation matrix may express (spec.md §3 "video").
type Orientation int

const (
	Landscape Orientation = iota
	Portrait
	LandscapeReverse
	PortraitReverse
)

// VideoCodec identifies a video track's coding format.
type VideoCodec string

const (
	VideoH264 VideoCodec = "h264"
	VideoH265 VideoCodec = "h265"
)

// AudioCodec identifies an audio track's coding format, including the PCM
// sub-variants distinguished by sample-entry code and endianness
// (spec.md §4.4 step 3).
type AudioCodec string

const (
	AudioAACLC    AudioCodec = "aac-lc"
	AudioAACLCSBR AudioCodec = "aac-lc-sbr"
	AudioPCMS16LE AudioCodec = "pcm-s16le"
	AudioPCMS16BE AudioCodec = "pcm-s16be"
	AudioPCMS24LE AudioCodec = "pcm-s24le"
	AudioPCMS24BE AudioCodec = "pcm-s24be"
)

// IsPCM reports whether c is one of the PCM variants (used by QT-brand
// selection and sample-coalescing, spec.md §3, §4.4 step 6).
func (c AudioCodec) IsPCM() bool {
	switch c {
	case AudioPCMS16LE, AudioPCMS16BE, AudioPCMS24LE, AudioPCMS24BE:
		return true
	default:
		return false
	}
}

// BitDepth returns the PCM sample bit depth, or 0 for non-PCM codecs.
func (c AudioCodec) BitDepth() int {
	switch c {
	case AudioPCMS16LE, AudioPCMS16BE:
		return 16
	case AudioPCMS24LE, AudioPCMS24BE:
		return 24
	default:
		return 0
	}
}

// TrackVideo holds video-track codec/timing/orientation metadata (spec.md
// §3; named TrackVideo to avoid colliding with the Video Kind constant).
type TrackVideo struct {
	Codec                      VideoCodec
	CodedWidth, CodedHeight    uint32
	DisplayWidth, DisplayHeight uint32
	PARWidth, PARHeight        uint32
	Timescale                  uint32
	Orientation                Orientation
	SPSPPS                     SPSPPS
}

// TrackAudio holds audio-track codec/timing metadata (spec.md §3; named
// TrackAudio to avoid colliding with the Audio Kind constant).
type TrackAudio struct {
	Codec      AudioCodec
	Timescale  uint32
	SampleRate uint32
	Channels   uint8 // 1 or 2, per spec.md invariant
	Bitrate    uint32
}

// TrackData holds data-track metadata (spec.md §3; named TrackData to avoid
// colliding with the Data Kind constant).
type TrackData struct {
	Codec     string
	Timescale uint32
}

// TrackCaption holds caption-track metadata (spec.md §3; named TrackCaption
// to avoid colliding with the Caption Kind constant).
type TrackCaption struct {
	Codec     string
	Timescale uint32
}

// DeriveDisplayDimensions computes display W/H from coded W/H and PAR: the
// shorter pixel-aspect side is scaled down, then even-floored (spec.md §3
// "Display dimensions are derived from coded dimensions and PAR").
func DeriveDisplayDimensions(codedWidth, codedHeight, parWidth, parHeight uint32) (uint32, uint32) {
	if parWidth == 0 || parHeight == 0 || parWidth == parHeight {
		return evenFloor(codedWidth), evenFloor(codedHeight)
	}
	if parWidth > parHeight {
		// Width is the "taller" pixel-aspect side; scale height down instead
		// of scaling width up.
		h := uint64(codedHeight) * uint64(parHeight) / uint64(parWidth)
		return evenFloor(codedWidth), evenFloor(uint32(h))
	}
	w := uint64(codedWidth) * uint64(parWidth) / uint64(parHeight)
	return evenFloor(uint32(w)), evenFloor(codedHeight)
}

func evenFloor(v uint32) uint32 {
	return v &^ 1
}
