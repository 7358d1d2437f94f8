package media

// Hard security limits (spec.md §6). Exceeding any of these fails with
// mediaerr.Unsafe rather than growing buffers or loop bounds without end.
const (
	// MaxCodedDimension bounds a coded video width or height.
	MaxCodedDimension = 0x2000
	// MaxGOPSize bounds the number of samples between keyframes.
	MaxGOPSize = 0x200
	// MaxHeaderSize bounds a single SPS or PPS NAL payload.
	MaxHeaderSize = 0x1000
	// MaxSamplesPerTrack bounds the sample count of any one track.
	MaxSamplesPerTrack = 0x40000
	// MaxSampleSize bounds a single sample's payload size.
	MaxSampleSize = 0x400000
	// MaxSingleWrite bounds a single I/O write or read request.
	MaxSingleWrite = 0xA000000
)

// AudioFrameSize is the fixed AAC frame size in samples (spec.md §6).
const AudioFrameSize = 1024

// SBRFactor is the fixed SBR timescale multiplier (spec.md §6).
const SBRFactor = 2

// MP2TSTimescale is the MPEG-2 TS clock rate, fixed at 90kHz.
const MP2TSTimescale = 90000
