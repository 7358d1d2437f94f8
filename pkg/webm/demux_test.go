package webm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/containerforge/pkg/settings"
)

func TestScaleToHundredNanosDefaultsToOneMillisecondTicks(t *testing.T) {
	// timecodeScale == 0 means "use Matroska's 1ms-per-tick default".
	require.EqualValues(t, 100000, scaleToHundredNanos(10, 0))
}

func TestScaleToHundredNanosConversion(t *testing.T) {
	// 5 ticks at 1,000,000 ns/tick == 5ms == 50,000 * 100ns units.
	require.EqualValues(t, 50000, scaleToHundredNanos(5, 1000000))
}

func avccNAL(nalType byte, payload []byte) []byte {
	out := make([]byte, 4, 4+1+len(payload))
	binary.BigEndian.PutUint32(out, uint32(1+len(payload)))
	out = append(out, nalType)
	return append(out, payload...)
}

func TestIsAVCCKeyframeDetectsH264IDR(t *testing.T) {
	data := append(avccNAL(0x27, []byte{0x01, 0x02}), avccNAL(0x65, []byte{0x03})...)
	ok, err := isAVCCKeyframe(data, 4, false)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIsAVCCKeyframeRejectsNonSyncSample(t *testing.T) {
	data := avccNAL(0x41, []byte{0x01, 0x02})
	ok, err := isAVCCKeyframe(data, 4, false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsAVCCKeyframeDetectsH265IDR(t *testing.T) {
	// H.265 NAL header: forbidden_zero(1) + type(6) + layer(6) + tid(3).
	// type 19 (IDR_W_RADL) packed into the top 6 bits of the first byte
	// after the forbidden-zero bit: (19 << 1) = 0x26.
	data := avccNAL(0x26, []byte{0x01, 0x02, 0x03})
	ok, err := isAVCCKeyframe(data, 4, true)
	require.NoError(t, err)
	require.True(t, ok)
}

// TestSplitAVCCConfigExtractsSPSPPS builds a minimal ISO/IEC 14496-15 avcC
// record (as matroska-go hands back via TrackInfo.CodecPrivate for AVC
// tracks) and checks the SPS/PPS NAL payloads come back byte-exact.
func TestSplitAVCCConfigExtractsSPSPPS(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xC0, 0x1E, 0x8C, 0x8D, 0x40}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}

	cfg := []byte{
		0x01,             // configurationVersion
		sps[1], sps[2], sps[3], // AVCProfileIndication, profile_compatibility, AVCLevelIndication
		0xFF, // reserved(6)+lengthSizeMinusOne(2) = 0b111111_11 -> length size 4
		0xE1, // reserved(3)+numOfSequenceParameterSets(5) = 1
	}
	cfg = append(cfg, byte(len(sps)>>8), byte(len(sps)))
	cfg = append(cfg, sps...)
	cfg = append(cfg, 0x01) // numOfPictureParameterSets
	cfg = append(cfg, byte(len(pps)>>8), byte(len(pps)))
	cfg = append(cfg, pps...)

	gotSPS, gotPPS, gotVPS := splitAVCCConfig(cfg, false)
	require.Equal(t, sps, gotSPS)
	require.Equal(t, pps, gotPPS)
	require.Nil(t, gotVPS)
}

func TestSplitAVCCConfigH265ReturnsNilUnsupported(t *testing.T) {
	sps, pps, vps := splitAVCCConfig([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, true)
	require.Nil(t, sps)
	require.Nil(t, pps)
	require.Nil(t, vps)
}

func TestConstPayloadReturnsSameBytes(t *testing.T) {
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	fn := constPayload(want)
	data, err := fn()
	require.NoError(t, err)
	defer data.Close()
	require.Equal(t, want, data.Bytes())
}

func TestDemuxerVideoTrackAbsentWhenNoVideo(t *testing.T) {
	d := &Demuxer{}
	_, ok := d.VideoTrack()
	require.False(t, ok)
	_, ok = d.AudioTrack()
	require.False(t, ok)
}

func TestDemuxerAudioTrackPresent(t *testing.T) {
	d := &Demuxer{
		audio: &settings.TrackAudio{Codec: settings.AudioAACLC, SampleRate: 48000, Channels: 2, Timescale: 10000000},
		aSamples: []settings.Sample{
			{PTS: 0, DTS: 0, Keyframe: true, Kind: settings.Audio, Payload: constPayload([]byte{0x01})},
			{PTS: 100, DTS: 100, Keyframe: true, Kind: settings.Audio, Payload: constPayload([]byte{0x02})},
		},
	}
	track, ok := d.AudioTrack()
	require.True(t, ok)
	require.EqualValues(t, 2, track.Len())
	s, err := track.Get(1)
	require.NoError(t, err)
	require.EqualValues(t, 100, s.PTS)
}
