package mp4

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// avccSample builds one length-prefixed (4-byte) AVCC NAL sample payload.
func avccSample(nalHeaderAndPayload []byte) []byte {
	out := make([]byte, 4, 4+len(nalHeaderAndPayload))
	binary.BigEndian.PutUint32(out, uint32(len(nalHeaderAndPayload)))
	return append(out, nalHeaderAndPayload...)
}

func constSample(pts, dts int64, keyframe bool, kind settings.Kind, payload []byte) settings.Sample {
	return settings.Sample{
		PTS: pts, DTS: dts, Keyframe: keyframe, Kind: kind,
		Payload: func() (media.Data[byte], error) { return media.NewData(payload, nil), nil },
	}
}

func sliceMedia[S any](samples []settings.Sample, s S) media.Media[settings.Sample, S] {
	return media.New(0, uint32(len(samples)), func(i uint32) (settings.Sample, error) {
		return samples[i], nil
	}, s)
}

// TestMuxDemuxRoundTrip covers part of spec.md §8's S1 scenario: a
// progressive H.264+AAC-LC MP4 muxed and demuxed back keeps its sample
// counts and SPS/PPS bytes, with non-negative pts and strictly increasing
// dts; exact pts values are not compared.
func TestMuxDemuxRoundTrip(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xC0, 0x1E, 0x8C, 0x8D, 0x40}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := []byte{0x65, 0x88, 0x84, 0x00}
	frm := []byte{0x41, 0x9A, 0x00, 0x01}

	const videoFrames = 30
	const videoTimescale = 30000
	const frameDuration = 1000 // 30 fps over a 30000 timescale

	videoSettings := settings.TrackVideo{
		Codec:        settings.VideoH264,
		CodedWidth:   640,
		CodedHeight:  360,
		PARWidth:     1,
		PARHeight:    1,
		Timescale:    videoTimescale,
		Orientation:  settings.Landscape,
		SPSPPS:       settings.SPSPPS{SPS: sps, PPS: pps, NALLengthSize: 4},
	}

	var videoSamples []settings.Sample
	for i := 0; i < videoFrames; i++ {
		pts := int64(i * frameDuration)
		payload := avccSample(frm)
		keyframe := i == 0
		if keyframe {
			payload = avccSample(idr)
		}
		videoSamples = append(videoSamples, constSample(pts, pts, keyframe, settings.Video, payload))
	}
	videoTrack := sliceMedia(videoSamples, videoSettings)

	const audioFrames = 43
	const audioTimescale = 44100
	const audioFrameDuration = 1024

	audioSettings := settings.TrackAudio{
		Codec:      settings.AudioAACLC,
		Timescale:  audioTimescale,
		SampleRate: audioTimescale,
		Channels:   2,
	}
	var audioSamples []settings.Sample
	for i := 0; i < audioFrames; i++ {
		pts := int64(i * audioFrameDuration)
		payload := []byte{0x21, 0x10, byte(i), 0x04}
		audioSamples = append(audioSamples, constSample(pts, pts, true, settings.Audio, payload))
	}
	audioTrack := sliceMedia(audioSamples, audioSettings)

	out, err := Mux(MuxInput{
		Mode:         ModeRegular,
		Video:        &videoTrack,
		Audio:        &audioTrack,
		VideoTrackID: 1,
		AudioTrackID: 2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Main)

	reader := media.NewMemReader(out.Main)
	defer reader.Close()

	demuxer, err := NewDemuxer(reader)
	require.NoError(t, err)

	vTrack, _, ok := demuxer.VideoTrack()
	require.True(t, ok)
	require.EqualValues(t, videoFrames, vTrack.Len())

	var prevDTS int64 = -1
	for i := uint32(0); i < vTrack.Len(); i++ {
		s, err := vTrack.Get(i)
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.PTS, int64(0))
		require.GreaterOrEqual(t, s.DTS, int64(0))
		if i > 0 {
			require.Greater(t, s.DTS, prevDTS)
		}
		prevDTS = s.DTS
	}
	first, err := vTrack.Get(0)
	require.NoError(t, err)
	require.True(t, first.Keyframe)

	vSettings := vTrack.Settings()
	require.Equal(t, sps, vSettings.SPSPPS.SPS)
	require.Equal(t, pps, vSettings.SPSPPS.PPS)

	aTrack, _, ok := demuxer.AudioTrack()
	require.True(t, ok)
	require.EqualValues(t, audioFrames, aTrack.Len())

	prevDTS = -1
	for i := uint32(0); i < aTrack.Len(); i++ {
		s, err := aTrack.Get(i)
		require.NoError(t, err)
		if i > 0 {
			require.Greater(t, s.DTS, prevDTS)
			require.Greater(t, s.PTS, prevDTS)
		}
		prevDTS = s.DTS
	}

	aSettings := aTrack.Settings()
	require.Equal(t, settings.AudioAACLC, aSettings.Codec)
	require.EqualValues(t, 2, aSettings.Channels)
	require.EqualValues(t, audioTimescale, aSettings.SampleRate)
}

// TestMuxDASHInitThenData covers a fragmented (DASH) init+data round trip:
// the init segment carries the SPS, and the data fragment parses back with
// the same sample count as the input.
func TestMuxDASHInitThenData(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xC0, 0x1E, 0x8C, 0x8D, 0x40}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := []byte{0x65, 0x88, 0x84, 0x00}
	frm := []byte{0x41, 0x9A, 0x00, 0x01}

	videoSettings := settings.TrackVideo{
		Codec:       settings.VideoH264,
		CodedWidth:  640,
		CodedHeight: 360,
		Timescale:   30000,
		SPSPPS:      settings.SPSPPS{SPS: sps, PPS: pps, NALLengthSize: 4},
	}

	initOut, err := Mux(MuxInput{
		Mode: ModeDASHInit,
		Video: func() *media.Media[settings.Sample, settings.TrackVideo] {
			m := sliceMedia(nil, videoSettings)
			return &m
		}(),
		VideoTrackID: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, initOut.Main)

	init, err := ParseInitSegment(initOut.Main)
	require.NoError(t, err)
	require.NotNil(t, init.Video)
	require.Equal(t, sps, init.Video.SPSPPS.SPS)

	var videoSamples []settings.Sample
	for i := 0; i < 5; i++ {
		pts := int64(i * 1000)
		payload := avccSample(frm)
		keyframe := i == 0
		if keyframe {
			payload = avccSample(idr)
		}
		videoSamples = append(videoSamples, constSample(pts, pts, keyframe, settings.Video, payload))
	}
	videoTrack := sliceMedia(videoSamples, videoSettings)

	dataOut, err := Mux(MuxInput{
		Mode:           ModeDASHData,
		Video:          &videoTrack,
		VideoTrackID:   1,
		SequenceNumber: 1,
		BaseTime:       map[int]uint64{1: 0},
	})
	require.NoError(t, err)
	require.NotEmpty(t, dataOut.DashData)

	fragSamples, err := ParseFragments(dataOut.DashData)
	require.NoError(t, err)
	require.Len(t, fragSamples, 5)
}
