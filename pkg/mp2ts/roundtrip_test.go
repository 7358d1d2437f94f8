package mp2ts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

func constAudioSample(pts int64, payload []byte) settings.Sample {
	return settings.Sample{
		PTS: pts, DTS: pts, Keyframe: true, Kind: settings.Audio,
		Payload: constPayload(payload),
	}
}

func sliceMedia[S any](samples []settings.Sample, s S) media.Media[settings.Sample, S] {
	return media.New(0, uint32(len(samples)), func(i uint32) (settings.Sample, error) {
		return samples[i], nil
	}, s)
}

// TestMuxDemuxAudioRoundTrip covers an AAC-LC-only MPEG-TS round trip: the
// muxer wraps each access unit in PES/ADTS, and the demuxer's
// handleMPEG4Audio reassigns each sub-frame's own pts/dts from the pes pts
// plus k*frameDuration rather than trusting a 1:1 PES-to-sample mapping.
func TestMuxDemuxAudioRoundTrip(t *testing.T) {
	const sampleRate = 44100
	const frames = 20
	const frameDuration = media.AudioFrameSize * media.MP2TSTimescale / sampleRate

	audioSettings := settings.TrackAudio{
		Codec:      settings.AudioAACLC,
		Timescale:  media.MP2TSTimescale,
		SampleRate: sampleRate,
		Channels:   2,
	}

	var samples []settings.Sample
	for i := 0; i < frames; i++ {
		pts := int64(i) * frameDuration
		payload := []byte{0x21, 0x10, byte(i), 0x04, 0x55}
		samples = append(samples, constAudioSample(pts, payload))
	}
	audioTrack := sliceMedia(samples, audioSettings)

	var buf bytes.Buffer
	err := Mux(&buf, MuxInput{Audio: &audioTrack})
	require.NoError(t, err)
	require.NotZero(t, buf.Len())

	demuxer, err := NewDemuxer(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	aTrack, ok := demuxer.AudioTrack()
	require.True(t, ok)
	require.EqualValues(t, frames, aTrack.Len())

	var prevPTS int64 = -1
	for i := uint32(0); i < aTrack.Len(); i++ {
		s, err := aTrack.Get(i)
		require.NoError(t, err)
		require.True(t, s.Keyframe)
		require.Equal(t, settings.Audio, s.Kind)
		if i > 0 {
			require.Greater(t, s.PTS, prevPTS)
		}
		prevPTS = s.PTS
	}

	aSettings := aTrack.Settings()
	require.Equal(t, settings.AudioAACLC, aSettings.Codec)
	require.EqualValues(t, 2, aSettings.Channels)
	require.EqualValues(t, sampleRate, aSettings.SampleRate)

	_, ok = demuxer.VideoTrack()
	require.False(t, ok)
}

// TestDurationMedianDelta exercises Duration's trailing-delta estimate
// directly: with uniform spacing, the appended last delta equals the
// uniform gap, so total duration is simply count*gap.
func TestDurationMedianDelta(t *testing.T) {
	samples := []settings.Sample{
		{DTS: 0}, {DTS: 1000}, {DTS: 2000}, {DTS: 3000},
	}
	require.EqualValues(t, 4000, Duration(samples, 1024))
}

func TestDurationSingleSampleFallsBackToAudioFrameDuration(t *testing.T) {
	samples := []settings.Sample{{DTS: 500}}
	require.EqualValues(t, 1024, Duration(samples, 1024))
}

func TestDurationEmpty(t *testing.T) {
	require.EqualValues(t, 0, Duration(nil, 1024))
}
