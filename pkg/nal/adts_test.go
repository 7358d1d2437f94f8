package nal

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeADTSAndScanRoundTrip(t *testing.T) {
	cfg := mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   44100,
		ChannelCount: 2,
	}
	payload := []byte{0x11, 0x22, 0x33, 0x44}
	header, err := SynthesizeADTS(cfg, len(payload))
	require.NoError(t, err)

	frame := append(header, payload...)
	frames, err := ScanADTS(frame)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, cfg.SampleRate, frames[0].Config.SampleRate)
	require.Equal(t, cfg.ChannelCount, frames[0].Config.ChannelCount)
	require.Equal(t, payload, frame[frames[0].PayloadOffset:frames[0].PayloadOffset+frames[0].PayloadSize])
}

func TestScanADTSHandlesBackToBackFrames(t *testing.T) {
	cfg := mpeg4audio.AudioSpecificConfig{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 1}
	h1, _ := SynthesizeADTS(cfg, 3)
	h2, _ := SynthesizeADTS(cfg, 5)
	buf := append(append(append([]byte{}, h1...), 1, 2, 3), append(h2, 4, 5, 6, 7, 8)...)

	frames, err := ScanADTS(buf)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, 3, frames[0].PayloadSize)
	require.Equal(t, 5, frames[1].PayloadSize)
}

func TestSynthesizeADTSRejectsUnsupportedSampleRate(t *testing.T) {
	cfg := mpeg4audio.AudioSpecificConfig{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 12345, ChannelCount: 2}
	_, err := SynthesizeADTS(cfg, 10)
	require.Error(t, err)
}

func TestScanADTSRejectsBadSyncWord(t *testing.T) {
	_, err := ScanADTS([]byte{0x00, 0x00, 0, 0, 0, 0, 0})
	require.Error(t, err)
}
