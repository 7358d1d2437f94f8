package nal

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/require"
)

func TestMarshalASCRoundTripWithoutSBR(t *testing.T) {
	cfg := mpeg4audio.AudioSpecificConfig{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 44100, ChannelCount: 2}
	data, err := MarshalASC(cfg, SBRConfig{})
	require.NoError(t, err)
	require.Len(t, data, 2)

	got, sbr, err := UnmarshalASC(data)
	require.NoError(t, err)
	require.False(t, sbr.Present)
	require.Equal(t, cfg, got)
}

func TestMarshalASCRoundTripWithSBR(t *testing.T) {
	cfg := mpeg4audio.AudioSpecificConfig{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 24000, ChannelCount: 2}
	data, err := MarshalASC(cfg, SBRConfig{Present: true, ExtensionSampleRate: 48000})
	require.NoError(t, err)
	require.Len(t, data, 5)

	got, sbr, err := UnmarshalASC(data)
	require.NoError(t, err)
	require.True(t, sbr.Present)
	require.Equal(t, 48000, sbr.ExtensionSampleRate)
	require.Equal(t, cfg.SampleRate, got.SampleRate)
}

func TestMarshalASCRejectsUnsupportedRate(t *testing.T) {
	cfg := mpeg4audio.AudioSpecificConfig{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 1234, ChannelCount: 2}
	_, err := MarshalASC(cfg, SBRConfig{})
	require.Error(t, err)
}

func TestUnmarshalASCRejectsTooShort(t *testing.T) {
	_, _, err := UnmarshalASC([]byte{0x01})
	require.Error(t, err)
}
