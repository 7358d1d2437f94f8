package nal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCaptionsFindsRegisteredUserData(t *testing.T) {
	payload := append([]byte{itutT35CountryUS}, []byte("CC1DATA")...)
	sei := append([]byte{seiTypeUserDataRegistered, byte(len(payload))}, payload...)
	sei = append(sei, 0x80) // rbsp_trailing_bits

	captions := ExtractCaptions(sei)
	require.Len(t, captions, 1)
	require.Equal(t, []byte("CC1DATA"), captions[0].Data)
}

func TestExtractCaptionsIgnoresOtherPayloadTypes(t *testing.T) {
	sei := []byte{0x05, 0x02, 0xAA, 0xBB, 0x80}
	require.Empty(t, ExtractCaptions(sei))
}

func TestExtractCaptionsHandlesFFExtendedSize(t *testing.T) {
	payload := append([]byte{itutT35CountryUS}, make([]byte, 300)...)
	var sei []byte
	sei = append(sei, seiTypeUserDataRegistered)
	size := len(payload)
	for size >= 255 {
		sei = append(sei, 0xFF)
		size -= 255
	}
	sei = append(sei, byte(size))
	sei = append(sei, payload...)

	captions := ExtractCaptions(sei)
	require.Len(t, captions, 1)
	require.Len(t, captions[0].Data, 300)
}

func TestBuildCaptionSEIRoundTripsThroughExtractCaptions(t *testing.T) {
	captions := []Caption{{Data: []byte("CC1DATA")}, {Data: make([]byte, 300)}}
	nalu := BuildCaptionSEI(captions)
	require.Equal(t, byte(TypeSEI), nalu[0])
	require.Equal(t, byte(0x80), nalu[len(nalu)-1])

	got := ExtractCaptions(nalu[1 : len(nalu)-1])
	require.Len(t, got, 2)
	require.Equal(t, captions[0].Data, got[0].Data)
	require.Equal(t, captions[1].Data, got[1].Data)
}

func TestStripEmulationPreventionRemovesTripleZeroThree(t *testing.T) {
	in := []byte{0, 0, 3, 1, 0, 0, 3, 2}
	out := StripEmulationPrevention(in)
	require.Equal(t, []byte{0, 0, 1, 0, 0, 2}, out)
}

func TestStripEmulationPreventionLeavesNonEscapedZeros(t *testing.T) {
	in := []byte{0, 1, 0, 0, 1}
	require.Equal(t, in, StripEmulationPrevention(in))
}
