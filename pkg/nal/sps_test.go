package nal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseH264SPSRejectsGarbage(t *testing.T) {
	_, err := ParseH264SPS([]byte{0x67, 0x00})
	require.Error(t, err)
}

func TestParseH265SPSRejectsGarbage(t *testing.T) {
	_, err := ParseH265SPS([]byte{0x42, 0x00})
	require.Error(t, err)
}

func TestReadH264VUISARShortInputIsSafe(t *testing.T) {
	parW, parH := readH264VUISAR([]byte{0x67})
	require.Equal(t, 0, parW)
	require.Equal(t, 0, parH)
}

func TestReadH264VUISAREmptyIsSafe(t *testing.T) {
	parW, parH := readH264VUISAR(nil)
	require.Equal(t, 0, parW)
	require.Equal(t, 0, parH)
}

func TestAspectRatioTableCoversStandardIdcRange(t *testing.T) {
	require.Len(t, aspectRatioTable, 17)
	// idc 1 is square pixels.
	require.Equal(t, [2]int{1, 1}, aspectRatioTable[1])
	// idc 14 is the common 4:3 SD aspect.
	require.Equal(t, [2]int{4, 3}, aspectRatioTable[14])
}
