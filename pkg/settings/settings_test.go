package settings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveDisplayDimensionsSquarePAR(t *testing.T) {
	w, h := DeriveDisplayDimensions(1920, 1080, 1, 1)
	require.Equal(t, uint32(1920), w)
	require.Equal(t, uint32(1080), h)
}

func TestDeriveDisplayDimensionsScalesShorterSideDown(t *testing.T) {
	// 12:11 PAR, wider than tall: height is scaled down, width kept.
	w, h := DeriveDisplayDimensions(720, 576, 12, 11)
	require.Equal(t, uint32(720), w)
	require.Less(t, h, uint32(576))
	require.Equal(t, uint32(0), h%2)
}

func TestDeriveDisplayDimensionsEvenFloorsOddResult(t *testing.T) {
	_, h := DeriveDisplayDimensions(100, 101, 1, 1)
	require.Equal(t, uint32(100), h)
}
