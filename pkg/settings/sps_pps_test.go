package settings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleSPSPPS() SPSPPS {
	return SPSPPS{
		SPS:           []byte{0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9},
		PPS:           []byte{0x68, 0xeb, 0xe3, 0xcb},
		NALLengthSize: 4,
	}
}

func TestSPSPPSAVCCLayout(t *testing.T) {
	s := sampleSPSPPS()
	avcc, err := s.AVCC()
	require.NoError(t, err)

	require.Equal(t, byte(0x01), avcc[0])
	require.Equal(t, s.SPS[1], avcc[1])
	require.Equal(t, s.SPS[2], avcc[2])
	require.Equal(t, s.SPS[3], avcc[3])
	require.Equal(t, byte(0xFF), avcc[4]) // 0xFC | (4-1)
	require.Equal(t, byte(0xE1), avcc[5])
	require.Equal(t, byte(0x00), avcc[6])
	require.Equal(t, byte(len(s.SPS)), avcc[7])
	require.Equal(t, s.SPS, avcc[8:8+len(s.SPS)])
}

func TestSPSPPSAnnexBAndLengthPrefixedRoundTripShape(t *testing.T) {
	s := sampleSPSPPS()
	annexB := s.AnnexB()
	require.Equal(t, []byte{0, 0, 0, 1}, annexB[:4])

	lp, err := s.LengthPrefixed(4)
	require.NoError(t, err)
	require.Equal(t, uint32(len(s.SPS)), be32(lp[:4]))
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
