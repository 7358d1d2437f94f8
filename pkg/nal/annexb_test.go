package nal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleAnnexB() []byte {
	var b []byte
	b = append(b, 0, 0, 0, 1)
	b = append(b, byte(TypeSPS), 0x64, 0x00, 0x1f)
	b = append(b, 0, 0, 1)
	b = append(b, byte(TypePPS), 0xeb, 0xe3)
	b = append(b, 0, 0, 0, 1)
	b = append(b, byte(TypeIDR), 0x01, 0x02, 0x03)
	return b
}

func TestScanAnnexBFindsAllNALsWithMixedPrefixes(t *testing.T) {
	infos, err := ScanAnnexB(sampleAnnexB())
	require.NoError(t, err)
	require.Len(t, infos, 3)
	require.Equal(t, TypeSPS, infos[0].Type)
	require.Equal(t, 4, infos[0].PrefixSize)
	require.Equal(t, TypePPS, infos[1].Type)
	require.Equal(t, 3, infos[1].PrefixSize)
	require.Equal(t, TypeIDR, infos[2].Type)
	require.Equal(t, 4, infos[2].PrefixSize)
}

func TestScanAnnexBEmptyInput(t *testing.T) {
	infos, err := ScanAnnexB(nil)
	require.NoError(t, err)
	require.Nil(t, infos)
}

func TestScanAnnexBNoStartCodeIsInvalid(t *testing.T) {
	_, err := ScanAnnexB([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestAnnexBToAVCCRoundTrip(t *testing.T) {
	src := sampleAnnexB()
	avcc, err := ToAVCC(src, 4)
	require.NoError(t, err)

	back, err := FromAVCC(avcc, 4)
	require.NoError(t, err)

	infosBack, err := ScanAnnexB(back)
	require.NoError(t, err)
	infosSrc, err := ScanAnnexB(src)
	require.NoError(t, err)
	require.Len(t, infosBack, len(infosSrc))
	for i := range infosSrc {
		require.Equal(t, src[infosSrc[i].Offset:infosSrc[i].Offset+infosSrc[i].Size],
			back[infosBack[i].Offset:infosBack[i].Offset+infosBack[i].Size])
	}
}

func TestToAVCCRejectsBadLengthSize(t *testing.T) {
	_, err := ToAVCC(sampleAnnexB(), 3)
	require.Error(t, err)
}

func TestAnnexBToAVCCTwoByteLengthRoundTrip(t *testing.T) {
	src := sampleAnnexB()
	avcc, err := ToAVCC(src, 2)
	require.NoError(t, err)

	infos, err := ScanAVCC(avcc, 2)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	require.Equal(t, TypeSPS, infos[0].Type)
}
