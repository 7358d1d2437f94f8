package nal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanAVCCRejectsTruncatedLengthField(t *testing.T) {
	_, err := ScanAVCC([]byte{0, 0, 0}, 4)
	require.Error(t, err)
}

func TestScanAVCCRejectsTruncatedPayload(t *testing.T) {
	_, err := ScanAVCC([]byte{0, 0, 0, 10, 1, 2}, 4)
	require.Error(t, err)
}

func TestScanAVCCSkipsZeroLengthNALs(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0, 0, 1, byte(TypeFRM)}
	infos, err := ScanAVCC(data, 4)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, TypeFRM, infos[0].Type)
}

func TestRewriteAVCCLengthSize(t *testing.T) {
	data := []byte{0, 0, 0, 2, byte(TypeFRM), 0xAB}
	out, err := RewriteAVCCLengthSize(data, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 2, byte(TypeFRM), 0xAB}, out)
}
