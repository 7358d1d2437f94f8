package settings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/containerforge/pkg/media"
)

func TestSampleShiftDetectsOverflow(t *testing.T) {
	s := Sample{PTS: math.MaxInt64 - 1, DTS: 10}
	_, err := s.Shift(10)
	require.Error(t, err)
}

func TestSampleShiftDetectsNegativeResult(t *testing.T) {
	s := Sample{PTS: 5, DTS: 5}
	_, err := s.Shift(-10)
	require.Error(t, err)
}

func TestSampleShiftMovesTimestamps(t *testing.T) {
	s := Sample{PTS: 100, DTS: 90}
	shifted, err := s.Shift(10)
	require.NoError(t, err)
	require.Equal(t, int64(110), shifted.PTS)
	require.Equal(t, int64(100), shifted.DTS)
}

func TestSampleMetadataEqualIgnoresPayload(t *testing.T) {
	payloadA := func() (media.Data[byte], error) { return media.NewData([]byte{1}, nil), nil }
	payloadB := func() (media.Data[byte], error) { return media.NewData([]byte{2}, nil), nil }

	a := Sample{PTS: 1, DTS: 1, Keyframe: true, Kind: Video, Payload: payloadA}
	b := Sample{PTS: 1, DTS: 1, Keyframe: true, Kind: Video, Payload: payloadB}
	require.True(t, a.MetadataEqual(b))

	c := Sample{PTS: 2, DTS: 1, Keyframe: true, Kind: Video, Payload: payloadA}
	require.False(t, a.MetadataEqual(c))
}
