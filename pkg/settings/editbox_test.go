package settings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateEditsRejectsSingleEmptyEdit(t *testing.T) {
	err := ValidateEdits([]Edit{{StartPTS: EmptyEdit, Duration: 1000}})
	require.Error(t, err)
}

func TestValidateEditsAcceptsEmptyThenNormal(t *testing.T) {
	err := ValidateEdits([]Edit{
		{StartPTS: EmptyEdit, Duration: 1000},
		{StartPTS: 0, Duration: 2000},
	})
	require.NoError(t, err)
}

func TestValidateEditsRejectsNormalThenEmpty(t *testing.T) {
	err := ValidateEdits([]Edit{
		{StartPTS: 0, Duration: 2000},
		{StartPTS: EmptyEdit, Duration: 1000},
	})
	require.Error(t, err)
}

func TestValidateEditsRejectsOverlap(t *testing.T) {
	err := ValidateEdits([]Edit{
		{StartPTS: 0, Duration: 100},
		{StartPTS: 50, Duration: 100},
	})
	require.Error(t, err)
}

func TestRealPtsIdentityWithNoEdits(t *testing.T) {
	require.Equal(t, int64(42), RealPts(nil, 42))
}

func TestRealPtsLeadingEmptyEditOffsetsSubsequent(t *testing.T) {
	edits := []Edit{
		{StartPTS: EmptyEdit, Duration: 1000},
		{StartPTS: 0, Duration: 2000},
	}
	require.Equal(t, int64(1000), RealPts(edits, 0))
	require.Equal(t, int64(1500), RealPts(edits, 500))
}

func TestRealPtsOutsideEditsReturnsNegativeOne(t *testing.T) {
	edits := []Edit{{StartPTS: 100, Duration: 100}}
	require.Equal(t, int64(-1), RealPts(edits, 50))
	require.Equal(t, int64(-1), RealPts(edits, 250))
}

func TestRealPtsAccumulatesAcrossMultipleEdits(t *testing.T) {
	edits := []Edit{
		{StartPTS: 0, Duration: 100},
		{StartPTS: 200, Duration: 100},
	}
	require.Equal(t, int64(50), RealPts(edits, 50))
	require.Equal(t, int64(-1), RealPts(edits, 150))
	require.Equal(t, int64(150), RealPts(edits, 250))
}

func TestRealPtsMonotoneAcrossKeptSamples(t *testing.T) {
	edits := []Edit{
		{StartPTS: 0, Duration: 100},
		{StartPTS: 200, Duration: 100},
	}
	prev := int64(-1)
	for pts := int64(0); pts < 300; pts++ {
		v := RealPts(edits, pts)
		if v < 0 {
			continue
		}
		require.GreaterOrEqual(t, v, prev)
		prev = v
	}
}
