package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataSetBoundsRejectsInvalidRange(t *testing.T) {
	d, err := Empty[byte](16)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.SetBounds(2, 10))
	require.Equal(t, 8, d.Len())

	err = d.SetBounds(10, 2)
	require.Error(t, err)

	err = d.SetBounds(0, 17)
	require.Error(t, err)
}

func TestDataEqualityComparesLiveRangeNotIdentity(t *testing.T) {
	a := NewData([]byte{1, 2, 3, 4, 5}, nil)
	b := NewData([]byte{9, 2, 3, 9}, nil)
	require.NoError(t, a.SetBounds(1, 3))
	require.NoError(t, b.SetBounds(1, 3))
	require.True(t, a.Equal(b))
}

func TestDataCopyIntoRejectsOverflow(t *testing.T) {
	d, err := Empty[byte](4)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.CopyInto(0, []byte{1, 2}))
	require.Equal(t, []byte{1, 2, 0, 0}, d.Bytes())

	err = d.CopyInto(3, []byte{1, 2})
	require.Error(t, err)
}

func TestDataReleaseRunsOnceOnLastClone(t *testing.T) {
	released := 0
	d := NewData([]byte{1, 2, 3}, func() { released++ })
	clone := d.Clone()

	d.Close()
	require.Equal(t, 0, released)

	clone.Close()
	require.Equal(t, 1, released)
}

func TestDataCopyAllocatesIndependentBuffer(t *testing.T) {
	src := NewData([]byte{1, 2, 3}, nil)
	dup := Copy(src)
	require.NoError(t, dup.CopyInto(0, []byte{9}))
	require.Equal(t, byte(1), src.Bytes()[0])
	require.Equal(t, byte(9), dup.Bytes()[0])
}
