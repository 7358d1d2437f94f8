package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intMedia(values ...int) Media[int, string] {
	return New(0, uint32(len(values)), func(i uint32) (int, error) {
		return values[i], nil
	}, "settings")
}

func TestMediaGetOutOfRange(t *testing.T) {
	m := intMedia(1, 2, 3)
	_, err := m.Get(3)
	require.Error(t, err)
	require.True(t, IsOutOfRange(err))
}

func TestFilterYieldsOnlyPassingValuesInOrder(t *testing.T) {
	m := intMedia(1, 2, 3, 4, 5, 6)
	filtered, err := Filter(m, func(v int) bool { return v%2 == 0 })
	require.NoError(t, err)
	require.Equal(t, uint32(3), filtered.Len())

	got, err := ToSlice(filtered)
	require.NoError(t, err)
	require.Equal(t, []int{2, 4, 6}, got)
	require.Equal(t, "settings", filtered.Settings())
}

func TestTransformIsLazyUntilForced(t *testing.T) {
	pulls := 0
	m := New(0, 3, func(i uint32) (int, error) {
		pulls++
		return int(i), nil
	}, struct{}{})
	transformed := Transform(m, func(v int) (int, error) { return v * 2, nil })
	require.Equal(t, 0, pulls)

	v, err := transformed.Get(1)
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, 1, pulls)
}

func TestJoinBoundsAreElementwiseMinima(t *testing.T) {
	a := New(0, 5, func(i uint32) (int, error) { return int(i), nil }, struct{}{})
	b := New(2, 4, func(i uint32) (int, error) { return int(i) * 10, nil }, struct{}{})
	joined := Join(a, b, func(x, y int) (int, error) { return x + y, nil })
	lo, hi := joined.Bounds()
	require.Equal(t, uint32(0), lo)
	require.Equal(t, uint32(4), hi)

	v, err := joined.Get(3)
	require.NoError(t, err)
	require.Equal(t, 33, v)
}

func TestIteratorStopsAtBounds(t *testing.T) {
	m := intMedia(7, 8, 9)
	it := m.Iter()
	var got []int
	for {
		v, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, v)
	}
	require.Equal(t, []int{7, 8, 9}, got)
}
