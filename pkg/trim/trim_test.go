package trim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

func timescale1000(settings.TrackVideo) uint32 { return 1000 }

func samplesTrack(pts ...int64) media.Media[settings.Sample, settings.TrackVideo] {
	samples := make([]settings.Sample, len(pts))
	for i, p := range pts {
		samples[i] = settings.Sample{PTS: p, DTS: p, Kind: settings.Video}
	}
	return media.New(0, uint32(len(samples)), func(i uint32) (settings.Sample, error) {
		return samples[i], nil
	}, settings.TrackVideo{Timescale: 1000})
}

func TestTrimKeepsSamplesInsideWindow(t *testing.T) {
	track := samplesTrack(0, 500, 1000, 1500, 2000)
	result, err := Trim(track, nil, 500, 1000, timescale1000)
	require.NoError(t, err)
	require.Equal(t, uint32(2), result.Track.Len())

	s0, err := result.Track.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(500), s0.PTS)
}

func TestTrimRewritesEditsRelativeToWindowStart(t *testing.T) {
	track := samplesTrack(0, 1000, 2000, 3000)
	edits := []settings.Edit{{StartPTS: 0, Duration: 4000, Rate: 1}}
	result, err := Trim(track, edits, 1000, 2000, timescale1000)
	require.NoError(t, err)
	require.Len(t, result.Edits, 1)
	require.Equal(t, int64(1000), result.Edits[0].StartPTS)
	require.Equal(t, uint64(2000), result.Edits[0].Duration)
}

func TestChunkTilesTheWholeTimelineWithoutOverlap(t *testing.T) {
	track := samplesTrack(0, 500, 1000, 1500, 1999)
	chunks, err := Chunk(track, nil, 1000, timescale1000)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	require.Equal(t, uint32(2), chunks[0].Track.Len())
	require.Equal(t, uint32(3), chunks[1].Track.Len())
}

func TestChunkOnEmptyTrackReturnsNoChunks(t *testing.T) {
	track := samplesTrack()
	chunks, err := Chunk(track, nil, 1000, timescale1000)
	require.NoError(t, err)
	require.Empty(t, chunks)
}
