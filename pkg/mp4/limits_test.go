package mp4

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

func limitsDemuxer(backing []byte) *Demuxer {
	return &Demuxer{reader: media.NewMemReader(backing), logger: slog.Default()}
}

func TestBuildVideoAcceptsMaxCodedDimensions(t *testing.T) {
	d := limitsDemuxer(nil)
	err := d.buildVideo(&ParsedProgressiveTrack{
		Video: &settings.TrackVideo{Codec: settings.VideoH264, CodedWidth: 8192, CodedHeight: 8192, Timescale: 30000},
	})
	require.NoError(t, err)
}

func TestBuildVideoRejectsOversizedCodedDimensions(t *testing.T) {
	d := limitsDemuxer(nil)
	err := d.buildVideo(&ParsedProgressiveTrack{
		Video: &settings.TrackVideo{Codec: settings.VideoH264, CodedWidth: 8193, CodedHeight: 1, Timescale: 30000},
	})
	require.Error(t, err)
	require.True(t, media.IsUnsafe(err))
}

func TestBuildVideoSampleSizeBoundary(t *testing.T) {
	backing := make([]byte, 8)
	atLimit := limitsDemuxer(backing)
	err := atLimit.buildVideo(&ParsedProgressiveTrack{
		Video:   &settings.TrackVideo{Codec: settings.VideoH264, CodedWidth: 640, CodedHeight: 360, Timescale: 30000},
		Samples: []ParsedProgressiveSample{{Offset: 0, Size: media.MaxSampleSize, Keyframe: true}},
	})
	require.NoError(t, err)

	overLimit := limitsDemuxer(backing)
	err = overLimit.buildVideo(&ParsedProgressiveTrack{
		Video:   &settings.TrackVideo{Codec: settings.VideoH264, CodedWidth: 640, CodedHeight: 360, Timescale: 30000},
		Samples: []ParsedProgressiveSample{{Offset: 0, Size: media.MaxSampleSize + 1, Keyframe: true}},
	})
	require.Error(t, err)
	require.True(t, media.IsUnsafe(err))
}

func TestBuildVideoRejectsOversizedGOP(t *testing.T) {
	samples := make([]ParsedProgressiveSample, media.MaxGOPSize+2)
	for i := range samples {
		samples[i] = ParsedProgressiveSample{Offset: int64(i), Size: 1, DTS: int64(i), PTS: int64(i), Keyframe: i == 0}
	}
	d := limitsDemuxer(make([]byte, len(samples)))
	err := d.buildVideo(&ParsedProgressiveTrack{
		Video:   &settings.TrackVideo{Codec: settings.VideoH264, CodedWidth: 640, CodedHeight: 360, Timescale: 30000},
		Samples: samples,
	})
	require.Error(t, err)
	require.True(t, media.IsUnsafe(err))
}

// Re-reading the same sample's payload thunk twice returns equal Data
// values: the producer is pure over a live backing source.
func TestVideoPayloadRereadIsStable(t *testing.T) {
	payload := avccSample([]byte{0x65, 0x88, 0x84, 0x00})
	d := limitsDemuxer(payload)
	err := d.buildVideo(&ParsedProgressiveTrack{
		Video:   &settings.TrackVideo{Codec: settings.VideoH264, CodedWidth: 640, CodedHeight: 360, Timescale: 30000},
		Samples: []ParsedProgressiveSample{{Offset: 0, Size: int64(len(payload)), Keyframe: true}},
	})
	require.NoError(t, err)
	require.Len(t, d.vSamples, 1)

	first, err := d.vSamples[0].Payload()
	require.NoError(t, err)
	defer first.Close()
	second, err := d.vSamples[0].Payload()
	require.NoError(t, err)
	defer second.Close()
	require.True(t, media.EqualBytes(first, second))
}
