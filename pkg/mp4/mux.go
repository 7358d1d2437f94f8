package mp4

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/internal/observability"
	"github.com/jmylchreest/containerforge/pkg/media"
	"github.com/jmylchreest/containerforge/pkg/nal"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// Mode selects one of spec.md §4.6's five output projections.
type Mode int

const (
	// ModeRegular produces a full, self-contained [ftyp][moov][mdat] file.
	ModeRegular Mode = iota
	// ModeHeaderOnly truncates the output after the last mdat header byte
	// (no sample bytes), for callers that stream payloads separately.
	ModeHeaderOnly
	// ModeSamplesOnly strips everything up to and including the last mdat
	// header byte, emitting only the concatenated sample payloads.
	ModeSamplesOnly
	// ModeDASHInit emits only a fragmented-MP4 initialization segment.
	ModeDASHInit
	// ModeDASHData emits only a single moof+mdat media fragment.
	ModeDASHData
)

// MuxInput names the tracks and mode Mux combines into output.
type MuxInput struct {
	Mode Mode

	Video      *media.Media[settings.Sample, settings.TrackVideo]
	VideoEdits []settings.Edit
	Audio      *media.Media[settings.Sample, settings.TrackAudio]
	AudioEdits []settings.Edit
	Caption    *media.Media[settings.Sample, settings.TrackCaption]

	// VideoTrackID/AudioTrackID select track_ID values; DASH modes also use
	// them to correlate the init segment with later fragments.
	VideoTrackID int
	AudioTrackID int
	// SequenceNumber is the moof sequence_number for ModeDASHData.
	SequenceNumber uint32
	// BaseTime is each track's fragment base_media_decode_time, required
	// for ModeDASHData (spec.md §4.2 "base_media_decode_time + accumulated
	// durations").
	BaseTime map[int]uint64

	// Logger receives structured trace/debug output; nil defaults to
	// slog.Default(), same as Config.
	Logger *slog.Logger
}

// MuxOutput is what Mux produces: Main always carries the mode's primary
// buffer; DashData is populated only by ModeDASHData (spec.md §4.6 "Two
// files are produced... a dash-data buffer, produced only in DASH-data
// mode").
type MuxOutput struct {
	Main     []byte
	DashData []byte
}

// Mux builds spec.md §4.6's MP4/QuickTime/DASH output. Video and Audio are
// each optional; when both are nil, Mux fails InvalidArguments.
func Mux(in MuxInput) (MuxOutput, error) {
	if in.Video == nil && in.Audio == nil {
		return MuxOutput{}, mediaerr.New(mediaerr.InvalidArguments, "mp4.Mux", "at least one of video or audio is required")
	}
	logger := observability.WithComponent(media.ResolveLogger(media.LogConfig{Logger: in.Logger}), "mp4.mux")

	var out MuxOutput
	var err error
	switch in.Mode {
	case ModeDASHInit:
		out, err = muxDASHInit(in)
	case ModeDASHData:
		out, err = muxDASHData(in)
	default:
		out, err = muxProgressive(in)
	}
	if err != nil {
		return out, err
	}
	logger.Log(context.Background(), observability.LevelTrace, "mux complete",
		slog.Int("mode", int(in.Mode)), slog.Int("main_bytes", len(out.Main)), slog.Int("dash_data_bytes", len(out.DashData)))
	return out, nil
}

func muxDASHInit(in MuxInput) (MuxOutput, error) {
	var video *settings.TrackVideo
	var audio *settings.TrackAudio
	if in.Video != nil {
		v := in.Video.Settings()
		video = &v
	}
	if in.Audio != nil {
		a := in.Audio.Settings()
		audio = &a
	}
	data, err := BuildInitSegment(in.VideoTrackID, video, in.AudioTrackID, audio)
	if err != nil {
		return MuxOutput{}, err
	}
	return MuxOutput{Main: data}, nil
}

func muxDASHData(in MuxInput) (MuxOutput, error) {
	captionsByPTS, videoSettings, err := indexCaptionsAndVideo(in)
	if err != nil {
		return MuxOutput{}, err
	}

	tracks := map[int][]settings.Sample{}
	if in.Video != nil {
		samples, err := spliceVideoSamples(in.Video, videoSettings, captionsByPTS)
		if err != nil {
			return MuxOutput{}, err
		}
		tracks[in.VideoTrackID] = samples
	}
	if in.Audio != nil {
		samples, err := collectSamples(*in.Audio)
		if err != nil {
			return MuxOutput{}, err
		}
		tracks[in.AudioTrackID] = samples
	}

	data, err := BuildFragment(in.SequenceNumber, tracks, in.BaseTime)
	if err != nil {
		return MuxOutput{}, err
	}
	return MuxOutput{DashData: data}, nil
}

// muxProgressive implements ModeRegular/ModeHeaderOnly/ModeSamplesOnly, all
// three built from the same moov-before-mdat buffer (spec.md §4.6 "Output
// projections").
func muxProgressive(in MuxInput) (MuxOutput, error) {
	captionsByPTS, videoSettings, err := indexCaptionsAndVideo(in)
	if err != nil {
		return MuxOutput{}, err
	}

	var tracks []ProgressiveTrack
	var edits [][]settings.Edit

	if in.Video != nil {
		samples, err := spliceVideoSamples(in.Video, videoSettings, captionsByPTS)
		if err != nil {
			return MuxOutput{}, err
		}
		tracks = append(tracks, ProgressiveTrack{
			ID: in.VideoTrackID, TimeScale: videoSettings.Timescale,
			Video: &videoSettings, Samples: samples,
		})
		if in.Mode == ModeRegular {
			edits = append(edits, in.VideoEdits)
		} else {
			edits = append(edits, nil)
		}
	}
	if in.Audio != nil {
		audioSettings := in.Audio.Settings()
		samples, err := collectSamples(*in.Audio)
		if err != nil {
			return MuxOutput{}, err
		}
		tracks = append(tracks, ProgressiveTrack{
			ID: in.AudioTrackID, TimeScale: audioSettings.Timescale,
			Audio: &audioSettings, Samples: samples,
		})
		if in.Mode == ModeRegular {
			edits = append(edits, in.AudioEdits)
		} else {
			edits = append(edits, nil)
		}
	}

	full, mdatHeaderEnd, err := buildProgressiveWithPatches(tracks, edits)
	if err != nil {
		return MuxOutput{}, err
	}

	switch in.Mode {
	case ModeHeaderOnly:
		return MuxOutput{Main: full[:mdatHeaderEnd]}, nil
	case ModeSamplesOnly:
		return MuxOutput{Main: full[mdatHeaderEnd:]}, nil
	default:
		return MuxOutput{Main: full}, nil
	}
}

// buildProgressiveWithPatches calls BuildProgressive and then, since the
// backing mp4.Header API (confirmed via the pack's mediamtx playback
// muxer) carries no transformation-matrix or caller-supplied edit-list
// field, patches the marshaled moov tree in place: the tkhd matrix is
// overwritten (fixed-size, no resize), and a non-empty edit list is
// spliced in as a new edts/elst box ahead of each trak's mdia (which
// grows the trak and moov box sizes). It returns the full buffer and the
// byte offset just past the mdat header (size+type), the ModeHeaderOnly/
// ModeSamplesOnly split point.
func buildProgressiveWithPatches(tracks []ProgressiveTrack, edits [][]settings.Edit) ([]byte, int, error) {
	out, err := BuildProgressive(tracks)
	if err != nil {
		return nil, 0, err
	}

	boxes, err := walkBoxes(out, 0, len(out))
	if err != nil {
		return nil, 0, err
	}
	moov, ok := findBox(boxes, "moov")
	if !ok {
		return nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.buildProgressiveWithPatches", "marshal produced no moov box")
	}
	mdat, ok := findBox(boxes, "mdat")
	if !ok {
		return nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.buildProgressiveWithPatches", "marshal produced no mdat box")
	}
	mdatHeaderEnd := mdat.Start

	moovChildren, err := walkBoxes(out, moov.Start, moov.End)
	if err != nil {
		return nil, 0, err
	}
	var traks []box
	for _, b := range moovChildren {
		if b.Type == "trak" {
			traks = append(traks, b)
		}
	}
	if len(traks) != len(tracks) {
		return nil, 0, mediaerr.New(mediaerr.InternalInconsistency, "mp4.buildProgressiveWithPatches", "trak count mismatch after marshal")
	}

	// Process last-to-first so an earlier trak's insertion point (always
	// at a lower offset) is never invalidated by a later trak's splice.
	totalInserted := 0
	for i := len(tracks) - 1; i >= 0; i-- {
		t := tracks[i]
		trak := traks[i]
		trakChildren, err := walkBoxes(out, trak.Start, trak.End)
		if err != nil {
			return nil, 0, err
		}
		tkhd, ok := findBox(trakChildren, "tkhd")
		if !ok {
			return nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.buildProgressiveWithPatches", "trak missing tkhd")
		}
		if t.Video != nil {
			if err := writeTkhdMatrix(out, tkhd, *t.Video); err != nil {
				return nil, 0, err
			}
		}

		trackEdits := edits[i]
		if len(trackEdits) == 0 {
			continue
		}
		mdia, ok := findBox(trakChildren, "mdia")
		if !ok {
			return nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.buildProgressiveWithPatches", "trak missing mdia")
		}
		insertAt := mdia.Start - 8 // mdia's own box header
		edtsBytes := buildEdtsBox(trackEdits)

		grown, err := growBoxSize(out, trak.Start-8, len(edtsBytes))
		if err != nil {
			return nil, 0, err
		}
		out = grown
		grown, err = growBoxSize(out, moov.Start-8, len(edtsBytes))
		if err != nil {
			return nil, 0, err
		}
		out = grown

		out = insertBytes(out, insertAt, edtsBytes)
		if insertAt < mdatHeaderEnd {
			mdatHeaderEnd += len(edtsBytes)
		}
		totalInserted += len(edtsBytes)
	}

	// The marshaled stco entries assumed mdat's pre-splice position; every
	// inserted edts byte shifts the payload region by the same amount.
	if totalInserted > 0 {
		if err := shiftChunkOffsets(out, totalInserted); err != nil {
			return nil, 0, err
		}
	}

	return out, mdatHeaderEnd, nil
}

// shiftChunkOffsets adds delta to every stco/co64 entry of every trak in
// out's moov box.
func shiftChunkOffsets(out []byte, delta int) error {
	boxes, err := walkBoxes(out, 0, len(out))
	if err != nil {
		return err
	}
	moov, ok := findBox(boxes, "moov")
	if !ok {
		return mediaerr.New(mediaerr.InternalInconsistency, "mp4.shiftChunkOffsets", "no moov box")
	}
	moovChildren, err := walkBoxes(out, moov.Start, moov.End)
	if err != nil {
		return err
	}
	for _, trak := range moovChildren {
		if trak.Type != "trak" {
			continue
		}
		stbl, err := descendBoxes(out, trak, "mdia", "minf", "stbl")
		if err != nil {
			return err
		}
		stblChildren, err := walkBoxes(out, stbl.Start, stbl.End)
		if err != nil {
			return err
		}
		cb, ok := findBox(stblChildren, "stco")
		width := 4
		if !ok {
			cb, ok = findBox(stblChildren, "co64")
			width = 8
			if !ok {
				continue
			}
		}
		at := cb.Start + 4 // version/flags
		if at+4 > cb.End {
			return mediaerr.New(mediaerr.Invalid, "mp4.shiftChunkOffsets", "truncated chunk offset box")
		}
		count := int(binary.BigEndian.Uint32(out[at : at+4]))
		at += 4
		for i := 0; i < count; i++ {
			if at+width > cb.End {
				return mediaerr.New(mediaerr.Invalid, "mp4.shiftChunkOffsets", "truncated chunk offset entry")
			}
			if width == 8 {
				cur := binary.BigEndian.Uint64(out[at : at+8])
				binary.BigEndian.PutUint64(out[at:at+8], cur+uint64(delta))
			} else {
				cur := binary.BigEndian.Uint32(out[at : at+4])
				binary.BigEndian.PutUint32(out[at:at+4], cur+uint32(delta))
			}
			at += width
		}
	}
	return nil
}

// descendBoxes follows a chain of nested box types from parent down.
func descendBoxes(data []byte, parent box, path ...string) (box, error) {
	cur := parent
	for _, boxType := range path {
		children, err := walkBoxes(data, cur.Start, cur.End)
		if err != nil {
			return box{}, err
		}
		next, ok := findBox(children, boxType)
		if !ok {
			return box{}, mediaerr.New(mediaerr.Invalid, "mp4.descendBoxes", "missing "+boxType+" box")
		}
		cur = next
	}
	return cur, nil
}

// writeTkhdMatrix overwrites tkhd's fixed-size 36-byte transformation
// matrix in place with the orientation/PAR-derived cardinal matrix (spec.md
// §4.6's orientation table).
func writeTkhdMatrix(out []byte, b box, v settings.TrackVideo) error {
	version := out[b.Start]
	var matrixStart int
	if version == 1 {
		matrixStart = b.Start + 4 + 8 + 8 + 4 + 4 + 8 + 16
	} else {
		matrixStart = b.Start + 4 + 4 + 4 + 4 + 4 + 4 + 16
	}
	if matrixStart+36 > b.End {
		return mediaerr.New(mediaerr.Invalid, "mp4.writeTkhdMatrix", "truncated tkhd matrix")
	}
	m := orientationMatrix(v.Orientation, v.CodedWidth, v.CodedHeight)
	for i, val := range m {
		binary.BigEndian.PutUint32(out[matrixStart+i*4:matrixStart+i*4+4], uint32(val))
	}
	return nil
}

// orientationMatrix builds the 3x3 transformation matrix for one of the
// four cardinal orientations (spec.md §4.6's table). PAR is conveyed
// through the SPS VUI sample_aspect_ratio (read back by the demuxer)
// rather than folded into the matrix scale, so the rotation submatrix
// uses plain unit (1<<16) entries.
func orientationMatrix(o settings.Orientation, codedWidth, codedHeight uint32) [9]int32 {
	const one = 0x00010000
	w := int32(codedWidth) << 16
	h := int32(codedHeight) << 16
	switch o {
	case settings.Portrait:
		return [9]int32{0, one, 0, -one, 0, 0, h, 0, 0x40000000}
	case settings.LandscapeReverse:
		return [9]int32{-one, 0, 0, 0, -one, 0, w, h, 0x40000000}
	case settings.PortraitReverse:
		return [9]int32{0, -one, 0, one, 0, 0, 0, w, 0x40000000}
	default:
		return [9]int32{one, 0, 0, 0, one, 0, 0, 0, 0x40000000}
	}
}

// buildEdtsBox marshals an edts/elst box pair from a settings.Edit list,
// using full-box version 0 (32-bit fields) since spec.md's edit durations
// are always expressible in that range for the media this engine targets.
func buildEdtsBox(edits []settings.Edit) []byte {
	elstBody := make([]byte, 8, 8+len(edits)*12)
	binary.BigEndian.PutUint32(elstBody[4:8], uint32(len(edits)))
	for _, e := range edits {
		var entry [12]byte
		binary.BigEndian.PutUint32(entry[0:4], uint32(e.Duration))
		startPTS := e.StartPTS
		if startPTS == settings.EmptyEdit {
			startPTS = -1
		}
		binary.BigEndian.PutUint32(entry[4:8], uint32(int32(startPTS)))
		binary.BigEndian.PutUint16(entry[8:10], uint16(int16(e.Rate)))
		elstBody = append(elstBody, entry[:]...)
	}
	elst := appendBoxHeader(nil, "elst", len(elstBody))
	elst = append(elst, elstBody...)

	edts := appendBoxHeader(nil, "edts", len(elst))
	edts = append(edts, elst...)
	return edts
}

func appendBoxHeader(dst []byte, boxType string, payloadLen int) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(8+payloadLen))
	copy(hdr[4:8], boxType)
	return append(dst, hdr[:]...)
}

// growBoxSize adds delta to the 32-bit size field at sizeFieldOffset.
func growBoxSize(out []byte, sizeFieldOffset, delta int) ([]byte, error) {
	if sizeFieldOffset < 0 || sizeFieldOffset+4 > len(out) {
		return nil, mediaerr.New(mediaerr.InternalInconsistency, "mp4.growBoxSize", "size field offset out of range")
	}
	cur := binary.BigEndian.Uint32(out[sizeFieldOffset : sizeFieldOffset+4])
	binary.BigEndian.PutUint32(out[sizeFieldOffset:sizeFieldOffset+4], cur+uint32(delta))
	return out, nil
}

// insertBytes splices ins into out at position at, without mutating out's
// backing array beyond its own bounds.
func insertBytes(out []byte, at int, ins []byte) []byte {
	result := make([]byte, 0, len(out)+len(ins))
	result = append(result, out[:at]...)
	result = append(result, ins...)
	result = append(result, out[at:]...)
	return result
}

// indexCaptionsAndVideo resolves in.Video's settings (if any) and groups
// in.Caption's samples by exact pts (spec.md §4.6 "Caption SEI
// re-injection... searches the caption index whose pts equals this video
// pts").
func indexCaptionsAndVideo(in MuxInput) (map[int64][]nal.Caption, settings.TrackVideo, error) {
	var videoSettings settings.TrackVideo
	if in.Video != nil {
		videoSettings = in.Video.Settings()
	}
	out := map[int64][]nal.Caption{}
	if in.Caption == nil {
		return out, videoSettings, nil
	}
	a, b := in.Caption.Bounds()
	for i := a; i < b; i++ {
		s, err := in.Caption.Get(i)
		if err != nil {
			return nil, videoSettings, err
		}
		payload, err := s.Payload()
		if err != nil {
			return nil, videoSettings, err
		}
		raw := append([]byte(nil), payload.Bytes()...)
		payload.Close()
		if len(raw) < 6 {
			continue
		}
		rbsp := nal.StripEmulationPrevention(raw[5 : len(raw)-1]) // strip 4-byte length + NAL header, trailing-bits byte
		out[s.PTS] = append(out[s.PTS], nal.ExtractCaptions(rbsp)...)
	}
	return out, videoSettings, nil
}

// spliceVideoSamples materializes track's samples, prepending SPS/PPS at
// each keyframe and, when a caption with matching pts exists, prepending
// the caption SEI NAL ahead of the video NAL (spec.md §4.6 "the reverse of
// §4.4's extraction").
func spliceVideoSamples(track *media.Media[settings.Sample, settings.TrackVideo], v settings.TrackVideo, captionsByPTS map[int64][]nal.Caption) ([]settings.Sample, error) {
	nalLengthSize := v.SPSPPS.NALLengthSize
	if nalLengthSize == 0 {
		nalLengthSize = 4
	}
	isH265 := v.Codec == settings.VideoH265

	a, b := track.Bounds()
	out := make([]settings.Sample, 0, b-a)
	for i := a; i < b; i++ {
		s, err := track.Get(i)
		if err != nil {
			return nil, err
		}
		payload, err := s.Payload()
		if err != nil {
			return nil, err
		}
		raw := append([]byte(nil), payload.Bytes()...)
		payload.Close()

		captions := captionsByPTS[s.PTS]
		if !s.Keyframe && len(captions) == 0 {
			out = append(out, s)
			continue
		}

		var buf []byte
		if s.Keyframe && len(v.SPSPPS.SPS) > 0 {
			avcc, err := parameterSetsAVCC(v, nalLengthSize, isH265)
			if err != nil {
				return nil, err
			}
			buf = append(buf, avcc...)
		}
		if len(captions) > 0 {
			sei := nal.BuildCaptionSEI(captions)
			buf = appendLength(buf, len(sei), nalLengthSize)
			buf = append(buf, sei...)
		}
		buf = append(buf, raw...)

		rewritten := s
		rewritten.Payload = constPayload(buf)
		out = append(out, rewritten)
	}
	return out, nil
}

// parameterSetsAVCC length-prefixes v's SPS/PPS (and VPS for H.265) the way
// a keyframe's avcC-framed parameter-set prepend must be encoded.
func parameterSetsAVCC(v settings.TrackVideo, nalLengthSize int, isH265 bool) ([]byte, error) {
	var out []byte
	if isH265 && len(v.SPSPPS.VPS) > 0 {
		out = appendLength(out, len(v.SPSPPS.VPS), nalLengthSize)
		out = append(out, v.SPSPPS.VPS...)
	}
	out = appendLength(out, len(v.SPSPPS.SPS), nalLengthSize)
	out = append(out, v.SPSPPS.SPS...)
	out = appendLength(out, len(v.SPSPPS.PPS), nalLengthSize)
	out = append(out, v.SPSPPS.PPS...)
	return out, nil
}

func collectSamples[S any](track media.Media[settings.Sample, S]) ([]settings.Sample, error) {
	a, b := track.Bounds()
	out := make([]settings.Sample, 0, b-a)
	for i := a; i < b; i++ {
		s, err := track.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
