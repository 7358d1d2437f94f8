package mp4

import (
	"encoding/binary"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
	"github.com/jmylchreest/containerforge/pkg/nal"
	"github.com/jmylchreest/containerforge/pkg/settings"
)

// parseTrak decodes one trak box's tkhd/mdia/minf/stbl/edts chain into a
// ParsedProgressiveTrack, mirroring in reverse the box construction in
// other_examples' mediamtx playback mp4-track.go (marshalSTTS/STSC/STSZ/
// STCO/STSS/CTTS/ELST).
func parseTrak(data []byte, trak box) (ParsedProgressiveTrack, error) {
	children, err := walkBoxes(data, trak.Start, trak.End)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}

	tkhd, ok := findBox(children, "tkhd")
	if !ok {
		return ParsedProgressiveTrack{}, mediaerr.New(mediaerr.Invalid, "mp4.parseTrak", "trak missing tkhd")
	}
	trackID, err := parseTkhdTrackID(data, tkhd)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}

	mdia, ok := findBox(children, "mdia")
	if !ok {
		return ParsedProgressiveTrack{}, mediaerr.New(mediaerr.Invalid, "mp4.parseTrak", "trak missing mdia")
	}
	mdiaChildren, err := walkBoxes(data, mdia.Start, mdia.End)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}

	mdhd, ok := findBox(mdiaChildren, "mdhd")
	if !ok {
		return ParsedProgressiveTrack{}, mediaerr.New(mediaerr.Invalid, "mp4.parseTrak", "mdia missing mdhd")
	}
	timescale, err := parseMdhdTimescale(data, mdhd)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}

	minf, ok := findBox(mdiaChildren, "minf")
	if !ok {
		return ParsedProgressiveTrack{}, mediaerr.New(mediaerr.Invalid, "mp4.parseTrak", "mdia missing minf")
	}
	minfChildren, err := walkBoxes(data, minf.Start, minf.End)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}
	stbl, ok := findBox(minfChildren, "stbl")
	if !ok {
		return ParsedProgressiveTrack{}, mediaerr.New(mediaerr.Invalid, "mp4.parseTrak", "minf missing stbl")
	}
	stblChildren, err := walkBoxes(data, stbl.Start, stbl.End)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}

	stsd, ok := findBox(stblChildren, "stsd")
	if !ok {
		return ParsedProgressiveTrack{}, mediaerr.New(mediaerr.Invalid, "mp4.parseTrak", "stbl missing stsd")
	}
	video, audio, err := parseStsd(data, stsd)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}
	if video != nil {
		video.Timescale = timescale
		orientation, err := parseTkhdOrientation(data, tkhd)
		if err != nil {
			return ParsedProgressiveTrack{}, err
		}
		video.Orientation = orientation
	}
	if audio != nil {
		audio.Timescale = timescale
	}

	durations, err := parseDurationsFromSTTS(data, stblChildren)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}
	sizes, err := parseSizesFromSTSZ(data, stblChildren)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}
	offsets, err := parseOffsetsFromSTSCandChunks(data, stblChildren, len(sizes))
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}
	syncSamples, err := parseSyncSamplesFromSTSS(data, stblChildren)
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}
	ptsOffsets, err := parseCompositionOffsetsFromCTTS(data, stblChildren, len(sizes))
	if err != nil {
		return ParsedProgressiveTrack{}, err
	}

	if len(durations) != len(sizes) || len(offsets) != len(sizes) {
		return ParsedProgressiveTrack{}, mediaerr.New(mediaerr.Invalid, "mp4.parseTrak", "sample table entry counts disagree")
	}

	samples := make([]ParsedProgressiveSample, len(sizes))
	var dts int64
	for i := range sizes {
		keyframe := syncSamples == nil || syncSamples[i]
		samples[i] = ParsedProgressiveSample{
			Offset:   offsets[i],
			Size:     sizes[i],
			DTS:      dts,
			PTS:      dts + int64(ptsOffsets[i]),
			Keyframe: keyframe,
		}
		dts += int64(durations[i])
	}

	var edits []settings.Edit
	if edts, ok := findBox(children, "edts"); ok {
		edtsChildren, err := walkBoxes(data, edts.Start, edts.End)
		if err != nil {
			return ParsedProgressiveTrack{}, err
		}
		if elst, ok := findBox(edtsChildren, "elst"); ok {
			edits, err = parseElst(data, elst)
			if err != nil {
				return ParsedProgressiveTrack{}, err
			}
		}
	}

	return ParsedProgressiveTrack{
		ID:        trackID,
		TimeScale: timescale,
		Video:     video,
		Audio:     audio,
		Edits:     edits,
		Samples:   samples,
	}, nil
}

func parseTkhdTrackID(data []byte, b box) (int, error) {
	if b.End-b.Start < 4 {
		return 0, mediaerr.New(mediaerr.Invalid, "mp4.parseTkhdTrackID", "truncated tkhd")
	}
	version := data[b.Start]
	var at int
	if version == 1 {
		at = b.Start + 4 + 8 + 8
	} else {
		at = b.Start + 4 + 4 + 4
	}
	if at+4 > b.End {
		return 0, mediaerr.New(mediaerr.Invalid, "mp4.parseTkhdTrackID", "truncated tkhd track_ID")
	}
	return int(binary.BigEndian.Uint32(data[at : at+4])), nil
}

// tkhd's 3x3 transformation matrix sits after track_ID/reserved/duration
// (version-dependent width) plus reserved(8)+layer(2)+alternate_group(2)+
// volume(2)+reserved(2) = 16 more bytes, per ISO/IEC 14496-12 8.3.2.
func parseTkhdOrientation(data []byte, b box) (settings.Orientation, error) {
	if b.End-b.Start < 1 {
		return settings.Landscape, mediaerr.New(mediaerr.Invalid, "mp4.parseTkhdOrientation", "truncated tkhd")
	}
	version := data[b.Start]
	var matrixStart int
	if version == 1 {
		matrixStart = b.Start + 4 + 8 + 8 + 4 + 4 + 8 + 16
	} else {
		matrixStart = b.Start + 4 + 4 + 4 + 4 + 4 + 4 + 16
	}
	if matrixStart+36 > b.End {
		return settings.Landscape, mediaerr.New(mediaerr.Invalid, "mp4.parseTkhdOrientation", "truncated tkhd matrix")
	}
	var m [9]int32
	for i := range m {
		m[i] = int32(binary.BigEndian.Uint32(data[matrixStart+i*4 : matrixStart+i*4+4]))
	}
	// Orientation is determined by the rotation submatrix [a,b,d,e] and the
	// fixed w=1.0 (2.30) entry only; c, f (always 0) and the translation
	// g, h are ignored since they don't affect which cardinal rotation this
	// is (spec.md §4.4 step 1, §4.6's orientation/matrix table).
	const one16 = 0x00010000
	sub := [5]int32{m[0], m[1], m[3], m[4], m[8]}
	identity := [5]int32{one16, 0, 0, one16, 0x40000000}
	rot90 := [5]int32{0, one16, -one16, 0, 0x40000000}
	rot180 := [5]int32{-one16, 0, 0, -one16, 0x40000000}
	rot270 := [5]int32{0, -one16, one16, 0, 0x40000000}
	switch sub {
	case identity:
		return settings.Landscape, nil
	case rot90:
		return settings.Portrait, nil
	case rot180:
		return settings.LandscapeReverse, nil
	case rot270:
		return settings.PortraitReverse, nil
	default:
		return settings.Landscape, mediaerr.New(mediaerr.Unsupported, "mp4.parseTkhdOrientation", "non-cardinal transformation matrix")
	}
}

func parseMdhdTimescale(data []byte, b box) (uint32, error) {
	if b.End-b.Start < 4 {
		return 0, mediaerr.New(mediaerr.Invalid, "mp4.parseMdhdTimescale", "truncated mdhd")
	}
	version := data[b.Start]
	var at int
	if version == 1 {
		at = b.Start + 4 + 8 + 8
	} else {
		at = b.Start + 4 + 4 + 4
	}
	if at+4 > b.End {
		return 0, mediaerr.New(mediaerr.Invalid, "mp4.parseMdhdTimescale", "truncated mdhd timescale")
	}
	return binary.BigEndian.Uint32(data[at : at+4]), nil
}

func parseDurationsFromSTTS(data []byte, stbl []box) ([]uint32, error) {
	stts, ok := findBox(stbl, "stts")
	if !ok {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseDurationsFromSTTS", "stbl missing stts")
	}
	_, _, at := fullBoxVersionFlags(data, stts.Start)
	if at+4 > stts.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseDurationsFromSTTS", "truncated stts")
	}
	entryCount := binary.BigEndian.Uint32(data[at : at+4])
	at += 4
	var out []uint32
	for i := uint32(0); i < entryCount; i++ {
		if at+8 > stts.End {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseDurationsFromSTTS", "truncated stts entry")
		}
		count := binary.BigEndian.Uint32(data[at : at+4])
		delta := binary.BigEndian.Uint32(data[at+4 : at+8])
		at += 8
		for j := uint32(0); j < count; j++ {
			out = append(out, delta)
		}
	}
	return out, nil
}

func parseSizesFromSTSZ(data []byte, stbl []box) ([]int64, error) {
	stsz, ok := findBox(stbl, "stsz")
	if !ok {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseSizesFromSTSZ", "stbl missing stsz")
	}
	_, _, at := fullBoxVersionFlags(data, stsz.Start)
	if at+8 > stsz.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseSizesFromSTSZ", "truncated stsz")
	}
	sampleSize := binary.BigEndian.Uint32(data[at : at+4])
	sampleCount := binary.BigEndian.Uint32(data[at+4 : at+8])
	at += 8
	out := make([]int64, sampleCount)
	if sampleSize != 0 {
		for i := range out {
			out[i] = int64(sampleSize)
		}
		return out, nil
	}
	for i := range out {
		if at+4 > stsz.End {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseSizesFromSTSZ", "truncated stsz entry")
		}
		out[i] = int64(binary.BigEndian.Uint32(data[at : at+4]))
		at += 4
	}
	return out, nil
}

type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
}

func parseOffsetsFromSTSCandChunks(data []byte, stbl []box, sampleCount int) ([]int64, error) {
	stsc, ok := findBox(stbl, "stsc")
	if !ok {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseOffsetsFromSTSCandChunks", "stbl missing stsc")
	}
	_, _, at := fullBoxVersionFlags(data, stsc.Start)
	if at+4 > stsc.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseOffsetsFromSTSCandChunks", "truncated stsc")
	}
	entryCount := binary.BigEndian.Uint32(data[at : at+4])
	at += 4
	entries := make([]stscEntry, entryCount)
	for i := range entries {
		if at+12 > stsc.End {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseOffsetsFromSTSCandChunks", "truncated stsc entry")
		}
		entries[i] = stscEntry{
			firstChunk:      binary.BigEndian.Uint32(data[at : at+4]),
			samplesPerChunk: binary.BigEndian.Uint32(data[at+4 : at+8]),
		}
		at += 12
	}

	var chunkOffsets []int64
	is64 := false
	cb, ok := findBox(stbl, "stco")
	if !ok {
		cb, ok = findBox(stbl, "co64")
		is64 = true
		if !ok {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseOffsetsFromSTSCandChunks", "stbl missing stco/co64")
		}
	}
	_, _, cat := fullBoxVersionFlags(data, cb.Start)
	if cat+4 > cb.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseOffsetsFromSTSCandChunks", "truncated chunk offset box")
	}
	chunkCount := binary.BigEndian.Uint32(data[cat : cat+4])
	cat += 4
	width := 4
	if is64 {
		width = 8
	}
	chunkOffsets = make([]int64, chunkCount)
	for i := range chunkOffsets {
		if cat+width > cb.End {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseOffsetsFromSTSCandChunks", "truncated chunk offset entry")
		}
		if is64 {
			chunkOffsets[i] = int64(binary.BigEndian.Uint64(data[cat : cat+8]))
		} else {
			chunkOffsets[i] = int64(binary.BigEndian.Uint32(data[cat : cat+4]))
		}
		cat += width
	}

	out := make([]int64, 0, sampleCount)
	for chunkIdx := 0; chunkIdx < len(chunkOffsets); chunkIdx++ {
		chunkNum := uint32(chunkIdx + 1)
		samplesPerChunk := entries[len(entries)-1].samplesPerChunk
		for i := len(entries) - 1; i >= 0; i-- {
			if chunkNum >= entries[i].firstChunk {
				samplesPerChunk = entries[i].samplesPerChunk
				break
			}
		}
		runOffset := chunkOffsets[chunkIdx]
		for s := uint32(0); s < samplesPerChunk && len(out) < sampleCount; s++ {
			out = append(out, runOffset)
		}
	}
	// fix up within-chunk running offsets using sample sizes is done by the
	// caller cross-referencing stsz; here we only resolve chunk start offsets
	// and let the caller accumulate intra-chunk byte positions.
	return accumulateIntraChunkOffsets(data, stbl, out, sampleCount)
}

// accumulateIntraChunkOffsets rewrites each sample's chunk-start offset into
// its true byte offset by adding the running size of preceding samples in
// the same chunk.
func accumulateIntraChunkOffsets(data []byte, stbl []box, chunkStarts []int64, sampleCount int) ([]int64, error) {
	sizes, err := parseSizesFromSTSZ(data, stbl)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(chunkStarts))
	copy(out, chunkStarts)
	for i := 1; i < len(out) && i < sampleCount; i++ {
		// Same chunk start as the previous sample means same chunk: the true
		// offset is the previous sample's resolved offset plus its size.
		if chunkStarts[i] == chunkStarts[i-1] {
			out[i] = out[i-1] + sizes[i-1]
		}
	}
	return out, nil
}

func parseSyncSamplesFromSTSS(data []byte, stbl []box) (map[int]bool, error) {
	stss, ok := findBox(stbl, "stss")
	if !ok {
		return nil, nil
	}
	_, _, at := fullBoxVersionFlags(data, stss.Start)
	if at+4 > stss.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseSyncSamplesFromSTSS", "truncated stss")
	}
	entryCount := binary.BigEndian.Uint32(data[at : at+4])
	at += 4
	out := make(map[int]bool, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		if at+4 > stss.End {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseSyncSamplesFromSTSS", "truncated stss entry")
		}
		sampleNumber := binary.BigEndian.Uint32(data[at : at+4])
		at += 4
		out[int(sampleNumber)-1] = true
	}
	return out, nil
}

func parseCompositionOffsetsFromCTTS(data []byte, stbl []box, sampleCount int) ([]int32, error) {
	out := make([]int32, sampleCount)
	ctts, ok := findBox(stbl, "ctts")
	if !ok {
		return out, nil
	}
	_, _, at := fullBoxVersionFlags(data, ctts.Start)
	if at+4 > ctts.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseCompositionOffsetsFromCTTS", "truncated ctts")
	}
	entryCount := binary.BigEndian.Uint32(data[at : at+4])
	at += 4
	idx := 0
	for i := uint32(0); i < entryCount; i++ {
		if at+8 > ctts.End {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseCompositionOffsetsFromCTTS", "truncated ctts entry")
		}
		count := binary.BigEndian.Uint32(data[at : at+4])
		raw := binary.BigEndian.Uint32(data[at+4 : at+8])
		at += 8
		// ctts version-1 entries are signed by spec; version-0 entries are
		// nominally unsigned, but some encoders write a small negative
		// int16 offset's bit pattern into the uint32 field, which this
		// reinterprets as a sign-extended int32 rather than a multi-hour
		// positive composition offset.
		offset := int32(raw)
		for j := uint32(0); j < count && idx < len(out); j++ {
			out[idx] = offset
			idx++
		}
	}
	return out, nil
}

func parseElst(data []byte, b box) ([]settings.Edit, error) {
	version, _, at := fullBoxVersionFlags(data, b.Start)
	if at+4 > b.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseElst", "truncated elst")
	}
	entryCount := binary.BigEndian.Uint32(data[at : at+4])
	at += 4
	out := make([]settings.Edit, entryCount)
	for i := range out {
		var duration uint64
		var mediaTime int64
		if version == 1 {
			if at+20 > b.End {
				return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseElst", "truncated elst v1 entry")
			}
			duration = binary.BigEndian.Uint64(data[at : at+8])
			mediaTime = int64(binary.BigEndian.Uint64(data[at+8 : at+16]))
			at += 16
		} else {
			if at+12 > b.End {
				return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseElst", "truncated elst v0 entry")
			}
			duration = uint64(binary.BigEndian.Uint32(data[at : at+4]))
			mediaTime = int64(int32(binary.BigEndian.Uint32(data[at+4 : at+8])))
			at += 8
		}
		rateInt := int16(binary.BigEndian.Uint16(data[at : at+2]))
		at += 4 // rate (16.16 fixed, integer part read; fraction skipped)
		start := mediaTime
		if mediaTime < 0 {
			start = settings.EmptyEdit
		}
		out[i] = settings.Edit{StartPTS: start, Duration: duration, Rate: float64(rateInt)}
	}
	return out, nil
}

func parseStsd(data []byte, b box) (*settings.TrackVideo, *settings.TrackAudio, error) {
	at := b.Start + 4 // version/flags
	if at+4 > b.End {
		return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "truncated stsd")
	}
	entryCount := binary.BigEndian.Uint32(data[at : at+4])
	at += 4
	if entryCount == 0 {
		return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "stsd has no sample entries")
	}
	if at+8 > b.End {
		return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "truncated sample entry header")
	}
	entrySize := binary.BigEndian.Uint32(data[at : at+4])
	format := string(data[at+4 : at+8])
	entryEnd := at + int(entrySize)
	if entryEnd > b.End {
		return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "sample entry exceeds stsd bounds")
	}

	switch format {
	case "avc1", "avc3", "hev1", "hvc1":
		const visualSampleEntryFixed = 78
		// VisualSampleEntry (ISO/IEC 14496-12 §12.1.3): 8-byte SampleEntry
		// base + pre_defined(2) + reserved(2) + pre_defined[3](12), then
		// width(2)/height(2) as plain uint16, matching other_examples'
		// mediamtx mp4-track.go writer (width/height derived from the SPS at
		// marshal time and written verbatim into this field).
		widthAt := at + 8 + 8 + 2 + 2 + 12 // box header + SampleEntry base + fields above
		if widthAt+4 > entryEnd {
			return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "truncated visual sample entry")
		}
		codedWidth := uint32(binary.BigEndian.Uint16(data[widthAt : widthAt+2]))
		codedHeight := uint32(binary.BigEndian.Uint16(data[widthAt+2 : widthAt+4]))

		childStart := at + 8 + visualSampleEntryFixed
		children, err := walkBoxes(data, childStart, entryEnd)
		if err != nil {
			return nil, nil, err
		}
		if format == "avc1" || format == "avc3" {
			avcc, ok := findBox(children, "avcC")
			if !ok {
				return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "avc1 missing avcC")
			}
			sps, pps, nalLengthSize, err := parseAvcC(data, avcc)
			if err != nil {
				return nil, nil, err
			}
			return &settings.TrackVideo{
				Codec: settings.VideoH264, CodedWidth: codedWidth, CodedHeight: codedHeight,
				SPSPPS: settings.SPSPPS{SPS: sps, PPS: pps, NALLengthSize: nalLengthSize},
			}, nil, nil
		}
		hvcc, ok := findBox(children, "hvcC")
		if !ok {
			return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "hev1/hvc1 missing hvcC")
		}
		vps, sps, pps, nalLengthSize, err := parseHvcC(data, hvcc)
		if err != nil {
			return nil, nil, err
		}
		return &settings.TrackVideo{
			Codec: settings.VideoH265, CodedWidth: codedWidth, CodedHeight: codedHeight,
			SPSPPS: settings.SPSPPS{VPS: vps, SPS: sps, PPS: pps, NALLengthSize: nalLengthSize},
		}, nil, nil

	case "mp4a":
		fixed, err := parseAudioSampleEntryFixed(data, at+8, entryEnd)
		if err != nil {
			return nil, nil, err
		}
		children, err := walkBoxes(data, fixed.childStart, entryEnd)
		if err != nil {
			return nil, nil, err
		}
		esds, ok := findBox(children, "esds")
		if !ok {
			return nil, nil, mediaerr.New(mediaerr.Invalid, "mp4.parseStsd", "mp4a missing esds")
		}
		asc, err := parseEsdsASC(data, esds)
		if err != nil {
			return nil, nil, err
		}
		cfg, sbr, err := nal.UnmarshalASC(asc)
		if err != nil {
			return nil, nil, err
		}
		codec := settings.AudioAACLC
		sampleRate := uint32(cfg.SampleRate)
		if sbr.Present {
			codec = settings.AudioAACLCSBR
			sampleRate = uint32(sbr.ExtensionSampleRate)
		}
		return nil, &settings.TrackAudio{Codec: codec, SampleRate: sampleRate, Channels: uint8(cfg.ChannelCount)}, nil

	case "sowt", "twos", "in24", "in32", "lpcm":
		return parsePCMStsd(data, format, at+8, entryEnd)

	default:
		return nil, nil, mediaerr.New(mediaerr.Unsupported, "mp4.parseStsd", "unrecognized sample entry format "+format)
	}
}

// audioSampleEntryFixed is the byte layout shared by every QuickTime/ISO-BMFF
// audio sample entry, decoded per the classic QTFF SoundDescription (version
// 0/1/2) — ISO's AudioSampleEntry is version 0's field layout under
// different names (compression_id/packet_size alias pre_defined/reserved),
// confirmed by cross-reading the entry layout spec.md §4.4 step 3 requires
// ("QuickTime format-flags blob (big/little endian, packed, signed)") the
// classic QT version-2 struct is the only one that carries.
type audioSampleEntryFixed struct {
	version      uint16
	channels     uint16
	sampleSize   uint16
	sampleRate   uint32 // 16.16 fixed
	childStart   int
	littleEndian bool // only meaningful when version == 2 (from formatSpecificFlags)
	bitDepth     int  // only meaningful when version == 2 (from constBitsPerChannel)
}

func parseAudioSampleEntryFixed(data []byte, at, end int) (audioSampleEntryFixed, error) {
	// SampleEntry base: reserved[6] + data_reference_index(2) = 8 bytes.
	at += 8
	if at+20 > end {
		return audioSampleEntryFixed{}, mediaerr.New(mediaerr.Invalid, "mp4.parseAudioSampleEntryFixed", "truncated audio sample entry")
	}
	version := binary.BigEndian.Uint16(data[at : at+2])
	// revisionLevel(2) + vendor(4) skipped.
	channels := binary.BigEndian.Uint16(data[at+8 : at+10])
	sampleSize := binary.BigEndian.Uint16(data[at+10 : at+12])
	// compression_id/packet_size (2+2) skipped.
	sampleRate := binary.BigEndian.Uint32(data[at+16 : at+20])
	at += 20

	out := audioSampleEntryFixed{version: version, channels: channels, sampleSize: sampleSize, sampleRate: sampleRate}
	switch version {
	case 1:
		at += 16 // samplesPerPacket, bytesPerPacket, bytesPerFrame, bytesPerSample
	case 2:
		if at+4 > end {
			return audioSampleEntryFixed{}, mediaerr.New(mediaerr.Invalid, "mp4.parseAudioSampleEntryFixed", "truncated v2 sizeOfStructOnly")
		}
		sizeOfStructOnly := int(binary.BigEndian.Uint32(data[at : at+4]))
		structStart := at + 4
		if structStart+28 > end {
			return audioSampleEntryFixed{}, mediaerr.New(mediaerr.Invalid, "mp4.parseAudioSampleEntryFixed", "truncated v2 sound description")
		}
		// audioSampleRate: 8-byte double, numAudioChannels(4), always7F000000(4).
		out.channels = uint16(binary.BigEndian.Uint32(data[structStart+8 : structStart+12]))
		out.bitDepth = int(binary.BigEndian.Uint32(data[structStart+16 : structStart+20]))
		flags := binary.BigEndian.Uint32(data[structStart+20 : structStart+24])
		out.littleEndian = flags&0x2 == 0 // kLinearPCMFormatFlagIsBigEndian unset => little-endian
		at = structStart + sizeOfStructOnly
	}
	out.childStart = at
	return out, nil
}

// parsePCMStsd decodes the raw-PCM sample-entry variants (spec.md §4.4 step
// 3 "PCM variants are distinguished by the sample-entry code... and, for
// in24/lpcm, by the QuickTime format-flags blob"). sowt/twos take their bit
// depth from the entry's sampleSize field and their endianness from the
// format code itself (sowt=little, twos=big); in24/in32 default to big-endian unless a 'wave'
// child atom's 'enda' sub-atom says otherwise; lpcm relies entirely on the
// version-2 struct's formatSpecificFlags/constBitsPerChannel.
func parsePCMStsd(data []byte, format string, at, end int) (*settings.TrackVideo, *settings.TrackAudio, error) {
	fixed, err := parseAudioSampleEntryFixed(data, at, end)
	if err != nil {
		return nil, nil, err
	}

	var bitDepth int
	var littleEndian bool
	switch format {
	case "sowt":
		bitDepth, littleEndian = int(fixed.sampleSize), true
	case "twos":
		bitDepth, littleEndian = int(fixed.sampleSize), false
	case "in24", "in32":
		bitDepth, littleEndian = 24, false
		if format == "in32" {
			bitDepth = 32
		}
		if children, werr := walkBoxes(data, fixed.childStart, end); werr == nil {
			if wave, ok := findBox(children, "wave"); ok {
				if waveChildren, werr2 := walkBoxes(data, wave.Start, wave.End); werr2 == nil {
					if enda, ok := findBox(waveChildren, "enda"); ok && enda.End-enda.Start >= 2 {
						littleEndian = binary.BigEndian.Uint16(data[enda.Start:enda.Start+2]) != 0
					}
				}
			}
		}
	case "lpcm":
		bitDepth, littleEndian = fixed.bitDepth, fixed.littleEndian
		if bitDepth == 0 {
			bitDepth = int(fixed.sampleSize)
		}
	}

	codec := pcmCodecFor(bitDepth, littleEndian)
	return nil, &settings.TrackAudio{Codec: codec, SampleRate: fixed.sampleRate >> 16, Channels: uint8(fixed.channels)}, nil
}

// parseAvcC decodes an avcC box body per spec.md §4.4 step 2: 1-byte
// version, profile, compatibility, level, a 2-bit NALU-length-minus-one
// (must be 1 or 3), exactly one SPS, exactly one PPS. Multiple or zero
// SPS/PPS entries are refused rather than silently keeping only the first.
func parseAvcC(data []byte, b box) (sps, pps []byte, nalLengthSize int, err error) {
	at := b.Start
	if at+6 > b.End {
		return nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseAvcC", "truncated avcC header")
	}
	lengthSizeMinusOne := data[at+4] & 0x03
	if lengthSizeMinusOne != 1 && lengthSizeMinusOne != 3 {
		return nil, nil, 0, mediaerr.New(mediaerr.Unsupported, "mp4.parseAvcC", "NALU length size must be 2 or 4 bytes")
	}
	nalLengthSize = int(lengthSizeMinusOne) + 1
	numSPS := int(data[at+5] & 0x1f)
	if numSPS != 1 {
		return nil, nil, 0, mediaerr.New(mediaerr.Unsupported, "mp4.parseAvcC", "avcC must carry exactly one SPS")
	}
	at += 6
	for i := 0; i < numSPS; i++ {
		if at+2 > b.End {
			return nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseAvcC", "truncated SPS length")
		}
		n := int(binary.BigEndian.Uint16(data[at : at+2]))
		at += 2
		if at+n > b.End {
			return nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseAvcC", "truncated SPS payload")
		}
		sps = append([]byte(nil), data[at:at+n]...)
		at += n
	}
	if at+1 > b.End {
		return nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseAvcC", "truncated PPS count")
	}
	numPPS := int(data[at])
	if numPPS != 1 {
		return nil, nil, 0, mediaerr.New(mediaerr.Unsupported, "mp4.parseAvcC", "avcC must carry exactly one PPS")
	}
	at++
	for i := 0; i < numPPS; i++ {
		if at+2 > b.End {
			return nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseAvcC", "truncated PPS length")
		}
		n := int(binary.BigEndian.Uint16(data[at : at+2]))
		at += 2
		if at+n > b.End {
			return nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseAvcC", "truncated PPS payload")
		}
		pps = append([]byte(nil), data[at:at+n]...)
		at += n
	}
	return sps, pps, nalLengthSize, nil
}

// hvcC NAL unit array types we care about (ITU-T H.265 Annex B.2.2).
const (
	hevcNALVPS = 32
	hevcNALSPS = 33
	hevcNALPPS = 34
)

func parseHvcC(data []byte, b box) (vps, sps, pps []byte, nalLengthSize int, err error) {
	at := b.Start + 22 // fixed hvcC header up to numOfArrays
	if at+1 > b.End {
		return nil, nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseHvcC", "truncated hvcC header")
	}
	lengthSizeMinusOne := data[b.Start+21] & 0x03
	if lengthSizeMinusOne != 1 && lengthSizeMinusOne != 3 {
		return nil, nil, nil, 0, mediaerr.New(mediaerr.Unsupported, "mp4.parseHvcC", "NALU length size must be 2 or 4 bytes")
	}
	nalLengthSize = int(lengthSizeMinusOne) + 1
	numArrays := int(data[at])
	at++
	for i := 0; i < numArrays; i++ {
		if at+3 > b.End {
			return nil, nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseHvcC", "truncated NAL array header")
		}
		nalType := data[at] & 0x3f
		numNalus := int(binary.BigEndian.Uint16(data[at+1 : at+3]))
		at += 3
		for j := 0; j < numNalus; j++ {
			if at+2 > b.End {
				return nil, nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseHvcC", "truncated NAL length")
			}
			n := int(binary.BigEndian.Uint16(data[at : at+2]))
			at += 2
			if at+n > b.End {
				return nil, nil, nil, 0, mediaerr.New(mediaerr.Invalid, "mp4.parseHvcC", "truncated NAL payload")
			}
			payload := data[at : at+n]
			switch nalType {
			case hevcNALVPS:
				if vps == nil {
					vps = append([]byte(nil), payload...)
				}
			case hevcNALSPS:
				if sps == nil {
					sps = append([]byte(nil), payload...)
				}
			case hevcNALPPS:
				if pps == nil {
					pps = append([]byte(nil), payload...)
				}
			}
			at += n
		}
	}
	return vps, sps, pps, nalLengthSize, nil
}

// parseEsdsASC extracts the raw AudioSpecificConfig bytes from an esds box's
// ES_Descriptor(3) > DecoderConfigDescriptor(4) > DecoderSpecificInfo(5)
// chain, per ISO/IEC 14496-1's descriptor tag/length-varint encoding.
func parseEsdsASC(data []byte, b box) ([]byte, error) {
	at := b.Start + 4 // version/flags
	tag, length, at, err := readDescriptorHeader(data, at, b.End)
	if err != nil {
		return nil, err
	}
	if tag != 0x03 {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseEsdsASC", "esds missing ES_Descriptor")
	}
	esEnd := at + length
	at += 2 // ES_ID
	flags := data[at]
	at++
	if flags&0x80 != 0 {
		at += 2
	}
	if flags&0x40 != 0 {
		at += 1 + int(data[at])
	}
	if flags&0x20 != 0 {
		at += 2
	}

	tag, length, at, err = readDescriptorHeader(data, at, esEnd)
	if err != nil {
		return nil, err
	}
	if tag != 0x04 {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseEsdsASC", "esds missing DecoderConfigDescriptor")
	}
	dcdEnd := at + length
	at += 13 // objectTypeIndication, streamType+upStream+reserved, bufferSizeDB(3), maxBitrate(4), avgBitrate(4)

	tag, length, at, err = readDescriptorHeader(data, at, dcdEnd)
	if err != nil {
		return nil, err
	}
	if tag != 0x05 {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseEsdsASC", "esds missing DecoderSpecificInfo")
	}
	if at+length > b.End {
		return nil, mediaerr.New(mediaerr.Invalid, "mp4.parseEsdsASC", "DecoderSpecificInfo exceeds esds bounds")
	}
	return append([]byte(nil), data[at:at+length]...), nil
}

func readDescriptorHeader(data []byte, at, end int) (tag byte, length int, next int, err error) {
	if at+2 > end {
		return 0, 0, 0, mediaerr.New(mediaerr.Invalid, "mp4.readDescriptorHeader", "truncated descriptor")
	}
	tag = data[at]
	at++
	length = 0
	for {
		if at >= end {
			return 0, 0, 0, mediaerr.New(mediaerr.Invalid, "mp4.readDescriptorHeader", "truncated descriptor length")
		}
		b := data[at]
		at++
		length = length<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return tag, length, at, nil
}
