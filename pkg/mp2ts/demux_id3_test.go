package mp2ts

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/containerforge/pkg/settings"
)

// tsPacket frames payload into one 188-byte TS packet, using adaptation-
// field stuffing to fill the remainder the way real muxers do.
func tsPacket(pid uint16, pusi bool, payload []byte) []byte {
	pkt := make([]byte, 0, tsPacketSize)
	b1 := byte(pid >> 8 & 0x1F)
	if pusi {
		b1 |= 0x40
	}
	stuffing := tsPacketSize - 4 - len(payload)
	afc := byte(0x10) // payload only
	if stuffing > 0 {
		afc = 0x30 // adaptation field + payload
	}
	pkt = append(pkt, tsSyncByte, b1, byte(pid), afc)
	if stuffing > 0 {
		afLen := stuffing - 1
		pkt = append(pkt, byte(afLen))
		if afLen > 0 {
			pkt = append(pkt, 0x00) // adaptation flags
			for i := 1; i < afLen; i++ {
				pkt = append(pkt, 0xFF)
			}
		}
	}
	return append(pkt, payload...)
}

func patSection(pmtPID uint16) []byte {
	section := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_length = 13
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00, // version/current, section, last
		0x00, 0x01, // program_number
		0xE0 | byte(pmtPID>>8), byte(pmtPID), // PMT PID
		0x00, 0x00, 0x00, 0x00, // CRC (unchecked)
	}
	return append([]byte{0x00}, section...) // pointer_field
}

func pmtSection(metadataPID uint16) []byte {
	section := []byte{
		0x02,       // table_id
		0xB0, 0x12, // section_length = 18
		0x00, 0x01, // program_number
		0xC1, 0x00, 0x00, // version/current, section, last
		0xE0 | byte(metadataPID>>8), byte(metadataPID), // PCR PID
		0xF0, 0x00, // program_info_length = 0
		streamTypeMetadata,
		0xE0 | byte(metadataPID>>8), byte(metadataPID),
		0xF0, 0x00, // ES_info_length = 0
		0x00, 0x00, 0x00, 0x00, // CRC (unchecked)
	}
	return append([]byte{0x00}, section...) // pointer_field
}

func pesWithPTS(pts int64, body []byte) []byte {
	out := []byte{
		0x00, 0x00, 0x01, 0xBD, // start code + private_stream_1
		0x00, 0x00, // PES_packet_length (unchecked)
		0x80, 0x80, // flags: PTS present
		0x05, // PES_header_data_length
		byte(0x21 | (pts>>30&0x07)<<1),
		byte(pts >> 22),
		byte(0x01 | (pts>>15&0x7F)<<1),
		byte(pts >> 7),
		byte(0x01 | (pts&0x7F)<<1),
	}
	return append(out, body...)
}

func TestScanTimedID3PassesPayloadThroughUnparsed(t *testing.T) {
	const pmtPID, id3PID = 0x20, 0x21
	id3 := []byte("ID3\x04\x00\x00\x00\x00\x00\x0atimed-tag")

	var ts []byte
	ts = append(ts, tsPacket(patPID, true, patSection(pmtPID))...)
	ts = append(ts, tsPacket(pmtPID, true, pmtSection(id3PID))...)
	ts = append(ts, tsPacket(id3PID, true, pesWithPTS(900, id3))...)

	d := &Demuxer{logger: slog.Default()}
	d.scanTimedID3(ts)

	track, ok := d.DataTrack()
	require.True(t, ok)
	require.EqualValues(t, 1, track.Len())
	require.Equal(t, "id3", track.Settings().Codec)

	s, err := track.Get(0)
	require.NoError(t, err)
	require.Equal(t, settings.Data, s.Kind)
	require.EqualValues(t, 900, s.PTS)

	payload, err := s.Payload()
	require.NoError(t, err)
	defer payload.Close()
	require.Equal(t, id3, payload.Bytes())
}

// A PES payload continued across two TS packets reassembles into one data
// sample.
func TestScanTimedID3ReassemblesAcrossPackets(t *testing.T) {
	const pmtPID, id3PID = 0x20, 0x21
	head := []byte("ID3\x04\x00\x00\x00\x00\x01\x00")
	tail := make([]byte, 184)
	for i := range tail {
		tail[i] = byte(i)
	}

	var ts []byte
	ts = append(ts, tsPacket(patPID, true, patSection(pmtPID))...)
	ts = append(ts, tsPacket(pmtPID, true, pmtSection(id3PID))...)
	ts = append(ts, tsPacket(id3PID, true, pesWithPTS(1800, head))...)
	ts = append(ts, tsPacket(id3PID, false, tail)...)

	d := &Demuxer{logger: slog.Default()}
	d.scanTimedID3(ts)

	track, ok := d.DataTrack()
	require.True(t, ok)
	require.EqualValues(t, 1, track.Len())

	s, err := track.Get(0)
	require.NoError(t, err)
	payload, err := s.Payload()
	require.NoError(t, err)
	defer payload.Close()
	require.Equal(t, append(append([]byte(nil), head...), tail...), payload.Bytes())
}

func TestScanTimedID3IgnoresStreamsWithoutMetadata(t *testing.T) {
	const pmtPID = 0x20
	var ts []byte
	ts = append(ts, tsPacket(patPID, true, patSection(pmtPID))...)

	d := &Demuxer{logger: slog.Default()}
	d.scanTimedID3(ts)

	_, ok := d.DataTrack()
	require.False(t, ok)
}
