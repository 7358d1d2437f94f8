package mp4

import (
	"encoding/binary"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// box is one parsed ISO-BMFF box header plus its payload bounds, used by the
// hand-rolled classic (progressive moov/stbl) reader. No confirmed
// mediacommon/go-mp4 call in the retrieval pack reads a classic sample
// table back into track/sample data (the pack's only read-side examples
// target fragmented init/moof segments via fmp4.Init/fmp4.Parts), so the
// box walk below is written directly against ISO/IEC 14496-12 §4.2.
type box struct {
	Type         string
	Start        int // offset of box payload (after header)
	End          int // offset just past box payload
	HeaderLength int
}

// walkBoxes iterates the top-level boxes in data[start:end].
func walkBoxes(data []byte, start, end int) ([]box, error) {
	var out []box
	i := start
	for i < end {
		if i+8 > end {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.walkBoxes", "truncated box header")
		}
		size := uint64(binary.BigEndian.Uint32(data[i : i+4]))
		boxType := string(data[i+4 : i+8])
		header := 8
		if size == 1 {
			if i+16 > end {
				return nil, mediaerr.New(mediaerr.Invalid, "mp4.walkBoxes", "truncated largesize box header")
			}
			size = binary.BigEndian.Uint64(data[i+8 : i+16])
			header = 16
		} else if size == 0 {
			size = uint64(end - i)
		}
		if size < uint64(header) || i+int(size) > end {
			return nil, mediaerr.New(mediaerr.Invalid, "mp4.walkBoxes", "box size out of range")
		}
		out = append(out, box{
			Type:         boxType,
			Start:        i + header,
			End:          i + int(size),
			HeaderLength: header,
		})
		i += int(size)
	}
	return out, nil
}

// findBox returns the first box of the given type at this level.
func findBox(boxes []box, boxType string) (box, bool) {
	for _, b := range boxes {
		if b.Type == boxType {
			return b, true
		}
	}
	return box{}, false
}

// fullBoxVersionFlags reads the 1-byte version + 3-byte flags header every
// "full box" (stsd, stts, elst, ...) carries immediately after its type.
func fullBoxVersionFlags(data []byte, at int) (version byte, flags uint32, next int) {
	version = data[at]
	flags = uint32(data[at+1])<<16 | uint32(data[at+2])<<8 | uint32(data[at+3])
	return version, flags, at + 4
}
