package nal

// seiTypeUserDataRegistered is the SEI payload type carrying ITU-T T.35
// registered user data, which is how CEA-608/708 captions are embedded in
// H.264/H.265 bitstreams (spec.md §4.3 "SEI caption payload splitting").
const seiTypeUserDataRegistered = 4

// itutT35CountryUS is the T.35 itu_t_t35_country_code byte for the United
// States, the prefix every ATSC caption SEI payload carries.
const itutT35CountryUS = 0xB5

// Caption is one extracted caption payload: the raw bytes following the
// one-byte itu_t_t35_country_code, with provider_code and user_identifier
// still at the front.
type Caption struct {
	Data []byte
}

// ExtractCaptions scans the RBSP of a single SEI NAL (payload bytes after
// the one-byte NAL header, with emulation prevention already removed) for
// user-data-registered-itu-t-t35 messages and returns their payloads.
//
// SEI messages are a sequence of (payload_type, payload_size) pairs, each
// encoded as a run of 0xFF bytes followed by a final byte, per Annex D.
func ExtractCaptions(sei []byte) []Caption {
	var out []Caption
	i := 0
	for i < len(sei) {
		payloadType, n := readSEIField(sei, i)
		i += n
		if i >= len(sei) {
			break
		}
		payloadSize, n := readSEIField(sei, i)
		i += n
		if i+payloadSize > len(sei) {
			break
		}
		payload := sei[i : i+payloadSize]
		i += payloadSize

		if payloadType == seiTypeUserDataRegistered && len(payload) > 0 && payload[0] == itutT35CountryUS {
			out = append(out, Caption{Data: append([]byte(nil), payload[1:]...)})
		}

		// rbsp_trailing_bits or padding: a lone 0x80 (and nothing of
		// substance following) ends the message loop early.
		if i < len(sei) && sei[i] == 0x80 {
			break
		}
	}
	return out
}

// readSEIField decodes one ff-byte-extended SEI size/type field starting at
// offset i, returning the accumulated value and the number of bytes
// consumed.
func readSEIField(b []byte, i int) (value, consumed int) {
	for i+consumed < len(b) && b[i+consumed] == 0xFF {
		value += 255
		consumed++
	}
	if i+consumed < len(b) {
		value += int(b[i+consumed])
		consumed++
	}
	return value, consumed
}

// BuildCaptionSEI reassembles extracted caption payloads into a single
// SEI-only NAL, the reverse of ExtractCaptions: each payload is re-wrapped
// as a user-data-registered-itu-t-t35 message (country code byte restored),
// concatenated, and the whole thing is given a NAL header and
// rbsp_trailing_bits (spec.md §4.3 "A fixed-up SEI-only NAL can be rebuilt
// by concatenating these payloads, re-prefixing with NAL header 0x06,
// appending trailing-bits 0x80"). The caller prepends whatever start-code or
// length field its target wire form needs.
func BuildCaptionSEI(captions []Caption) []byte {
	var msgs []byte
	for _, c := range captions {
		payload := append([]byte{itutT35CountryUS}, c.Data...)
		msgs = appendSEIField(msgs, seiTypeUserDataRegistered)
		msgs = appendSEIField(msgs, len(payload))
		msgs = append(msgs, payload...)
	}
	out := make([]byte, 0, 2+len(msgs))
	out = append(out, byte(TypeSEI))
	out = append(out, msgs...)
	out = append(out, 0x80)
	return out
}

// appendSEIField encodes a value as a run of 0xFF bytes followed by the
// remainder, the inverse of readSEIField.
func appendSEIField(dst []byte, v int) []byte {
	for v >= 255 {
		dst = append(dst, 0xFF)
		v -= 255
	}
	return append(dst, byte(v))
}

// StripEmulationPrevention removes 0x03 emulation-prevention bytes that
// follow a 0x00 0x00 sequence within RBSP-encoded NAL payloads.
func StripEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp))
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}
