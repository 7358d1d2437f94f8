package nal

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/containerforge/internal/mediaerr"
)

// Dimensions is the coded (cropped) picture size plus the pixel aspect ratio
// sample_aspect_ratio signals, as needed by settings.DeriveDisplayDimensions.
type Dimensions struct {
	Width, Height     int
	ParWidth, ParHeight int // 0,0 when no VUI aspect_ratio_info is present
}

// ParseH264SPS decodes an H.264 SPS NAL payload (header byte included) into
// its cropped dimensions, delegating the cropping/profile arithmetic to
// mediacommon's h264.SPS and reading the VUI sample_aspect_ratio ourselves
// since that accessor isn't exposed on the library type.
func ParseH264SPS(sps []byte) (Dimensions, error) {
	var spsp h264.SPS
	if err := spsp.Unmarshal(sps); err != nil {
		return Dimensions{}, mediaerr.Wrap(mediaerr.Invalid, "nal.ParseH264SPS", "unmarshal failed", err)
	}
	parW, parH := readH264VUISAR(sps)
	return Dimensions{Width: spsp.Width(), Height: spsp.Height(), ParWidth: parW, ParHeight: parH}, nil
}

// ParseH265SPS is the H.265 analogue of ParseH264SPS.
func ParseH265SPS(sps []byte) (Dimensions, error) {
	var spsp h265.SPS
	if err := spsp.Unmarshal(sps); err != nil {
		return Dimensions{}, mediaerr.Wrap(mediaerr.Invalid, "nal.ParseH265SPS", "unmarshal failed", err)
	}
	return Dimensions{Width: spsp.Width(), Height: spsp.Height()}, nil
}

// aspectRatioTable is Table E-1 of the H.264 spec: aspect_ratio_idc values
// 1..16 map to fixed sample aspect ratios. Index 0 is unused ("Unspecified").
var aspectRatioTable = [17][2]int{
	{0, 0},
	{1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11},
	{32, 11}, {80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3},
	{3, 2}, {2, 1},
}

const aspectRatioIDCExtendedSAR = 255

// readH264VUISAR walks the raw RBSP of an H.264 SPS far enough to reach the
// VUI's aspect_ratio_info_present_flag, following the same Exp-Golomb/bit
// fields seq_parameter_set_rbsp defines up to vui_parameters(). It returns
// (0, 0) if no VUI is present or aspect_ratio_info_present_flag is 0.
func readH264VUISAR(sps []byte) (parW, parH int) {
	if len(sps) < 2 {
		return 0, 0
	}
	rbsp := StripEmulationPrevention(sps[1:]) // drop the one-byte NAL header
	br := newBitReader(rbsp)

	br.u(8) // profile_idc
	br.u(8) // constraint flags + reserved
	br.u(8) // level_idc
	br.ue() // seq_parameter_set_id

	profileIdc := int(rbsp[0])
	if isHighProfile(profileIdc) {
		chromaFormatIdc := br.ue()
		if chromaFormatIdc == 3 {
			br.u(1) // separate_colour_plane_flag
		}
		br.ue() // bit_depth_luma_minus8
		br.ue() // bit_depth_chroma_minus8
		br.u(1) // qpprime_y_zero_transform_bypass_flag
		if br.u(1) == 1 {
			// seq_scaling_matrix_present: skip scaling lists conservatively
			// by bailing out rather than risk a misaligned bitstream walk.
			return 0, 0
		}
	}
	br.ue() // log2_max_frame_num_minus4
	picOrderCntType := br.ue()
	if picOrderCntType == 0 {
		br.ue() // log2_max_pic_order_cnt_lsb_minus4
	} else if picOrderCntType == 1 {
		br.u(1)
		br.se()
		br.se()
		n := br.ue()
		for i := 0; i < n; i++ {
			br.se()
		}
	}
	br.ue() // max_num_ref_frames
	br.u(1) // gaps_in_frame_num_value_allowed_flag
	br.ue() // pic_width_in_mbs_minus1
	br.ue() // pic_height_in_map_units_minus1
	if br.u(1) == 0 {
		br.u(1) // mb_adaptive_frame_field_flag, only if frame_mbs_only_flag==0
	}
	br.u(1) // direct_8x8_inference_flag
	if br.u(1) == 1 {
		br.ue()
		br.ue()
		br.ue()
		br.ue()
	}
	if br.err != nil {
		return 0, 0
	}
	if br.u(1) != 1 { // vui_parameters_present_flag
		return 0, 0
	}
	if br.u(1) != 1 { // aspect_ratio_info_present_flag
		return 0, 0
	}
	idc := br.u(8)
	if br.err != nil {
		return 0, 0
	}
	if int(idc) == aspectRatioIDCExtendedSAR {
		w := br.u(16)
		h := br.u(16)
		if br.err != nil {
			return 0, 0
		}
		return int(w), int(h)
	}
	if int(idc) < len(aspectRatioTable) {
		pair := aspectRatioTable[idc]
		return pair[0], pair[1]
	}
	return 0, 0
}

func isHighProfile(profileIdc int) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	default:
		return false
	}
}
