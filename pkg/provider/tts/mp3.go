package tts

import "time"

// bitrates in kbit/s indexed by [mpeg1][bitrate index] for Layer III.
var (
	bitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	bitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	sampleRatesV1  = [4]int{44100, 48000, 32000, 0}
	sampleRatesV2  = [4]int{22050, 24000, 16000, 0}
	sampleRatesV25 = [4]int{11025, 12000, 8000, 0}
)

// MP3Duration sums the playback time of every MPEG Layer III frame in data.
// A leading ID3v2 tag is skipped. Unparseable data yields 0.
func MP3Duration(data []byte) time.Duration {
	i := skipID3(data)
	var total float64
	for i+4 <= len(data) {
		h := data[i : i+4]
		if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
			i++
			continue
		}
		version := (h[1] >> 3) & 0x03 // 0=2.5, 2=2, 3=1
		layer := (h[1] >> 1) & 0x03   // 1=III
		brIdx := h[2] >> 4
		srIdx := (h[2] >> 2) & 0x03
		padding := int((h[2] >> 1) & 0x01)
		if version == 1 || layer != 1 || brIdx == 0 || brIdx == 15 || srIdx == 3 {
			i++
			continue
		}

		var bitrate, rate, samples, coeff int
		switch version {
		case 3:
			bitrate, rate, samples, coeff = bitratesV1[brIdx], sampleRatesV1[srIdx], 1152, 144
		case 2:
			bitrate, rate, samples, coeff = bitratesV2[brIdx], sampleRatesV2[srIdx], 576, 72
		default:
			bitrate, rate, samples, coeff = bitratesV2[brIdx], sampleRatesV25[srIdx], 576, 72
		}
		frameLen := coeff*bitrate*1000/rate + padding
		if frameLen <= 4 {
			i++
			continue
		}
		total += float64(samples) / float64(rate)
		i += frameLen
	}
	return time.Duration(total * float64(time.Second))
}

func skipID3(data []byte) int {
	if len(data) < 10 || string(data[:3]) != "ID3" {
		return 0
	}
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	return 10 + size
}
