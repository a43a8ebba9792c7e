package audio

// MixFrames sums frames sample by sample, each scaled by its gain, and clips
// the result to the int16 range. Frames shorter than dst contribute silence
// for the missing tail.
func MixFrames(dst []int16, frames [][]int16, gains []float64) []int16 {
	for i := range dst {
		var mixed float64
		for f, frame := range frames {
			if i < len(frame) {
				mixed += float64(frame[i]) * gains[f]
			}
		}

		// Clip to int16 range
		if mixed > 32767 {
			mixed = 32767
		} else if mixed < -32768 {
			mixed = -32768
		}
		dst[i] = int16(mixed)
	}
	return dst
}

// Mono downmixes an interleaved stereo frame into normalized float samples.
func Mono(frame []int16, out []float64) []float64 {
	out = out[:0]
	for i := 0; i+1 < len(frame); i += Channels {
		out = append(out, (float64(frame[i])+float64(frame[i+1]))/2/32768)
	}
	return out
}
