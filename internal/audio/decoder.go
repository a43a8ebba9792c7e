package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
)

// Decoder turns a source locator into interleaved stereo PCM at SampleRate.
type Decoder interface {
	Decode(ctx context.Context, locator string) ([]int16, error)
}

// BlobSource resolves locally-created blob locators to their bytes.
type BlobSource interface {
	Get(locator string) ([]byte, bool)
}

// FFmpegDecoder decodes URLs, file paths and blob locators with FFmpeg.
type FFmpegDecoder struct {
	// Path is the ffmpeg binary; defaults to "ffmpeg".
	Path string
	// Blobs serves blob: locators through stdin. Optional.
	Blobs BlobSource
	// Rewrite maps remote locators before decoding (audio proxy). Optional.
	Rewrite func(locator string) string
}

// Decode runs FFmpeg to decode the locator to raw PCM int16 samples.
func (d *FFmpegDecoder) Decode(ctx context.Context, locator string) ([]int16, error) {
	bin := d.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	input := locator
	var stdin []byte
	if d.Blobs != nil {
		if data, ok := d.Blobs.Get(locator); ok {
			input = "pipe:0"
			stdin = data
		}
	}
	if stdin == nil && d.Rewrite != nil {
		input = d.Rewrite(locator)
	}

	cmd := exec.CommandContext(ctx, bin,
		"-i", input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", locator, err)
	}
	if len(out) < FrameBytes {
		return nil, fmt.Errorf("ffmpeg decode %s: no audio frames", locator)
	}
	return BytesToSamples(out), nil
}

// BytesToSamples converts little-endian s16 bytes to samples, dropping a
// trailing odd byte.
func BytesToSamples(buf []byte) []int16 {
	// Ensure even byte count for int16 alignment
	if len(buf)%2 != 0 {
		buf = buf[:len(buf)-1]
	}

	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
