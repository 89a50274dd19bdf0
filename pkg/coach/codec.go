package coach

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// EncodeBinaryToText encodes bytes with standard base64, the alphabet the
// endpoint uses for every binary payload.
func EncodeBinaryToText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTextToBinary is the inverse of EncodeBinaryToText.
func DecodeTextToBinary(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, NewMalformedPayloadError("invalid base64 payload", err)
	}
	return data, nil
}

// PCMFloatToInt16 converts float samples to 16-bit little-endian PCM by
// multiplying by 32768 and truncating toward zero.
//
// Samples are not clamped. Values at or beyond full scale wrap the way a
// typed Int16Array store does, so 1.0 becomes -32768. NaN and infinities
// become 0.
func PCMFloatToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	x := math.Trunc(float64(s) * 32768)
	x = math.Mod(x, 65536)
	if math.IsNaN(x) {
		return 0
	}
	return int16(int64(x))
}

// AudioBuffer holds de-interleaved float samples, one slice per channel.
type AudioBuffer struct {
	SampleRate int
	Data       [][]float32
}

// NumberOfChannels returns the channel count.
func (b *AudioBuffer) NumberOfChannels() int {
	return len(b.Data)
}

// Length is the number of frames.
func (b *AudioBuffer) Length() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration is the playback length in seconds.
func (b *AudioBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Length()) / float64(b.SampleRate)
}

// ChannelData returns the samples of one channel, or nil when out of range.
func (b *AudioBuffer) ChannelData(channel int) []float32 {
	if channel < 0 || channel >= len(b.Data) {
		return nil
	}
	return b.Data[channel]
}

// DecodeInt16ToAudioBuffer de-interleaves 16-bit little-endian PCM into an
// AudioBuffer, scaling each sample by 1/32768.
func DecodeInt16ToAudioBuffer(data []byte, sampleRate, channels int) (*AudioBuffer, error) {
	if channels <= 0 {
		return nil, NewConfigError("channel count must be positive").AddDetail("channels", channels)
	}
	if sampleRate <= 0 {
		return nil, NewConfigError("sample rate must be positive").AddDetail("sample_rate", sampleRate)
	}
	if len(data)%(2*channels) != 0 {
		return nil, NewTruncatedAudioError(len(data), channels)
	}

	frames := len(data) / 2 / channels
	buf := &AudioBuffer{
		SampleRate: sampleRate,
		Data:       make([][]float32, channels),
	}
	for ch := 0; ch < channels; ch++ {
		buf.Data[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(data[offset:]))
			buf.Data[ch][i] = float32(sample) / 32768.0
		}
	}
	return buf, nil
}

// CalculateRMS returns the root-mean-square level of samples.
func CalculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return float32(math.Sqrt(sum / float64(len(samples))))
}
