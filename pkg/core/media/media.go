// Package media holds the fixed wire formats of a live session and the pure
// conversions between capture samples, wire payloads and playable buffers.
//
// Outbound audio is 16 kHz mono PCM16 little-endian, inbound audio is 24 kHz
// mono PCM16 little-endian. No other codecs are supported.
package media

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// InputSampleRate is the microphone capture rate sent to the model.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of model audio received for playback.
	OutputSampleRate = 24000
	// FrameSamples is the capture quantum (about 256 ms at 16 kHz).
	FrameSamples = 4096
	// BytesPerSample is the PCM16 sample width.
	BytesPerSample = 2

	// MIMETypeJPEG is used for still frames from the screen sampler.
	MIMETypeJPEG = "image/jpeg"
)

// Blob is a typed binary payload sent to or received from the model.
type Blob struct {
	Data     []byte
	MIMEType string
}

// IsAudio reports whether the blob carries PCM audio.
func (b Blob) IsAudio() bool {
	return strings.HasPrefix(b.MIMEType, "audio/")
}

// Base64 returns the payload in standard base64, the encoding used on the wire.
func (b Blob) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Data)
}

// PCMMIMEType returns the audio MIME type for PCM16 at the given rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Format describes a PCM stream shape.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM16 byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration returns the play time of n bytes of PCM16 in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// BytesFor returns the PCM16 byte count for d, rounded down to whole frames.
func (f Format) BytesFor(d time.Duration) int {
	frame := f.Channels * BytesPerSample
	if frame <= 0 || d <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}

// InputFormat is the outbound microphone format.
var InputFormat = Format{SampleRate: InputSampleRate, Channels: 1}

// OutputFormat is the inbound model audio format.
var OutputFormat = Format{SampleRate: OutputSampleRate, Channels: 1}

// EncodeFrame converts float samples in [-1, 1] to a PCM16 audio blob at the
// input sample rate. Out-of-range samples are clamped.
func EncodeFrame(samples []float32) Blob {
	return Blob{
		Data:     Float32ToPCM16(samples),
		MIMEType: PCMMIMEType(InputSampleRate),
	}
}

// Float32ToPCM16 converts float samples to little-endian signed 16-bit PCM.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		var sample int16
		if v < 0 {
			sample = int16(v * 32768)
		} else {
			sample = int16(v * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// PCM16ToFloat32 converts little-endian signed 16-bit PCM to floats in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// Buffer is decoded audio ready for playback.
type Buffer struct {
	// PCM is the raw little-endian PCM16 data, interleaved when Channels > 1.
	PCM    []byte
	Format Format
}

// Duration returns the buffer's play time.
func (b *Buffer) Duration() time.Duration {
	if b == nil {
		return 0
	}
	return b.Format.Duration(len(b.PCM))
}

// Samples returns the buffer as float samples.
func (b *Buffer) Samples() []float32 {
	if b == nil {
		return nil
	}
	return PCM16ToFloat32(b.PCM)
}

// DecodeAudio turns an inbound PCM16 chunk into a playable buffer in format f.
// The chunk must contain at least one whole frame.
func DecodeAudio(data []byte, f Format) (*Buffer, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio format %+v", f)
	}
	frame := f.Channels * BytesPerSample
	if len(data) < frame {
		return nil, fmt.Errorf("audio chunk too short: %d bytes", len(data))
	}
	whole := len(data) - len(data)%frame
	pcm := make([]byte, whole)
	copy(pcm, data[:whole])
	return &Buffer{PCM: pcm, Format: f}, nil
}

// DecodeBase64Audio decodes a base64 wire chunk and then the PCM payload.
func DecodeBase64Audio(b64 string, f Format) (*Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode audio base64: %w", err)
	}
	return DecodeAudio(raw, f)
}

// DataURL renders a blob as a data: URL, the reference format used for
// generated images held in the workspace.
func DataURL(b Blob) string {
	mime := b.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + b.Base64()
}

// ParseDataURL reverses DataURL. Only base64 data URLs are accepted.
func ParseDataURL(s string) (Blob, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Blob{}, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Blob{}, fmt.Errorf("data URL has no payload")
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return Blob{}, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Blob{}, fmt.Errorf("decode data URL: %w", err)
	}
	return Blob{Data: data, MIMEType: mime}, nil
}
