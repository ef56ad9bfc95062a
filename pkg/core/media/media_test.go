package media

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestFloat32ToPCM16_ClampsAndScales(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	if len(pcm) != 12 {
		t.Fatalf("len = %d, want 12", len(pcm))
	}
	want := []int16{0, 32767, -32768, 32767, -32768, 16383}
	for i, w := range want {
		got := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestPCM16ToFloat32_IgnoresOddTail(t *testing.T) {
	samples := PCM16ToFloat32([]byte{0x00, 0x80, 0x00, 0x40, 0x7f})
	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}
	if samples[0] != -1 {
		t.Fatalf("samples[0] = %v, want -1", samples[0])
	}
	if samples[1] != 0.5 {
		t.Fatalf("samples[1] = %v, want 0.5", samples[1])
	}
}

func TestEncodeFrame_MIMEType(t *testing.T) {
	blob := EncodeFrame(make([]float32, FrameSamples))
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType = %q, want audio/pcm;rate=16000", blob.MIMEType)
	}
	if len(blob.Data) != FrameSamples*2 {
		t.Fatalf("len(Data) = %d, want %d", len(blob.Data), FrameSamples*2)
	}
	if !blob.IsAudio() {
		t.Fatalf("IsAudio() = false, want true")
	}
}

func TestFormat_DurationAndBytes(t *testing.T) {
	// 24kHz mono PCM16 => 48000 bytes/s.
	if got := OutputFormat.Duration(48000); got != time.Second {
		t.Fatalf("Duration(48000) = %v, want 1s", got)
	}
	if got := OutputFormat.Duration(960); got != 20*time.Millisecond {
		t.Fatalf("Duration(960) = %v, want 20ms", got)
	}
	if got := OutputFormat.BytesFor(500 * time.Millisecond); got != 24000 {
		t.Fatalf("BytesFor(500ms) = %d, want 24000", got)
	}
	if got := InputFormat.Duration(FrameSamples * 2); got != 256*time.Millisecond {
		t.Fatalf("frame duration = %v, want 256ms", got)
	}
}

func TestDecodeAudio(t *testing.T) {
	buf, err := DecodeAudio(make([]byte, 961), OutputFormat)
	if err != nil {
		t.Fatalf("DecodeAudio() error = %v", err)
	}
	if len(buf.PCM) != 960 {
		t.Fatalf("len(PCM) = %d, want 960", len(buf.PCM))
	}
	if buf.Duration() != 20*time.Millisecond {
		t.Fatalf("Duration() = %v, want 20ms", buf.Duration())
	}

	if _, err := DecodeAudio([]byte{1}, OutputFormat); err == nil {
		t.Fatalf("DecodeAudio(1 byte) error = nil, want error")
	}
	if _, err := DecodeAudio(make([]byte, 4), Format{}); err == nil {
		t.Fatalf("DecodeAudio(zero format) error = nil, want error")
	}
}

func TestDecodeBase64Audio(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(make([]byte, 4800))
	buf, err := DecodeBase64Audio(b64, OutputFormat)
	if err != nil {
		t.Fatalf("DecodeBase64Audio() error = %v", err)
	}
	if buf.Duration() != 50*time.Millisecond {
		t.Fatalf("Duration() = %v, want 50ms", buf.Duration())
	}
	if _, err := DecodeBase64Audio("%%%", OutputFormat); err == nil {
		t.Fatalf("DecodeBase64Audio(invalid) error = nil, want error")
	}
}

func TestDataURL_RoundTrip(t *testing.T) {
	in := Blob{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}
	url := DataURL(in)
	if url != "data:image/png;base64,iVBORw==" {
		t.Fatalf("DataURL() = %q", url)
	}
	out, err := ParseDataURL(url)
	if err != nil {
		t.Fatalf("ParseDataURL() error = %v", err)
	}
	if out.MIMEType != "image/png" || string(out.Data) != string(in.Data) {
		t.Fatalf("ParseDataURL() = %+v, want %+v", out, in)
	}

	for _, bad := range []string{"https://example.com/a.png", "data:image/png,raw", "data:image/png;base64"} {
		if _, err := ParseDataURL(bad); err == nil {
			t.Fatalf("ParseDataURL(%q) error = nil, want error", bad)
		}
	}
}
