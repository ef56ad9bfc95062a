// Package device opens the local microphone, speaker, screen and browser for
// a live session.
package device

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-canvas/pkg/core/media"
)

// micQueue bounds how many device periods may wait for the reader. A full
// queue drops the newest period.
const micQueue = 64

// Microphone captures 16 kHz mono PCM16 through miniaudio.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frames chan []byte
	closed chan struct{}
	once   sync.Once

	pending []float32
}

// OpenMicrophone starts the default capture device.
func OpenMicrophone(ctx context.Context) (*Microphone, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	m := &Microphone{
		ctx:    mctx,
		frames: make(chan []byte, micQueue),
		closed: make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(media.InputFormat.Channels)
	cfg.SampleRate = uint32(media.InputFormat.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		m.freeContext()
		return nil, fmt.Errorf("device: open microphone: %w", err)
	}
	m.device = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		m.freeContext()
		return nil, fmt.Errorf("device: start microphone: %w", err)
	}
	return m, nil
}

func (m *Microphone) onData(_, input []byte, _ uint32) {
	// miniaudio reuses input after the callback returns.
	frame := append([]byte(nil), input...)
	select {
	case m.frames <- frame:
	default:
	}
}

// ReadSamples implements capture.Source.
func (m *Microphone) ReadSamples(ctx context.Context, buf []float32) (int, error) {
	if len(m.pending) == 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-m.closed:
			return 0, io.EOF
		case frame := <-m.frames:
			m.pending = media.PCM16ToFloat32(frame)
		}
	}
	n := copy(buf, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Close stops the device and releases the audio context.
func (m *Microphone) Close() error {
	m.once.Do(func() {
		close(m.closed)
		if m.device != nil {
			_ = m.device.Stop()
			m.device.Uninit()
		}
		m.freeContext()
	})
	return nil
}

func (m *Microphone) freeContext() {
	_ = m.ctx.Uninit()
	m.ctx.Free()
}
