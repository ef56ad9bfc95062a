package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/playback"
)

// oto allows one context per process, so every Speaker shares it.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func sharedContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   media.OutputFormat.SampleRate,
			ChannelCount: media.OutputFormat.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		})
		if otoErr == nil {
			<-ready
		}
	})
	return otoCtx, otoErr
}

// Speaker is a playback.Output on the default audio device. Its clock is the
// number of bytes the device has pulled, so Now advances in real time while
// the player runs, playing silence between units.
type Speaker struct {
	player *oto.Player
	tl     *timeline
	once   sync.Once
}

var _ playback.Output = (*Speaker)(nil)

// OpenSpeaker starts a player on the shared audio context.
func OpenSpeaker(ctx context.Context) (*Speaker, error) {
	octx, err := sharedContext()
	if err != nil {
		return nil, fmt.Errorf("device: open speaker: %w", err)
	}
	s := &Speaker{tl: newTimeline(media.OutputFormat)}
	s.player = octx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

func (s *Speaker) Now() time.Duration { return s.tl.now() }

func (s *Speaker) Schedule(u playback.Unit, ended func()) { s.tl.schedule(u, ended) }

func (s *Speaker) StopAll() { s.tl.stopAll() }

// Read feeds the player. It never blocks.
func (s *Speaker) Read(p []byte) (int, error) {
	finished := s.tl.read(p)
	for _, fn := range finished {
		if fn != nil {
			fn()
		}
	}
	return len(p), nil
}

func (s *Speaker) Close() error {
	var err error
	s.once.Do(func() {
		s.tl.stopAll()
		s.tl.close()
		err = s.player.Close()
	})
	return err
}

type slot struct {
	id    uint64
	start int64
	pcm   []byte
	ended func()
}

func (sl *slot) end() int64 { return sl.start + int64(len(sl.pcm)) }

// timeline mixes scheduled units into a byte stream and keeps the clock.
type timeline struct {
	format media.Format

	mu     sync.Mutex
	pos    int64
	slots  []*slot
	closed bool
}

func newTimeline(f media.Format) *timeline {
	return &timeline{format: f}
}

func (t *timeline) now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.Duration(int(t.pos))
}

func (t *timeline) schedule(u playback.Unit, ended func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.slots = append(t.slots, &slot{
		id:    u.ID,
		start: int64(t.format.BytesFor(u.Start)),
		pcm:   u.PCM,
		ended: ended,
	})
	sort.Slice(t.slots, func(i, j int) bool { return t.slots[i].start < t.slots[j].start })
}

func (t *timeline) stopAll() {
	t.mu.Lock()
	t.slots = nil
	t.mu.Unlock()
}

func (t *timeline) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// read fills p with the audio at the current position, advances the clock and
// returns the callbacks of units that finished.
func (t *timeline) read(p []byte) []func() {
	clear(p)
	t.mu.Lock()
	defer t.mu.Unlock()

	from, to := t.pos, t.pos+int64(len(p))
	var finished []func()
	kept := t.slots[:0]
	for _, sl := range t.slots {
		if sl.start < to && sl.end() > from {
			lo := max(sl.start, from)
			hi := min(sl.end(), to)
			copy(p[lo-from:hi-from], sl.pcm[lo-sl.start:hi-sl.start])
		}
		if sl.end() <= to {
			finished = append(finished, sl.ended)
			continue
		}
		kept = append(kept, sl)
	}
	t.slots = kept
	t.pos = to
	return finished
}
