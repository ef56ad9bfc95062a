package tools

import (
	"strings"
	"sync"
)

// VideoSearchURL is the embeddable search playlist opened by playVideo.
const VideoSearchURL = "https://www.youtube.com/embed?listType=search&list={query}"

// VideoState is what the video panel shows.
type VideoState struct {
	Active bool
	URL    string
	Query  string
}

// VideoPlayer holds the current video state.
type VideoPlayer struct {
	mu       sync.Mutex
	state    VideoState
	onChange func(VideoState)
}

// NewVideoPlayer creates a player. onChange may be nil and is called outside
// the lock.
func NewVideoPlayer(onChange func(VideoState)) *VideoPlayer {
	return &VideoPlayer{onChange: onChange}
}

// Play activates the search playlist for query.
func (v *VideoPlayer) Play(query string) VideoState {
	query = strings.TrimSpace(query)
	st := VideoState{Active: true, URL: fillTemplate(VideoSearchURL, query), Query: query}
	v.set(st)
	return st
}

// Stop clears the active video.
func (v *VideoPlayer) Stop() { v.set(VideoState{}) }

func (v *VideoPlayer) State() VideoState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *VideoPlayer) set(st VideoState) {
	v.mu.Lock()
	v.state = st
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
