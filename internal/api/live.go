package api

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/speech"
	"github.com/BTreeMap/TriagePipe/internal/turn"
)

// outputBuffer collects controller outputs between HTTP requests.
type outputBuffer struct {
	mu      sync.Mutex
	outputs []turn.Output
	waiting bool
	notify  chan struct{}
}

func newOutputBuffer() *outputBuffer {
	return &outputBuffer{notify: make(chan struct{})}
}

// Present implements turn.Presenter.
func (b *outputBuffer) Present(o turn.Output) {
	b.mu.Lock()
	b.outputs = append(b.outputs, o)
	if o.Waiting() {
		b.waiting = true
	}
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

func (b *outputBuffer) drain() []turn.Output {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.outputs
	b.outputs = nil
	b.waiting = false
	if out == nil {
		out = []turn.Output{}
	}
	return out
}

// wait blocks until an output that leaves the controller waiting has been
// buffered, the controller is done, ctx ends or the timeout passes.
func (b *outputBuffer) wait(ctx context.Context, done <-chan struct{}, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		waiting, notify := b.waiting, b.notify
		b.mu.Unlock()
		if waiting {
			return
		}
		select {
		case <-notify:
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		}
	}
}

// clientPlayer hands synthesized audio to the HTTP client, which reports the
// end of playback with a playback_ended event.
type clientPlayer struct {
	present func(turn.Output)

	mu    sync.Mutex
	ended func()
}

func (p *clientPlayer) Play(ctx context.Context, audio []byte, ended func()) error {
	p.mu.Lock()
	p.ended = ended
	p.mu.Unlock()
	p.present(turn.Output{Kind: turn.OutputAudio, Audio: audio})
	return nil
}

func (p *clientPlayer) Stop() {
	p.mu.Lock()
	p.ended = nil
	p.mu.Unlock()
}

// playbackEnded reports the end of the current playback. It returns false when
// nothing is playing.
func (p *clientPlayer) playbackEnded() bool {
	p.mu.Lock()
	ended := p.ended
	p.ended = nil
	p.mu.Unlock()
	if ended == nil {
		return false
	}
	ended()
	return true
}

// clientCapture relays transcripts recognized on the client.
type clientCapture struct {
	mu   sync.Mutex
	sink func(speech.Transcript)
}

func (c *clientCapture) Available() bool { return true }

func (c *clientCapture) Start(ctx context.Context, locale models.Locale, sink func(speech.Transcript)) error {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
	return nil
}

func (c *clientCapture) Stop() {
	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
}

// deliver forwards a transcript. It returns false when no capture is running.
func (c *clientCapture) deliver(t speech.Transcript) bool {
	c.mu.Lock()
	sink := c.sink
	if t.Final {
		c.sink = nil
	}
	c.mu.Unlock()
	if sink == nil {
		return false
	}
	sink(t)
	return true
}

// liveSession is the runtime attached to an API session.
type liveSession struct {
	ctrl    *turn.Controller
	buf     *outputBuffer
	player  *clientPlayer
	capture *clientCapture
}

// Close implements session.Runtime.
func (l *liveSession) Close() { l.ctrl.Close() }

func (l *liveSession) voice() bool { return l.capture != nil }
