package streaming

import (
	"context"
	"errors"
	"sync"

	"github.com/rickgao/pricefeed/internal/connection"
)

// fakeSource is a scriptable connection.Source.
type fakeSource struct {
	mu           sync.Mutex
	connectErr   error
	gate         chan struct{} // Connect waits for it when non-nil
	dropOnOpen   bool          // queue a closure right after connecting
	events       chan connection.Event
	subscribed   map[string]bool
	connected    bool
	disconnected bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events:     make(chan connection.Event, 100),
		subscribed: make(map[string]bool),
	}
}

func (f *fakeSource) Connect(ctx context.Context) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	if f.dropOnOpen {
		f.events <- connection.Event{Kind: connection.EventClosed, Err: errors.New("reset by peer")}
	}
	return nil
}

func (f *fakeSource) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return nil
	}
	f.disconnected = true
	f.connected = false
	close(f.events)
	return nil
}

func (f *fakeSource) Subscribe(keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		f.subscribed[k] = true
	}
	return nil
}

func (f *fakeSource) Unsubscribe(keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.subscribed, k)
	}
	return nil
}

func (f *fakeSource) Events() <-chan connection.Event {
	return f.events
}

// emit sends an event unless the source was released.
func (f *fakeSource) emit(ev connection.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return false
	}
	f.events <- ev
	return true
}

func (f *fakeSource) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeSource) isSubscribed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[key]
}

// fakeFactory hands out prepared sources in order, then fresh healthy ones.
type fakeFactory struct {
	mu      sync.Mutex
	queue   []*fakeSource
	created []*fakeSource
	err     error
	flap    bool // fresh sources drop right after connecting
}

func (ff *fakeFactory) push(srcs ...*fakeSource) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.queue = append(ff.queue, srcs...)
}

func (ff *fakeFactory) build() (connection.Source, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	var src *fakeSource
	if len(ff.queue) > 0 {
		src, ff.queue = ff.queue[0], ff.queue[1:]
	} else {
		src = newFakeSource()
		src.dropOnOpen = ff.flap
	}
	ff.created = append(ff.created, src)
	return src, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.created)
}

var errRefused = errors.New("connection refused")

func failingSource() *fakeSource {
	s := newFakeSource()
	s.connectErr = errRefused
	return s
}

func tick(instrument string, fields map[int]string) connection.Event {
	return connection.Event{
		Kind: connection.EventTick,
		Tick: &connection.Tick{Instrument: instrument, Fields: fields},
	}
}
