package autotrade

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dexsniper/snipectl/internal/wsclient"
)

// IntelligenceEvent is one frame off the per-token analysis stream or
// the discovery stream, passed through untouched.
type IntelligenceEvent struct {
	Type string
	Data json.RawMessage
}

// Feed relays a secondary stream (token intelligence, opportunity
// discovery) to its subscribers without folding it into the engine
// projection.
type Feed struct {
	channel *wsclient.Client

	mu          sync.Mutex
	subscribers []chan IntelligenceEvent
	started     bool
}

// NewFeed wraps an already-configured stream client.
func NewFeed(channel *wsclient.Client) *Feed {
	return &Feed{channel: channel}
}

// Start opens the stream. Safe to call more than once.
func (f *Feed) Start() {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	f.channel.Subscribe(wsclient.Handlers{
		OnMessage: f.relay,
	})
	f.channel.Connect()
}

// Stop closes the stream.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
	f.channel.Disconnect()
}

// Subscribe returns a channel of relayed events.
func (f *Feed) Subscribe() chan IntelligenceEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan IntelligenceEvent, 32)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

func (f *Feed) relay(msg wsclient.Message) {
	if msg.Type == "" {
		log.Debug().Msg("Dropping untyped feed frame")
		return
	}
	ev := IntelligenceEvent{Type: msg.Type, Data: msg.Data}
	f.mu.Lock()
	subs := f.subscribers
	f.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
