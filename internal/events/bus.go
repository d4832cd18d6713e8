package events

import (
	"sync"
	"time"
)

// ReportFinalized is published once a submission has been handed to every sink.
type ReportFinalized struct {
	ReportID    string            `json:"report_id"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	PhotoRef    string            `json:"photo_ref"`
	Timestamp   string            `json:"timestamp"`
	SinkErrors  map[string]string `json:"sink_errors,omitempty"`
	At          time.Time         `json:"at"`
}

// Bus provides simple in-process pub/sub for observability. Slow
// subscribers miss events rather than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan ReportFinalized]struct{}
}

func NewBus() *Bus { return &Bus{subs: map[chan ReportFinalized]struct{}{}} }

// Subscribe returns a channel of events and a func that detaches it.
func (b *Bus) Subscribe() (<-chan ReportFinalized, func()) {
	ch := make(chan ReportFinalized, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(ev ReportFinalized) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports how many channels are attached.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
