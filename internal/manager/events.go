package manager

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is one kernel lifecycle step: spawn_ready, spawn_failed, connect,
// restart, shutdown or remove.
type Event struct {
	Name     string
	KernelID string
	Fields   map[string]any
}

// EventPublisher receives manager events. Publish is called inline and
// must not block.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes each event as an info line.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Info().Str("event", e.Name).Str("kernel_id", e.KernelID)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("kernel event")
}

// MemoryPublisher records events for inspection in tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	byName map[string]int
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{byName: map[string]int{}} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	p.byName[e.Name]++
}

// Events returns a copy of everything published so far, oldest first.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Count returns how many events named name were published.
func (p *MemoryPublisher) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byName[name]
}
