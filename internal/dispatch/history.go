package dispatch

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"morningbot/internal/eventbus"
)

const defaultHistorySize = 1024

// History remembers the latest firing per group, fed from the event bus.
type History struct {
	last *lru.Cache[string, FiredEvent]
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	c, err := lru.New[string, FiredEvent](size)
	if err != nil {
		panic(err)
	}
	return &History{last: c}
}

// Run consumes firing events until ctx is done or the subscription closes.
func (h *History) Run(ctx context.Context, bus eventbus.Bus) { h.Attach(bus)(ctx) }

// Attach subscribes now and returns the consuming loop, so no firing
// published after Attach returns is missed.
func (h *History) Attach(bus eventbus.Bus) func(ctx context.Context) {
	ch, unsub := bus.Subscribe(64, eventbus.TypeFired)
	return func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if ev, ok := e.Data.(FiredEvent); ok {
					h.Record(ev)
				}
			}
		}
	}
}

func (h *History) Record(ev FiredEvent) { h.last.Add(ev.GroupID, ev) }

// Last returns the group's most recent firing.
func (h *History) Last(groupID string) (FiredEvent, bool) { return h.last.Get(groupID) }
