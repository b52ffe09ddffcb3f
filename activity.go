package agentworld

import (
	"sync"
)

// activityTracker counts in-flight operations per world and emits
// response-start / response-end / idle activity events on the world
// channel. The idle event (pending == 0) triggers auto-titling.
type activityTracker struct {
	mu      sync.Mutex
	bus     *EventBus
	pending int
	sources map[string]int // source → active count
}

func newActivityTracker(bus *EventBus) *activityTracker {
	return &activityTracker{bus: bus, sources: make(map[string]int)}
}

func (t *activityTracker) activeSources() []string {
	out := make([]string, 0, len(t.sources))
	for s, n := range t.sources {
		if n > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Begin marks an operation active for source and returns an end function.
// The end function is idempotent and emits response-end, followed by idle
// when it was the last pending operation.
func (t *activityTracker) Begin(source string) func() {
	activityID := NewID()

	t.mu.Lock()
	t.pending++
	t.sources[source]++
	ev := ActivityEvent{
		Type:              ActivityResponseStart,
		PendingOperations: t.pending,
		Source:            source,
		ActiveSources:     t.activeSources(),
		ActivityID:        activityID,
		Timestamp:         NowUnix(),
	}
	t.mu.Unlock()
	t.bus.Emit(ChannelWorld, ev)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.pending--
			t.sources[source]--
			if t.sources[source] <= 0 {
				delete(t.sources, source)
			}
			endEv := ActivityEvent{
				Type:              ActivityResponseEnd,
				PendingOperations: t.pending,
				Source:            source,
				ActiveSources:     t.activeSources(),
				ActivityID:        activityID,
				Timestamp:         NowUnix(),
			}
			idle := t.pending == 0
			t.mu.Unlock()

			t.bus.Emit(ChannelWorld, endEv)
			if idle {
				t.bus.Emit(ChannelWorld, ActivityEvent{
					Type:              ActivityIdle,
					PendingOperations: 0,
					Source:            source,
					ActivityID:        activityID,
					Timestamp:         NowUnix(),
				})
			}
		})
	}
}
