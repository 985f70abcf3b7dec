package cluster

import (
    "context"
    "sync"
    "time"
)

type EventType string

const (
    EventInspected        EventType = "inspected"
    EventDecision         EventType = "decision"
    EventStepStarted      EventType = "step_started"
    EventStepCompleted    EventType = "step_completed"
    EventStepFailed       EventType = "step_failed"
    EventConvergencePoll  EventType = "convergence_poll"
    EventRecoveryRendered EventType = "recovery_rendered"
)

// Event describes progress of a bootstrap run. Only fields relevant to the
// event type are populated.
type Event struct {
    Type     EventType
    At       time.Time
    Step     string
    Decision string
    Attempt  int
    Status   Status
    Err      error
    Details  map[string]string
}

// EventBus fans events out to subscribers. Publishing never blocks: events
// are dropped for subscribers that are not keeping up.
type EventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

// Subscribe returns a buffered channel of events that is closed when ctx is
// done.
func (e *EventBus) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
    go func() {
        <-ctx.Done()
        e.mu.Lock()
        delete(e.subs, ch)
        e.mu.Unlock()
        close(ch)
    }()
    return ch
}

// Publish delivers ev to current subscribers. A nil bus is a no-op.
func (e *EventBus) Publish(ev Event) {
    if e == nil { return }
    if ev.At.IsZero() { ev.At = time.Now() }
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}
