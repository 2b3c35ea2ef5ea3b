package logic

import (
	"fmt"
	"time"
)

// Panel owns the exhibit's inputs and turns committed readings into events.
// Inputs are debounced independently; the panel only fans the tick out.
type Panel struct {
	channels      []*channel
	startTime     time.Time
	lastHeartbeat time.Time
}

type channel struct {
	input      Input
	count      int
	lastChange time.Time
	readErrors int
}

// NewPanel creates a panel for inputs.
// The startTime is used for calculating uptime in heartbeat events.
func NewPanel(startTime time.Time, inputs []Input) *Panel {
	p := &Panel{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	for _, in := range inputs {
		p.channels = append(p.channels, &channel{input: in})
	}
	return p
}

// Process samples every input once and returns the events for inputs whose
// debounced value changed. Read failures are returned alongside; the failing
// input keeps its previous value.
func (p *Panel) Process(now time.Time) ([]Event, []error) {
	var events []Event
	var errs []error

	for _, ch := range p.channels {
		d := ch.input.Debounce
		prev := d.State()

		committed, err := d.Heartbeat(now)
		if err != nil {
			ch.readErrors++
			errs = append(errs, fmt.Errorf("input %s: %w", ch.input.Name, err))
			continue
		}
		// A commit of the value already held is not a change.
		if !committed || d.State() == prev {
			continue
		}

		// A trigger is the input leaving its idle (zero) value.
		if prev == 0 {
			ch.count++
		}
		ch.lastChange = now
		events = append(events, ch.event(now, prev))
	}

	return events, errs
}

func (ch *channel) event(now time.Time, prev int) Event {
	return Event{
		Timestamp: now,
		Input:     ch.input.Name,
		Topic:     ch.input.Topic,
		Mode:      ch.input.Debounce.Mode(),
		Value:     ch.input.Debounce.State(),
		Previous:  prev,
		Count:     ch.count,
		Publish:   ch.input.Publish,
	}
}

// SetCount overrides the trigger count of every input published as a count
// and returns one event per input so the new count can be published.
func (p *Panel) SetCount(now time.Time, n int) []Event {
	var events []Event
	for _, ch := range p.channels {
		if ch.input.Publish != PublishCount {
			continue
		}
		ch.count = n
		v := ch.input.Debounce.State()
		events = append(events, ch.event(now, v))
	}
	return events
}

// Inputs returns the current state of every input in configuration order.
func (p *Panel) Inputs() []InputState {
	out := make([]InputState, 0, len(p.channels))
	for _, ch := range p.channels {
		d := ch.input.Debounce
		out = append(out, InputState{
			Name:       ch.input.Name,
			Topic:      ch.input.Topic,
			Pin:        d.Pin(),
			Mode:       d.Mode(),
			Publish:    ch.input.Publish,
			Value:      d.State(),
			Count:      ch.count,
			LastChange: ch.lastChange,
			ReadErrors: ch.readErrors,
		})
	}
	return out
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (p *Panel) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(p.lastHeartbeat) < interval {
		return nil
	}

	p.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(p.startTime),
		Inputs:    p.Inputs(),
	}
}
