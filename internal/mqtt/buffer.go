package mqtt

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool

	// lastValue marks topics where only the newest payload matters
	// (input values and the timer).
	lastValue bool

	seq uint64 // enqueue order, assigned by the outbox
}

// outbox holds messages while the broker is unreachable.
//
// Last-value topics keep one message each, so a long outage costs one slot
// per input. Retained lifecycle events (STARTUP, SHUTDOWN) and other system
// events are queued apart; heartbeats only ever evict older heartbeats.
// Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	capacity  int
	seq       uint64
	latest    map[string]bufferedMsg
	lifecycle []bufferedMsg
	events    []bufferedMsg
	dropped   bool // a message was discarded since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{capacity: capacity, latest: map[string]bufferedMsg{}}
}

func (o *outbox) push(msg bufferedMsg) {
	o.seq++
	msg.seq = o.seq

	switch {
	case msg.lastValue:
		if _, ok := o.latest[msg.topic]; !ok && len(o.latest) >= o.capacity {
			o.drop(msg.topic)
			return
		}
		o.latest[msg.topic] = msg
	case msg.retained:
		if len(o.lifecycle) >= o.capacity {
			o.drop(o.lifecycle[0].topic)
			o.lifecycle = o.lifecycle[1:]
		}
		o.lifecycle = append(o.lifecycle, msg)
	default:
		if len(o.events) >= o.capacity {
			o.drop(o.events[0].topic)
			o.events = o.events[1:]
		}
		o.events = append(o.events, msg)
	}
}

func (o *outbox) drop(topic string) {
	if !o.dropped {
		log.Warn().Int("capacity", o.capacity).Str("topic", topic).Msg("mqtt: buffer full, dropping message")
		o.dropped = true
	}
}

// drainAll empties the outbox and returns its messages in enqueue order.
// A collapsed last-value topic takes the position of its newest message.
func (o *outbox) drainAll() []bufferedMsg {
	n := o.len()
	if n == 0 {
		return nil
	}

	out := make([]bufferedMsg, 0, n)
	for _, msg := range o.latest {
		out = append(out, msg)
	}
	out = append(out, o.lifecycle...)
	out = append(out, o.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })

	o.latest = map[string]bufferedMsg{}
	o.lifecycle = nil
	o.events = nil
	o.dropped = false
	return out
}

func (o *outbox) len() int {
	return len(o.latest) + len(o.lifecycle) + len(o.events)
}
