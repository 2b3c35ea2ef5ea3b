package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/exhibit-sensor/internal/debounce"
	"github.com/sweeney/exhibit-sensor/internal/logic"
)

func valueEvent(topic string, value, count int, publish logic.Publish) logic.Event {
	return logic.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Input:     "Value1",
		Topic:     topic,
		Mode:      debounce.ModeDigital,
		Value:     value,
		Count:     count,
		Publish:   publish,
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Root: DefaultTopicRoot}

	assert.Equal(t, "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing/t", topics.Timer())
	assert.Equal(t, "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing/Value1", topics.Value(1))
	assert.Equal(t, "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing/Value4", topics.Value(4))
	assert.Equal(t, "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing/SetCount", topics.SetCount())
	assert.Equal(t, "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing/system", topics.System())
	assert.Equal(t, "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing/Door", topics.Child("/Door"))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name    string
		event   logic.Event
		payload string
	}{
		{"state", valueEvent("r/Value1", 1, 7, logic.PublishState), "1"},
		{"count", valueEvent("r/Value1", 1, 7, logic.PublishCount), "7"},
		{"analog", valueEvent("r/Value2", 1023, 0, logic.PublishState), "1023"},
		{"negative temperature", valueEvent("r/Value3", -4, 0, logic.PublishState), "-4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.payload, string(FormatValue(tt.event)))
		})
	}
}

func TestFormatTimer(t *testing.T) {
	assert.Equal(t, "0", string(FormatTimer(900*time.Millisecond)))
	assert.Equal(t, "3725", string(FormatTimer(time.Hour+2*time.Minute+5*time.Second)))
}

func TestParseSetCount(t *testing.T) {
	n, err := ParseSetCount([]byte(" 42\n"))
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = ParseSetCount([]byte("0"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, bad := range []string{"", "abc", "-1", "4.5"} {
		_, err := ParseSetCount([]byte(bad))
		assert.Error(t, err, "payload %q", bad)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	require.NoError(t, err)
	assert.Equal(t, `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`, string(payload))
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`, string(payload))

	var parsed map[string]map[string]any
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.NotContains(t, parsed["system"], "reason")
}

func TestFormatSystemPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 5, 30, 45, 0, loc),
		Event:     "STARTUP",
	})
	require.NoError(t, err)

	var parsed SystemPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "2026-02-03T10:30:45Z", parsed.System.Timestamp)
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, payload)
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	require.NoError(t, f.Publish(valueEvent("r/Value1", 1, 3, logic.PublishCount)))
	require.NoError(t, f.PublishTimer(5*time.Second))

	require.Len(t, f.Events, 1)
	assert.Equal(t, "r/Value1", f.Events[0].Topic)
	require.Len(t, f.Payloads, 1)
	assert.Equal(t, "3", string(f.Payloads[0]))
	assert.Equal(t, []time.Duration{5 * time.Second}, f.Timers)
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("publish failed")

	assert.Error(t, f.Publish(valueEvent("r/Value1", 1, 0, logic.PublishState)))
	assert.Error(t, f.PublishTimer(time.Second))
	assert.Empty(t, f.Events)
	assert.Empty(t, f.Timers)
}

func TestFakePublisherPublishSystem(t *testing.T) {
	f := NewFakePublisher()

	require.NoError(t, f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}))
	require.NoError(t, f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "HEARTBEAT"}))

	require.Len(t, f.SystemEvents, 2)
	assert.True(t, f.SystemEvents[0].Retained)
	assert.False(t, f.SystemEvents[1].Retained)
	assert.Len(t, f.SystemPayloads, 2)

	f.PublishSystemError = errors.New("boom")
	assert.Error(t, f.PublishSystem(SystemEvent{Event: "SHUTDOWN"}))
	assert.Len(t, f.SystemEvents, 2)
}

func TestFakePublisherSetCounts(t *testing.T) {
	f := NewFakePublisher()
	f.SendSetCount(9)

	select {
	case n := <-f.SetCounts():
		assert.Equal(t, 9, n)
	default:
		t.Fatal("expected a SetCount command")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(valueEvent("r/Value1", 1, 0, logic.PublishState))
	f.PublishTimer(time.Second)
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Close()
	f.Connected = true
	f.PublishError = errors.New("error")

	f.Reset()

	assert.Empty(t, f.Events)
	assert.Empty(t, f.Payloads)
	assert.Empty(t, f.Timers)
	assert.Empty(t, f.SystemEvents)
	assert.Empty(t, f.SystemPayloads)
	assert.False(t, f.Closed)
	assert.False(t, f.Connected)
	assert.NoError(t, f.PublishError)
}

func TestPublisherImplementations(t *testing.T) {
	var _ Publisher = (*FakePublisher)(nil)
	var _ Publisher = (*RealPublisher)(nil)
	var _ CommandSource = (*FakePublisher)(nil)
	var _ CommandSource = (*RealPublisher)(nil)
	var _ ConnectionStatus = (*RealPublisher)(nil)
}
