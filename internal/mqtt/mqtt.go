// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/exhibit-sensor/internal/logic"
)

// DefaultTopicRoot is the root topic path of the exhibit.
const DefaultTopicRoot = "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing"

// Topics derives every topic from the exhibit's root path.
type Topics struct {
	Root string
}

// Timer is the regularly changing topic subscribers use to detect a stale connection.
func (t Topics) Timer() string { return t.Root + "/t" }

// Value is the default topic of the n-th input (1-based).
func (t Topics) Value(n int) string { return fmt.Sprintf("%s/Value%d", t.Root, n) }

// SetCount is the command topic that overrides the trigger counts.
func (t Topics) SetCount() string { return t.Root + "/SetCount" }

// System is the topic for lifecycle events.
func (t Topics) System() string { return t.Root + "/system" }

// Child joins a relative topic onto the root.
func (t Topics) Child(name string) string {
	return t.Root + "/" + strings.TrimPrefix(name, "/")
}

// Publisher publishes exhibit readings to MQTT.
type Publisher interface {
	// Publish sends an input's value to its topic.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishTimer sends the uptime counter to the timer topic.
	PublishTimer(uptime time.Duration) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandSource delivers SetCount commands received from the broker.
type CommandSource interface {
	SetCounts() <-chan int
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// FormatValue renders the number an event reports as decimal text.
func FormatValue(event logic.Event) []byte {
	return []byte(strconv.Itoa(event.Payload()))
}

// FormatTimer renders uptime as whole seconds.
func FormatTimer(uptime time.Duration) []byte {
	return []byte(strconv.FormatInt(int64(uptime/time.Second), 10))
}

// ParseSetCount parses a SetCount command payload.
func ParseSetCount(payload []byte) (int, error) {
	s := strings.TrimSpace(string(payload))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid SetCount payload %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid SetCount payload %q: negative count", s)
	}
	return n, nil
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
