package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/exhibit-sensor/internal/logic"
)

// DefaultBufferSize is the number of messages held while the broker is unreachable.
const DefaultBufferSize = 256

// Config configures a RealPublisher.
type Config struct {
	Broker     string // e.g. tcp://192.168.105.22:1883
	ClientID   string // device name
	Username   string
	Password   string
	Topics     Topics
	BufferSize int

	// ConnectTimeout bounds the wait for the first connection. The publisher
	// keeps retrying in the background after it expires.
	ConnectTimeout time.Duration
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client    paho.Client
	topics    Topics
	mu        sync.Mutex // guards buf
	buf       *outbox
	sendMu    sync.Mutex // serializes replay and live sends so replay stays ordered
	setCounts chan int
	connected atomic.Int32 // number of successful connects
}

// NewRealPublisher creates a publisher for the given broker and starts connecting.
// An unreachable broker is not an error: messages are buffered until the
// connection comes up.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: no broker configured")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	p := &RealPublisher{
		topics:    cfg.Topics,
		buf:       newOutbox(cfg.BufferSize),
		setCounts: make(chan int, 8),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.Topics.System(), string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		log.Warn().Str("broker", cfg.Broker).Msg("mqtt broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect runs on its own goroutine after every (re)connect.
func (p *RealPublisher) onConnect(c paho.Client) {
	n := p.connected.Add(1)
	log.Info().Int32("connects", n).Msg("mqtt connected")

	token := c.Subscribe(p.topics.SetCount(), 1, p.handleSetCount)
	if !token.WaitTimeout(5 * time.Second) {
		log.Error().Str("topic", p.topics.SetCount()).Msg("mqtt subscribe timed out, SetCount commands disabled until reconnect")
	} else if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", p.topics.SetCount()).Msg("mqtt subscribe failed, SetCount commands disabled until reconnect")
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if n > 1 {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(p.topics.System(), 1, false, payload)
	}
	p.replay()
}

// replay sends everything buffered while offline. Callers hold sendMu.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) > 0 {
		log.Info().Int("messages", len(pending)).Msg("mqtt replaying buffered messages")
	}
	for _, msg := range pending {
		p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
}

func (p *RealPublisher) handleSetCount(_ paho.Client, msg paho.Message) {
	n, err := ParseSetCount(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("ignoring SetCount command")
		return
	}
	select {
	case p.setCounts <- n:
	default:
		log.Warn().Int("count", n).Msg("SetCount command dropped, loop is busy")
	}
}

// SetCounts delivers SetCount commands received from the broker.
func (p *RealPublisher) SetCounts() <-chan int {
	return p.setCounts
}

// Publish sends an input's value to its topic.
func (p *RealPublisher) Publish(event logic.Event) error {
	// QoS 0 (at-most-once), not retained
	if err := p.publish(bufferedMsg{topic: event.Topic, payload: FormatValue(event), lastValue: true}); err != nil {
		return fmt.Errorf("publish %s: %w", event.Topic, err)
	}
	return nil
}

// PublishTimer sends the uptime counter to the timer topic.
func (p *RealPublisher) PublishTimer(uptime time.Duration) error {
	if err := p.publish(bufferedMsg{topic: p.topics.Timer(), payload: FormatTimer(uptime), lastValue: true}); err != nil {
		return fmt.Errorf("publish timer: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	if err := p.publish(bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: event.Retained}); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}

	p.sendMu.Lock()
	p.replay()
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	p.sendMu.Unlock()

	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timeout")
	}
	return token.Error()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the connection to the broker is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
