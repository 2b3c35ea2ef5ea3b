// Command exhibit-sensor debounces the exhibit's inputs and publishes their values to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/exhibit-sensor/internal/config"
	"github.com/sweeney/exhibit-sensor/internal/debounce"
	"github.com/sweeney/exhibit-sensor/internal/gpio"
	"github.com/sweeney/exhibit-sensor/internal/logging"
	"github.com/sweeney/exhibit-sensor/internal/logic"
	"github.com/sweeney/exhibit-sensor/internal/metrics"
	"github.com/sweeney/exhibit-sensor/internal/mqtt"
	"github.com/sweeney/exhibit-sensor/internal/sensor"
	"github.com/sweeney/exhibit-sensor/internal/status"
	"github.com/sweeney/exhibit-sensor/internal/web"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

// realMain returns the process exit code so deferred cleanup runs before exit.
func realMain(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "exhibit-sensor: %v\n", err)
		return 2
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exhibit-sensor: %v\n", err)
		return 2
	}
	logFile, err := logging.Init(level, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exhibit-sensor: %v\n", err)
		return 1
	}
	defer logFile.Close()

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("fatal")
		return 1
	}
	return 0
}

func run(cfg config.Config) error {
	start := time.Now()

	// Initialize inputs
	src, closeSources, err := openSources(cfg)
	if err != nil {
		return err
	}
	defer closeSources()

	// Print state mode
	if cfg.PrintState {
		return printState(os.Stdout, cfg, src)
	}

	panel, err := buildPanel(cfg, src, start)
	if err != nil {
		return err
	}
	for _, w := range cfg.CadenceWarnings() {
		log.Warn().Msg(w)
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Config{
		Broker:     cfg.Broker.URL,
		ClientID:   cfg.Device,
		Username:   cfg.Broker.Username,
		Password:   cfg.Broker.Password,
		Topics:     mqtt.Topics{Root: cfg.Broker.TopicRoot},
		BufferSize: cfg.Broker.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	rec := metrics.Open(cfg.Metrics.StatsdAddr, cfg.Metrics.Namespace, append(cfg.Metrics.Tags, "device:"+cfg.Device))
	defer rec.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	wsBroker := resolveWSBroker(cfg.WSBroker, cfg.Broker.URL)
	tracker := status.NewTracker(start, status.Config{
		Device:      cfg.Device,
		PollMs:      cfg.Poll.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker.URL,
		TopicRoot:   cfg.Broker.TopicRoot,
		HTTPAddr:    cfg.HTTPAddr,
		WSBroker:    wsBroker,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.Update(panel.Inputs())
	tracker.SetMQTTConnected(publisher.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Error().Err(err).Msg("failed to publish startup event")
	} else {
		log.Info().Msg("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, log.Logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http status server listening")
	}

	log.Info().
		Str("device", cfg.Device).
		Int("inputs", len(cfg.Inputs)).
		Dur("poll", cfg.Poll).
		Dur("heartbeat", cfg.Heartbeat).
		Str("broker", cfg.Broker.URL).
		Str("topic_root", cfg.Broker.TopicRoot).
		Msg("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(panel, publisher, publisher, publisher, tracker, rec, cfg.Heartbeat, time.Now, ticker.C, sigCh)
}

// openSources opens only the hardware the configured inputs need.
func openSources(cfg config.Config) (debounce.Sources, func(), error) {
	var src debounce.Sources
	closeSources := func() {}

	if pins := cfg.DigitalPins(); len(pins) > 0 {
		reader, err := gpio.Open(gpio.Options{
			Backend:   cfg.GPIO.Backend,
			Chip:      cfg.GPIO.Chip,
			ActiveLow: cfg.GPIO.ActiveLow,
		}, pins)
		if err != nil {
			return src, closeSources, fmt.Errorf("init gpio: %w", err)
		}
		src.Digital = reader
		closeSources = func() {
			if err := reader.Close(); err != nil {
				log.Warn().Err(err).Msg("close gpio")
			}
		}
	}

	if cfg.Uses(debounce.ModeAnalog) {
		adc := sensor.NewIIO(cfg.AnalogDevice)
		if err := adc.Check(); err != nil {
			return src, closeSources, fmt.Errorf("init analog: %w", err)
		}
		src.Analog = adc
		log.Info().Str("device", adc.Dir()).Msg("analog inputs ready")
	}

	if cfg.Uses(debounce.ModeHumidity) || cfg.Uses(debounce.ModeTemperature) {
		env := sensor.NewIIO(cfg.EnvDevice)
		if err := env.Check(); err != nil {
			return src, closeSources, fmt.Errorf("init environmental sensor: %w", err)
		}
		// One sensor object serves every humidity and temperature input.
		src.Env = sensor.NewShared(env)
		log.Info().Str("device", env.Dir()).Msg("environmental sensor ready")
	}

	return src, closeSources, nil
}

// buildPanel creates one Debounce per configured input.
func buildPanel(cfg config.Config, src debounce.Sources, now time.Time) (*logic.Panel, error) {
	inputs := make([]logic.Input, 0, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		mode, policy, publish, err := in.Resolve()
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		d, err := debounce.New(in.Pin, in.Delay, mode, src, now, debounce.WithPolicy(policy))
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		inputs = append(inputs, logic.Input{
			Name:     in.Name,
			Topic:    in.Topic,
			Publish:  publish,
			Debounce: d,
		})
	}
	return logic.NewPanel(now, inputs), nil
}

// printState reads every input once, without debouncing.
func printState(w io.Writer, cfg config.Config, src debounce.Sources) error {
	for _, in := range cfg.Inputs {
		mode, _, _, err := in.Resolve()
		if err != nil {
			return fmt.Errorf("input %s: %w", in.Name, err)
		}
		v, err := src.Read(in.Pin, mode)
		if err != nil {
			return fmt.Errorf("input %s: %w", in.Name, err)
		}
		fmt.Fprintf(w, "%s (%s pin %d): %d\n", in.Name, mode, in.Pin, v)
	}
	return nil
}

func runLoop(panel *logic.Panel, publisher mqtt.Publisher, commands mqtt.CommandSource, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, rec metrics.Recorder, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	var setCounts <-chan int
	if commands != nil {
		setCounts = commands.SetCounts()
	}

	refresh := func() {
		if tracker == nil {
			return
		}
		tracker.Update(panel.Inputs())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Info().Stringer("signal", s).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refresh()
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Error().Err(err).Msg("failed to publish shutdown event")
			} else {
				log.Info().Msg("published shutdown event")
			}
			return nil

		case n := <-setCounts:
			events := panel.SetCount(now(), n)
			log.Info().Int("count", n).Int("inputs", len(events)).Msg("SetCount received")
			publishEvents(publisher, rec, events)
			refresh()

		case <-tick:
			t := now()
			events, errs := panel.Process(t)
			for _, err := range errs {
				log.Warn().Err(err).Msg("input read error")
				var readErr *debounce.ReadError
				if errors.As(err, &readErr) {
					rec.Incr("input.read_error", fmt.Sprintf("pin:%d", readErr.Pin), "mode:"+readErr.Mode.String())
				} else {
					rec.Incr("input.read_error")
				}
			}

			publishEvents(publisher, rec, events)

			// Check for heartbeat
			if hb := panel.CheckHeartbeat(t, heartbeat); hb != nil {
				publishHeartbeat(publisher, tracker, mqttStatus, rec, hb)
			}

			// Update status tracker for HTTP consumers
			refresh()
		}
	}
}

func publishEvents(publisher mqtt.Publisher, rec metrics.Recorder, events []logic.Event) {
	for _, event := range events {
		log.Info().
			Str("input", event.Input).
			Str("mode", event.Mode.String()).
			Int("value", event.Value).
			Int("previous", event.Previous).
			Int("count", event.Count).
			Msg("input changed")
		rec.Gauge("input.value", float64(event.Value), "input:"+event.Input)
		rec.Gauge("input.count", float64(event.Count), "input:"+event.Input)
		if err := publisher.Publish(event); err != nil {
			// Don't crash on publish failure
			log.Error().Err(err).Str("input", event.Input).Msg("publish error")
		}
	}
}

// publishHeartbeat sends the timer, the current value of every input and a
// HEARTBEAT status event.
func publishHeartbeat(publisher mqtt.Publisher, tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, rec metrics.Recorder, hb *logic.HeartbeatData) {
	log.Debug().Dur("uptime", hb.Uptime).Int("inputs", len(hb.Inputs)).Msg("heartbeat")

	if err := publisher.PublishTimer(hb.Uptime); err != nil {
		log.Error().Err(err).Msg("timer publish error")
	}
	rec.Gauge("uptime_seconds", hb.Uptime.Seconds())

	for _, in := range hb.Inputs {
		event := logic.Event{
			Timestamp: hb.Timestamp,
			Input:     in.Name,
			Topic:     in.Topic,
			Mode:      in.Mode,
			Value:     in.Value,
			Previous:  in.Value,
			Count:     in.Count,
			Publish:   in.Publish,
		}
		if err := publisher.Publish(event); err != nil {
			log.Error().Err(err).Str("input", in.Name).Msg("heartbeat value publish error")
		}
	}

	hbEvent := mqtt.SystemEvent{
		Timestamp: hb.Timestamp,
		Event:     "HEARTBEAT",
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			tracker.SetNetwork(net)
		}
		tracker.Update(hb.Inputs)
		hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := publisher.PublishSystem(hbEvent); err != nil {
		log.Error().Err(err).Msg("heartbeat publish error")
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or
// empty disables live updates.
func resolveWSBroker(ws, broker string) string {
	if ws == "" || ws == "off" {
		return ""
	}
	if ws != config.WSBrokerFromBroker {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil || u.Hostname() == "" {
		log.Warn().Err(err).Str("broker", broker).Msg("ws_broker: cannot derive websocket URL from broker")
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
