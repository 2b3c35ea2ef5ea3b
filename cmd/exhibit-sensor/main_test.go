package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/exhibit-sensor/internal/config"
	"github.com/sweeney/exhibit-sensor/internal/debounce"
	"github.com/sweeney/exhibit-sensor/internal/gpio"
	"github.com/sweeney/exhibit-sensor/internal/logic"
	"github.com/sweeney/exhibit-sensor/internal/metrics"
	"github.com/sweeney/exhibit-sensor/internal/mqtt"
	"github.com/sweeney/exhibit-sensor/internal/sensor"
	"github.com/sweeney/exhibit-sensor/internal/status"
)

func TestRealMainLogsFatalErrorToFile(t *testing.T) {
	logger, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})

	dir := t.TempDir()
	logPath := filepath.Join(dir, "exhibit.log")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
log_file: `+logPath+`
analog_device: `+filepath.Join(dir, "missing")+`
inputs:
  - name: Value1
    pin: 0
    mode: analog
    delay: 100ms
`), 0o600))

	code := realMain([]string{"-config", cfgPath, "-env-file", ""})
	assert.Equal(t, 1, code)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"fatal"`)
	assert.Contains(t, string(data), "init analog")
}

func TestRealMainBadConfig(t *testing.T) {
	code := realMain([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml"), "-env-file", ""})
	assert.Equal(t, 2, code)
}

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		assert.Equal(t, canonical, got)
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.105.40")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.105.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "eng_week")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.105.40",
		Status:     "connected",
		Gateway:    "192.168.105.1",
		WifiStatus: "connected",
		SSID:       "eng_week",
	}, *info)
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	assert.Nil(t, readNetworkInfo())
}

func TestResolveWSBroker(t *testing.T) {
	tests := []struct {
		ws, broker, want string
	}{
		{"=broker", "tcp://192.168.105.22:1883", "ws://192.168.105.22:9001"},
		{"off", "tcp://192.168.105.22:1883", ""},
		{"", "tcp://192.168.105.22:1883", ""},
		{"wss://mqtt.example.com/ws", "tcp://192.168.105.22:1883", "wss://mqtt.example.com/ws"},
		{"=broker", "::not a url", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveWSBroker(tt.ws, tt.broker), "ws=%q broker=%q", tt.ws, tt.broker)
	}
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const root = "CTRL-ALT-COMPETE/Arduino-Smart-Manufacturing"

// testConfig has a counting door switch on pin 17, a light level on ADC
// channel 0 and the shared humidity/temperature sensor.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Inputs = []config.Input{
		{Name: "Value1", Pin: 17, Mode: "digital", Delay: 50 * time.Millisecond, Publish: "count", Topic: root + "/Value1"},
		{Name: "Value2", Pin: 0, Mode: "analog", Delay: 50 * time.Millisecond, Topic: root + "/Value2"},
		{Name: "Value3", Pin: 12, Mode: "humidity", Delay: 50 * time.Millisecond, Topic: root + "/Value3"},
		{Name: "Value4", Pin: 12, Mode: "temperature", Delay: 50 * time.Millisecond, Topic: root + "/Value4"},
	}
	return cfg
}

type fixture struct {
	reader  *gpio.FakeReader
	env     *sensor.Fake
	panel   *logic.Panel
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	rec     *metrics.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith builds the panel over digital instead of the fixture's
// FakeReader when digital is non-nil.
func newFixtureWith(t *testing.T, digital debounce.DigitalReader) *fixture {
	t.Helper()
	f := &fixture{
		reader:  gpio.NewFakeReader(map[int][]int{17: {0}}),
		env:     sensor.NewFake(),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(t0, status.Config{Device: "Arduino-7", TopicRoot: root}),
		rec:     metrics.NewFake(),
	}
	f.env.Analog[0] = 0
	if digital == nil {
		digital = f.reader
	}
	src := debounce.Sources{Digital: digital, Analog: f.env, Env: sensor.NewShared(f.env)}

	panel, err := buildPanel(testConfig(), src, t0)
	require.NoError(t, err)
	f.panel = panel
	return f
}

// fakeClock returns a function that yields start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * step)
	}
}

// commandChan is an unbuffered CommandSource, so a send returns only once
// runLoop has taken the command.
type commandChan chan int

func (c commandChan) SetCounts() <-chan int { return c }

// loopDriver runs runLoop in a goroutine and feeds it ticks, commands and
// signals synchronously.
type loopDriver struct {
	tick  chan time.Time
	cmds  commandChan
	sig   chan os.Signal
	errCh chan error
}

func startLoop(f *fixture, heartbeat time.Duration, clock func() time.Time) *loopDriver {
	d := &loopDriver{
		tick:  make(chan time.Time),
		cmds:  make(commandChan),
		sig:   make(chan os.Signal, 1),
		errCh: make(chan error, 1),
	}
	go func() {
		d.errCh <- runLoop(f.panel, f.pub, d.cmds, f.pub, f.tracker, f.rec, heartbeat, clock, d.tick, d.sig)
	}()
	return d
}

func (d *loopDriver) ticks(n int) {
	for i := 0; i < n; i++ {
		d.tick <- time.Time{}
	}
}

func (d *loopDriver) stop(s os.Signal) error {
	d.sig <- s
	return <-d.errCh
}

func TestRunLoopNoEventsWhileIdle(t *testing.T) {
	f := newFixture(t)
	d := startLoop(f, 0, fakeClock(t0, 10*time.Millisecond))

	d.ticks(20)
	require.NoError(t, d.stop(syscall.SIGTERM))

	assert.Empty(t, f.pub.Events, "inputs at rest never leave 0")
	require.Len(t, f.pub.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", f.pub.SystemEvents[0].Event)
}

func TestRunLoopDigitalTrigger(t *testing.T) {
	f := newFixture(t)
	f.reader.Set(17, 1)
	d := startLoop(f, 0, fakeClock(t0, 10*time.Millisecond))

	// The first commit happens at 60ms; the next one (120ms) holds the same value.
	d.ticks(12)
	require.NoError(t, d.stop(syscall.SIGTERM))

	require.Len(t, f.pub.Events, 1)
	ev := f.pub.Events[0]
	assert.Equal(t, "Value1", ev.Input)
	assert.Equal(t, root+"/Value1", ev.Topic)
	assert.Equal(t, 1, ev.Value)
	assert.Equal(t, 0, ev.Previous)
	assert.Equal(t, 1, ev.Count)
	assert.Equal(t, "1", string(f.pub.Payloads[0]), "count inputs publish the trigger count")
	assert.True(t, ev.Timestamp.Equal(t0.Add(60*time.Millisecond)))

	assert.Equal(t, 1.0, f.rec.Gauges["input.value,input:Value1"])
	snap := f.tracker.Snapshot()
	assert.Equal(t, 1, snap.Inputs[0].Value)
	assert.Equal(t, 1, snap.Inputs[0].Count)
}

func TestRunLoopSensorValues(t *testing.T) {
	f := newFixture(t)
	f.env.Analog[0] = 733
	f.env.Humidity = 41
	f.env.Temperature = 22
	d := startLoop(f, 0, fakeClock(t0, 10*time.Millisecond))

	d.ticks(6)
	require.NoError(t, d.stop(syscall.SIGTERM))

	payloads := map[string]string{}
	for i, ev := range f.pub.Events {
		payloads[ev.Topic] = string(f.pub.Payloads[i])
	}
	assert.Equal(t, map[string]string{
		root + "/Value2": "733",
		root + "/Value3": "41",
		root + "/Value4": "22",
	}, payloads)
}

// faultReader fails a fixed range of ReadDigital calls and reads a steady
// level otherwise. No shared mutable state: the fault range is fixed at construction.
type faultReader struct {
	level      int
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) ReadDigital(int) (int, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return 0, errors.New("line busy")
	}
	return r.level, nil
}

func TestRunLoopReadErrorKeepsRunning(t *testing.T) {
	f := newFixtureWith(t, &faultReader{level: 1, faultStart: 0, faultEnd: 8})
	d := startLoop(f, 0, fakeClock(t0, 10*time.Millisecond))

	d.ticks(10)
	require.NoError(t, d.stop(syscall.SIGTERM))

	assert.Equal(t, 8, f.rec.Counts["input.read_error,pin:17,mode:digital"])
	require.Len(t, f.pub.Events, 1, "the input recovers once reads succeed")
	assert.Equal(t, 8, f.tracker.Snapshot().ReadErrors)
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")

	f := newFixture(t)
	f.env.Temperature = 22
	d := startLoop(f, 50*time.Millisecond, fakeClock(t0, 10*time.Millisecond))

	// Heartbeat fires on the fifth tick (50ms); nothing has committed yet.
	d.ticks(5)
	require.NoError(t, d.stop(syscall.SIGTERM))

	assert.Equal(t, []time.Duration{50 * time.Millisecond}, f.pub.Timers)
	require.Len(t, f.pub.Events, 4, "every input's value is republished")
	for _, ev := range f.pub.Events {
		assert.Equal(t, 0, ev.Value)
	}

	require.Len(t, f.pub.SystemEvents, 2)
	hb := f.pub.SystemEvents[0]
	assert.Equal(t, "HEARTBEAT", hb.Event)
	assert.Contains(t, string(hb.RawPayload), `"event":"HEARTBEAT"`)
	assert.Contains(t, string(hb.RawPayload), `"type":"wifi"`)
	assert.Contains(t, string(hb.RawPayload), `"name":"Value4"`)
	assert.Equal(t, "SHUTDOWN", f.pub.SystemEvents[1].Event)
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	f := newFixture(t)
	d := startLoop(f, 0, fakeClock(t0, time.Second))

	d.ticks(10)
	require.NoError(t, d.stop(syscall.SIGTERM))

	assert.Empty(t, f.pub.Timers)
	require.Len(t, f.pub.SystemEvents, 1)
}

func TestRunLoopSetCount(t *testing.T) {
	f := newFixture(t)
	d := startLoop(f, 0, fakeClock(t0, 10*time.Millisecond))

	d.cmds <- 42
	d.ticks(1)
	require.NoError(t, d.stop(syscall.SIGTERM))

	require.Len(t, f.pub.Events, 1, "only count inputs take the new count")
	assert.Equal(t, "Value1", f.pub.Events[0].Input)
	assert.Equal(t, "42", string(f.pub.Payloads[0]))
	assert.Equal(t, 42, f.tracker.Snapshot().Inputs[0].Count)
}

func TestRunLoopPublishError(t *testing.T) {
	f := newFixture(t)
	f.reader.Set(17, 1)
	f.pub.PublishError = errors.New("broker gone")
	d := startLoop(f, 20*time.Millisecond, fakeClock(t0, 10*time.Millisecond))

	d.ticks(10)
	require.NoError(t, d.stop(syscall.SIGTERM), "publish failures never stop the loop")

	assert.Empty(t, f.pub.Events)
	assert.Equal(t, 1, f.tracker.Snapshot().Inputs[0].Count, "state still advances")
}

func TestRunLoopShutdownReason(t *testing.T) {
	for _, tt := range []struct {
		sig    os.Signal
		reason string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	} {
		t.Run(tt.reason, func(t *testing.T) {
			f := newFixture(t)
			f.pub.Connected = true
			d := startLoop(f, 0, fakeClock(t0, 10*time.Millisecond))
			require.NoError(t, d.stop(tt.sig))

			require.Len(t, f.pub.SystemEvents, 1)
			ev := f.pub.SystemEvents[0]
			assert.Equal(t, "SHUTDOWN", ev.Event)
			assert.Equal(t, tt.reason, ev.Reason)
			assert.True(t, ev.Retained)
			assert.Contains(t, string(ev.RawPayload), `"reason":"`+tt.reason+`"`)
			assert.Contains(t, string(ev.RawPayload), `"connected":true`)
		})
	}
}

func TestBuildPanelMissingSource(t *testing.T) {
	cfg := testConfig()
	_, err := buildPanel(cfg, debounce.Sources{Digital: gpio.NewFakeReader(nil)}, t0)
	assert.ErrorIs(t, err, debounce.ErrNoSource)
	assert.Contains(t, err.Error(), "Value2")
}

func TestPrintState(t *testing.T) {
	env := sensor.NewFake()
	env.Analog[0] = 512
	env.Humidity = 40
	env.Temperature = 21
	src := debounce.Sources{
		Digital: gpio.NewFakeReader(map[int][]int{17: {1}}),
		Analog:  env,
		Env:     sensor.NewShared(env),
	}

	var buf bytes.Buffer
	require.NoError(t, printState(&buf, testConfig(), src))
	assert.Equal(t, "Value1 (digital pin 17): 1\n"+
		"Value2 (analog pin 0): 512\n"+
		"Value3 (humidity pin 12): 40\n"+
		"Value4 (temperature pin 12): 21\n", buf.String())
}

func TestPrintStateReadError(t *testing.T) {
	src := debounce.Sources{Digital: gpio.NewFakeReader(nil)}
	cfg := testConfig()
	cfg.Inputs = cfg.Inputs[:1]

	var buf bytes.Buffer
	err := printState(&buf, cfg, src)
	var readErr *debounce.ReadError
	assert.ErrorAs(t, err, &readErr)
}
