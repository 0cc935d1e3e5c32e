package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/filament-sensor/internal/feed"
	"github.com/sweeney/filament-sensor/internal/history"
	"github.com/sweeney/filament-sensor/internal/monitor"
	"github.com/sweeney/filament-sensor/internal/mqtt"
	"github.com/sweeney/filament-sensor/internal/ring"
	"github.com/sweeney/filament-sensor/internal/status"
)

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
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}

	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "192.168.1.100")
	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" || info.IP != "192.168.1.100" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.SSID != "" {
		t.Errorf("SSID: got %q, want empty", info.SSID)
	}
}

func TestResolveWSBroker(t *testing.T) {
	tests := []struct {
		ws, broker, want string
	}{
		{"=broker", "tcp://192.168.1.200:1883", "ws://192.168.1.200:9001"},
		{"off", "tcp://192.168.1.200:1883", ""},
		{"ws://other:8080", "tcp://192.168.1.200:1883", "ws://other:8080"},
		{"=broker", "://bad", ""},
	}
	for _, tt := range tests {
		if got := resolveWSBroker(tt.ws, tt.broker); got != tt.want {
			t.Errorf("resolveWSBroker(%q, %q) = %q, want %q", tt.ws, tt.broker, got, tt.want)
		}
	}
}

func TestParseChannelSpec(t *testing.T) {
	spec, err := parseChannelSpec("1:magnet-switch:17:enable=2,mm_per_rev=24.5,min=70,max=130,check_length=4,samples=5,check_non_printing=1")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Index != 1 || spec.Type != monitor.TypeRotatingMagnetSwitch || spec.Pin != 17 {
		t.Errorf("unexpected spec %+v", spec)
	}
	p := spec.Params
	if p.Enable != monitor.EnableAlways || p.MmPerRev != 24.5 || p.CheckLength != 4 || p.CalibrationSamples != 5 {
		t.Errorf("unexpected params %+v", p)
	}
	if p.MinMovementAllowed != 0.7 || p.MaxMovementAllowed != 1.3 || !p.CheckNonPrintingMoves {
		t.Errorf("unexpected allowance %+v", p)
	}

	spec, err = parseChannelSpec("0:7:22")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Type != monitor.TypePulsed || spec.Params != monitor.DefaultParams(monitor.TypePulsed) {
		t.Errorf("expected pulsed defaults, got %+v", spec)
	}
}

func TestParseChannelSpecErrors(t *testing.T) {
	tests := []string{
		"0:3",
		"8:3:17",
		"-1:3:17",
		"x:3:17",
		"0:5:17",
		"0:laser:17",
		"0:3:pin",
		"0:3:-4",
		"0:3:17:enable",
		"0:3:17:enable=3",
		"0:3:17:bogus=1",
		"0:3:17:mm_per_rev=abc",
		"0:3:17:mm_per_rev=0",
		"0:3:17:min=150,max=120",
	}
	for _, s := range tests {
		if _, err := parseChannelSpec(s); err == nil {
			t.Errorf("%q: expected error", s)
		}
	}
	if _, err := parseChannelSpec("0:5:17"); !errors.Is(err, monitor.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if _, err := parseChannelSpec("0:3:17:mm_per_rev=0"); !errors.Is(err, monitor.ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func TestChannelFlags(t *testing.T) {
	var flags channelFlags
	if err := flags.Set("0:3:17"); err != nil {
		t.Fatal(err)
	}
	if err := flags.Set("1:pulsed:22"); err != nil {
		t.Fatal(err)
	}
	if err := flags.Set("0:7:23"); err == nil {
		t.Error("expected error for a repeated channel")
	}
	if err := flags.Set("2:7:17"); err == nil {
		t.Error("expected error for a shared pin")
	}
	if got := flags.String(); got != "0:3:17 1:7:22" {
		t.Errorf("String() = %q", got)
	}
}

func TestBuildChannels(t *testing.T) {
	var flags channelFlags
	flags.Set("2:magnet:17")
	flags.Set("0:pulsed:22")

	channels, err := buildChannels(flags, monitor.ClockFunc(func() ring.Tick { return 0 }))
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 2 || channels[0].Index() != 2 || channels[1].Index() != 0 {
		t.Fatalf("unexpected channels %v", channels)
	}
	if channels[1].Monitor().Type() != monitor.TypePulsed {
		t.Errorf("expected pulsed monitor, got %v", channels[1].Monitor().Type())
	}
}

// --- runLoop tests ---

// scriptedMonitor returns statuses[i] from the i'th Check, repeating the
// last one.
type scriptedMonitor struct {
	params      monitor.Params
	statuses    []monitor.Status
	calibrateAt int // Check call from which LiveData reports calibrated (0 = never)

	checks  []monitor.CheckInput
	clears  int
	configs int
}

func newScripted(statuses ...monitor.Status) *scriptedMonitor {
	p := monitor.DefaultParams(monitor.TypeRotatingMagnet)
	p.Enable = monitor.EnableAlways
	return &scriptedMonitor{params: p, statuses: statuses}
}

func (m *scriptedMonitor) Type() monitor.Type { return monitor.TypeRotatingMagnet }
func (m *scriptedMonitor) Interrupt(ring.Tick) bool { return false }
func (m *scriptedMonitor) Params() monitor.Params { return m.params }
func (m *scriptedMonitor) Diagnostics() string { return "scripted" }

func (m *scriptedMonitor) Configure(p monitor.Params) error {
	m.configs++
	m.params = p
	return nil
}

func (m *scriptedMonitor) Check(in monitor.CheckInput) monitor.Status {
	m.checks = append(m.checks, in)
	if len(m.statuses) == 0 {
		return monitor.StatusOK
	}
	i := min(len(m.checks), len(m.statuses)) - 1
	return m.statuses[i]
}

func (m *scriptedMonitor) Clear() monitor.Status {
	m.clears++
	return monitor.StatusOK
}

func (m *scriptedMonitor) LiveData() monitor.LiveData {
	if m.calibrateAt > 0 && len(m.checks) >= m.calibrateAt {
		return monitor.LiveData{HasLiveData: true, Calibrated: true, CalibrationLength: 30, AvgPercent: 99, MinPercent: 95, MaxPercent: 104}
	}
	return monitor.LiveData{}
}

// fakeStore records history writes.
type fakeStore struct {
	transitions  []history.Transition
	calibrations []history.Calibration
	err          error
}

func (s *fakeStore) RecordTransition(tr history.Transition) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.transitions = append(s.transitions, tr)
	return int64(len(s.transitions)), nil
}

func (s *fakeStore) RecordCalibration(c history.Calibration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.calibrations = append(s.calibrations, c)
	return int64(len(s.calibrations)), nil
}

func (s *fakeStore) RecentTransitions(channel, limit int) ([]history.Transition, error) {
	return s.transitions, nil
}

func (s *fakeStore) LatestCalibration(channel int) (history.Calibration, bool, error) {
	return history.Calibration{}, false, nil
}

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// repeat returns n copies of st.
func repeat(st monitor.Status, n int) []monitor.Status {
	out := make([]monitor.Status, n)
	for i := range out {
		out[i] = st
	}
	return out
}

type loopRig struct {
	mons       []*scriptedMonitor
	channels   []*monitor.Channel
	dispatcher *feed.Dispatcher
	pub        *mqtt.FakePublisher
	tracker    *status.Tracker
	store      *fakeStore
}

func newLoopRig(t *testing.T, mons ...*scriptedMonitor) *loopRig {
	t.Helper()
	r := &loopRig{
		mons:    mons,
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{Broker: "tcp://broker:1883"}),
		store:   &fakeStore{},
	}
	extruders := make(map[int]feed.Extruder)
	for i, m := range mons {
		ch, err := monitor.NewChannel(i, m)
		if err != nil {
			t.Fatal(err)
		}
		r.channels = append(r.channels, ch)
		extruders[i] = ch
	}
	r.dispatcher = feed.NewDispatcher(extruders, commandQueue)
	return r
}

// run drives runLoop for nTicks polls and then delivers signal.
func (r *loopRig) run(t *testing.T, debounce, heartbeat, step time.Duration, nTicks int, signal os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step)
	rec := &recorder{store: r.store, session: "test-session"}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(r.channels, r.dispatcher, r.pub, r.pub, r.tracker, rec, debounce, heartbeat, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopNoAlarmsAtBaseline(t *testing.T) {
	r := newLoopRig(t, newScripted(monitor.StatusOK))
	r.run(t, 250*time.Millisecond, 0, 100*time.Millisecond, 4, syscall.SIGTERM)

	// the first poll is always reported
	if len(r.pub.Reports) != 1 {
		t.Errorf("expected 1 status report, got %d", len(r.pub.Reports))
	}
	if len(r.store.transitions) != 0 {
		t.Errorf("expected no transitions, got %d", len(r.store.transitions))
	}
	snap := r.tracker.Snapshot()
	if !snap.Baselined {
		t.Error("expected baseline after 4 ticks")
	}
	if snap.Counts.Faults != 0 {
		t.Errorf("expected no faults, got %d", snap.Counts.Faults)
	}
	if len(r.pub.SystemEvents) != 1 || r.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Fatalf("expected only SHUTDOWN, got %+v", r.pub.SystemEvents)
	}
}

func TestRunLoopFaultAndClear(t *testing.T) {
	// 4 ok, 4 too little movement, 4 ok
	statuses := append(repeat(monitor.StatusOK, 4), repeat(monitor.StatusTooLittleMovement, 4)...)
	statuses = append(statuses, repeat(monitor.StatusOK, 4)...)
	r := newLoopRig(t, newScripted(statuses...))
	r.run(t, 250*time.Millisecond, 0, 100*time.Millisecond, len(statuses), syscall.SIGTERM)

	snap := r.tracker.Snapshot()
	if snap.Counts.Faults != 1 || snap.Counts.Cleared != 1 {
		t.Errorf("expected 1 fault and 1 cleared, got %+v", snap.Counts)
	}

	// first poll, then one report per change
	if len(r.pub.Reports) != 3 {
		t.Fatalf("expected 3 status reports, got %d", len(r.pub.Reports))
	}
	if r.pub.Reports[0].Changed || !r.pub.Reports[1].Changed || !r.pub.Reports[2].Changed {
		t.Errorf("unexpected Changed flags")
	}
	if got := r.pub.Reports[1].Channels[0].Status; got != monitor.StatusTooLittleMovement {
		t.Errorf("report 1: expected tooLittleMovement, got %v", got)
	}

	if len(r.store.transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(r.store.transitions))
	}
	tr := r.store.transitions[0]
	if tr.From != monitor.StatusOK || tr.To != monitor.StatusTooLittleMovement {
		t.Errorf("unexpected transition %v -> %v", tr.From, tr.To)
	}
	if tr.Session != "test-session" || tr.Detail != "scripted" {
		t.Errorf("unexpected transition %+v", tr)
	}
	if want := time.Date(2026, 1, 1, 0, 0, 0, 500*int(time.Millisecond), time.UTC); !tr.At.Equal(want) {
		t.Errorf("transition at %v, want %v", tr.At, want)
	}
}

func TestRunLoopBounceRejection(t *testing.T) {
	statuses := append(repeat(monitor.StatusOK, 4), monitor.StatusNoFilament)
	statuses = append(statuses, repeat(monitor.StatusOK, 4)...)
	r := newLoopRig(t, newScripted(statuses...))
	r.run(t, 250*time.Millisecond, 0, 100*time.Millisecond, len(statuses), syscall.SIGTERM)

	if snap := r.tracker.Snapshot(); snap.Counts.Faults != 0 {
		t.Errorf("expected bounce to be rejected, got %d faults", snap.Counts.Faults)
	}
	// the short fault is still reported and recorded
	if len(r.store.transitions) != 2 {
		t.Errorf("expected 2 recorded transitions, got %d", len(r.store.transitions))
	}
}

func TestRunLoopMultipleChannels(t *testing.T) {
	a := newScripted(append(repeat(monitor.StatusOK, 4), monitor.StatusTooMuchMovement)...)
	b := newScripted(monitor.StatusOK)
	r := newLoopRig(t, a, b)
	r.run(t, 0, 0, 100*time.Millisecond, 6, syscall.SIGTERM)

	snap := r.tracker.Snapshot()
	if len(snap.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(snap.Channels))
	}
	if snap.Channels[0].Status != monitor.StatusTooMuchMovement || snap.Channels[1].Status != monitor.StatusOK {
		t.Errorf("unexpected statuses %v %v", snap.Channels[0].Status, snap.Channels[1].Status)
	}
	if snap.Counts.Faults != 1 {
		t.Errorf("expected 1 fault, got %d", snap.Counts.Faults)
	}
	if len(b.checks) != 6 {
		t.Errorf("expected channel 1 polled 6 times, got %d", len(b.checks))
	}
}

func TestRunLoopCalibrationRecorded(t *testing.T) {
	m := newScripted(monitor.StatusOK)
	m.calibrateAt = 3
	r := newLoopRig(t, m)
	r.run(t, 0, 0, 100*time.Millisecond, 6, syscall.SIGTERM)

	if len(r.store.calibrations) != 1 {
		t.Fatalf("expected 1 calibration, got %d", len(r.store.calibrations))
	}
	c := r.store.calibrations[0]
	if c.Channel != 0 || c.LengthMm != 30 || c.AvgPercent != 99 || c.Session != "test-session" {
		t.Errorf("unexpected calibration %+v", c)
	}
	// calibrated at 300ms, live report due at 350ms
	if len(r.pub.Reports) != 2 {
		t.Errorf("expected live reports, got %d", len(r.pub.Reports))
	}
}

func TestRunLoopCommands(t *testing.T) {
	m := newScripted(append(repeat(monitor.StatusOK, 2), repeat(monitor.StatusNoFilament, 10)...)...)
	r := newLoopRig(t, m)

	clr, _ := feed.ParseCommandJSON([]byte(`{"command":"clear","channel":0}`))
	configure, _ := feed.ParseCommandJSON([]byte(`{"command":"configure","channel":0,"params":{"check_length":7}}`))
	bad, _ := feed.ParseCommandJSON([]byte(`{"command":"configure","channel":0,"params":{"check_length":"x"}}`))
	for _, msg := range []feed.Message{clr, configure, bad} {
		if err := r.dispatcher.Dispatch(msg); err != nil {
			t.Fatal(err)
		}
	}

	r.run(t, 0, 0, 100*time.Millisecond, 4, syscall.SIGTERM)

	if m.clears != 1 {
		t.Errorf("expected 1 clear, got %d", m.clears)
	}
	if m.configs != 1 {
		t.Errorf("expected 1 successful configure, got %d", m.configs)
	}
	if m.params.CheckLength != 7 {
		t.Errorf("expected check length 7, got %v", m.params.CheckLength)
	}
	if m.params.Enable != monitor.EnableAlways {
		t.Error("configure must keep fields it does not name")
	}
}

func TestRunLoopPrintingGatesChecks(t *testing.T) {
	m := newScripted(monitor.StatusOK)
	m.params.Enable = monitor.EnableWhilePrinting
	r := newLoopRig(t, m)
	r.run(t, 0, 0, 100*time.Millisecond, 3, syscall.SIGTERM)
	if len(m.checks) != 0 || m.clears != 3 {
		t.Errorf("idle printer: expected 0 checks and 3 clears, got %d and %d", len(m.checks), m.clears)
	}

	m = newScripted(monitor.StatusOK)
	m.params.Enable = monitor.EnableWhilePrinting
	r = newLoopRig(t, m)
	r.dispatcher.Dispatch(feed.Message{Kind: feed.KindPrinting, Printing: true})
	r.run(t, 0, 0, 100*time.Millisecond, 3, syscall.SIGTERM)
	if len(m.checks) != 3 {
		t.Errorf("printing: expected 3 checks, got %d", len(m.checks))
	}
	if !r.pub.Reports[0].Printing {
		t.Error("expected report to carry the printing state")
	}
}

func TestRunLoopPublishError(t *testing.T) {
	statuses := append(repeat(monitor.StatusOK, 4), repeat(monitor.StatusNoFilament, 4)...)
	r := newLoopRig(t, newScripted(statuses...))
	r.pub.PublishError = fmt.Errorf("broker unavailable")
	r.store.err = errors.New("disk full")
	r.run(t, 250*time.Millisecond, 0, 100*time.Millisecond, len(statuses), syscall.SIGTERM)

	if len(r.pub.Reports) != 0 {
		t.Errorf("expected 0 recorded reports (publish failed), got %d", len(r.pub.Reports))
	}
	if snap := r.tracker.Snapshot(); snap.Counts.Faults != 1 {
		t.Errorf("alarms must not depend on publishing, got %d faults", snap.Counts.Faults)
	}
	found := false
	for _, se := range r.pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	for _, tt := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	} {
		r := newLoopRig(t, newScripted(monitor.StatusOK))
		r.pub.Connected = true
		r.run(t, 250*time.Millisecond, 0, 100*time.Millisecond, 2, tt.sig)

		if len(r.pub.SystemEvents) != 1 {
			t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
		}
		se := r.pub.SystemEvents[0]
		if se.Event != "SHUTDOWN" || se.Reason != tt.want || !se.Retained {
			t.Errorf("unexpected shutdown event %+v", se)
		}

		var sj status.StatusJSON
		if err := json.Unmarshal(se.RawPayload, &sj); err != nil {
			t.Fatalf("shutdown payload: %v", err)
		}
		if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != tt.want || !sj.Status.MQTT.Connected {
			t.Errorf("unexpected shutdown payload %+v", sj.Status)
		}
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "192.168.1.42")

	// 5-minute ticks with a 10-minute debounce baseline at tick 3 (15m), when
	// the 15-minute heartbeat is also due.
	r := newLoopRig(t, newScripted(monitor.StatusOK))
	r.run(t, 10*time.Minute, 15*time.Minute, 5*time.Minute, 4, syscall.SIGTERM)

	var heartbeats int
	for _, se := range r.pub.SystemEvents {
		if se.Event != "HEARTBEAT" {
			continue
		}
		heartbeats++
		var sj status.StatusJSON
		if err := json.Unmarshal(se.RawPayload, &sj); err != nil {
			t.Fatalf("heartbeat payload: %v", err)
		}
		if sj.Status.Event != "HEARTBEAT" || !sj.Status.Ready {
			t.Errorf("unexpected heartbeat status %+v", sj.Status)
		}
		if len(sj.Status.Channels) != 1 {
			t.Errorf("expected 1 channel in heartbeat, got %d", len(sj.Status.Channels))
		}
		if sj.Status.Network == nil || sj.Status.Network.IP != "192.168.1.42" {
			t.Errorf("heartbeat missing network info: %+v", sj.Status.Network)
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
}

func TestSubscribeFeed(t *testing.T) {
	m := newScripted(monitor.StatusOK)
	r := newLoopRig(t, m)
	if err := subscribeFeed(r.pub, r.dispatcher); err != nil {
		t.Fatal(err)
	}
	for _, topic := range []string{mqtt.TopicExtrusion, mqtt.TopicPrinting, mqtt.TopicCommand} {
		if !r.pub.Subscribed(topic) {
			t.Errorf("not subscribed to %s", topic)
		}
	}

	r.pub.Deliver(mqtt.TopicExtrusion, []byte(`{"channel":0,"mm":0.5}`))
	r.pub.Deliver(mqtt.TopicExtrusion, []byte(`{"channel":0,"mm":0.25,"printing":false}`))
	r.pub.Deliver(mqtt.TopicExtrusion, []byte(`{"channel":5,"mm":1}`))
	r.pub.Deliver(mqtt.TopicExtrusion, []byte(`not json`))
	r.pub.Deliver(mqtt.TopicPrinting, []byte(`{"printing":true}`))
	r.pub.Deliver(mqtt.TopicCommand, []byte(`{"command":"clear","channel":0}`))

	if !r.dispatcher.Printing() {
		t.Error("expected printing state from the feed")
	}
	r.channels[0].Poll(true)
	if in := m.checks[0]; in.Consumed != 0.75 || !in.Printing {
		t.Errorf("unexpected check input %+v", in)
	}
	select {
	case cmd := <-r.dispatcher.Commands():
		if cmd.Name != feed.CommandClear {
			t.Errorf("unexpected command %+v", cmd)
		}
	default:
		t.Error("expected a queued clear command")
	}
}

func TestSubscribeFeedError(t *testing.T) {
	r := newLoopRig(t, newScripted())
	r.pub.SubscribeError = errors.New("not connected")
	if err := subscribeFeed(r.pub, r.dispatcher); err == nil {
		t.Error("expected subscribe error")
	}
}

func TestNilRecorder(t *testing.T) {
	var rec *recorder
	ch, _ := monitor.NewChannel(0, newScripted())
	rec.transition(ch, monitor.StatusOK, monitor.StatusNoFilament, true, time.Now())
	rec.calibration(0, monitor.LiveData{}, time.Now())
}

func TestOpenHistoryPrunes(t *testing.T) {
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{now.AddDate(0, -2, 0), now.Add(-time.Hour)} {
		if _, err := store.RecordTransition(history.Transition{Channel: 1, At: at, From: monitor.StatusOK, To: monitor.StatusNoFilament}); err != nil {
			t.Fatal(err)
		}
	}

	openHistory(store, 30*24*time.Hour, now)

	trs, err := store.RecentTransitions(-1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 1 {
		t.Errorf("expected 1 transition after pruning, got %d", len(trs))
	}
}
