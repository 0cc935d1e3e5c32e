package logic

import (
	"testing"
	"time"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int, statuses ...monitor.Status) Input {
	in := Input{Time: t0.Add(time.Duration(ms) * time.Millisecond)}
	for i, st := range statuses {
		in.Statuses = append(in.Statuses, ChannelStatus{Channel: i, Status: st})
	}
	return in
}

const (
	good   = monitor.StatusOK
	little = monitor.StatusTooLittleMovement
	much   = monitor.StatusTooMuchMovement
	none   = monitor.StatusNoMonitor
)

func baselined(t *testing.T, debounce time.Duration, statuses ...monitor.Status) *Detector {
	t.Helper()
	d := NewDetector(debounce, t0)
	d.Process(at(0, statuses...))
	d.Process(at(int(debounce/time.Millisecond), statuses...))
	if !d.IsBaselined() {
		t.Fatal("expected baseline")
	}
	return d
}

func TestNewDetector(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)
	if d.debounceDuration != 250*time.Millisecond {
		t.Errorf("expected debounce duration 250ms, got %v", d.debounceDuration)
	}
	if d.baselined {
		t.Error("new detector should not be baselined")
	}
	if !d.lastHeartbeat.Equal(t0) {
		t.Errorf("expected lastHeartbeat %v, got %v", t0, d.lastHeartbeat)
	}
}

func TestBaselineEstablishment(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)

	if events := d.Process(at(0, good, little)); len(events) != 0 {
		t.Errorf("expected no events during baseline, got %d", len(events))
	}
	d.Process(at(200, good, little))
	if d.IsBaselined() {
		t.Error("should not be baselined before debounce period")
	}

	if events := d.Process(at(250, good, little)); len(events) != 0 {
		t.Errorf("a fault present at startup is the baseline, not an event: %v", events)
	}
	if !d.IsBaselined() {
		t.Error("should be baselined after debounce period")
	}
	if st, ok := d.Stable(1); !ok || st != little {
		t.Errorf("expected channel 1 stable tooLittleMovement, got %v %v", st, ok)
	}
	if got := d.Faulted(); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected channel 1 faulted, got %v", got)
	}
}

func TestBaselineResetOnChange(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)
	d.Process(at(0, good))
	d.Process(at(100, little))
	d.Process(at(250, little))
	if d.IsBaselined() {
		t.Error("status changed during baseline, debounce should restart")
	}
	d.Process(at(350, little))
	if !d.IsBaselined() {
		t.Error("expected baseline after a full debounce of the new status")
	}
}

func TestZeroDebounceIsImmediate(t *testing.T) {
	d := NewDetector(0, t0)
	d.Process(at(0, good))
	if !d.IsBaselined() {
		t.Fatal("zero debounce baselines on the first poll")
	}
	events := d.Process(at(10, little))
	if len(events) != 1 || events[0].Type != EventFault {
		t.Errorf("expected immediate fault, got %v", events)
	}
}

func TestFaultAndClear(t *testing.T) {
	d := baselined(t, 250*time.Millisecond, good, good)

	if events := d.Process(at(300, good, little)); len(events) != 0 {
		t.Errorf("fault not yet debounced: %v", events)
	}
	events := d.Process(at(550, good, little))
	if len(events) != 1 {
		t.Fatalf("expected one fault, got %v", events)
	}
	want := Event{Timestamp: t0.Add(550 * time.Millisecond), Channel: 1, Type: EventFault, From: good, To: little}
	if events[0] != want {
		t.Errorf("got %+v, want %+v", events[0], want)
	}

	d.Process(at(600, good, good))
	events = d.Process(at(850, good, good))
	if len(events) != 1 || events[0].Type != EventCleared || events[0].From != little {
		t.Errorf("expected cleared from tooLittleMovement, got %v", events)
	}

	counts := d.EventCountsSnapshot()
	if counts.Faults != 1 || counts.Cleared != 1 {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestBounceRejection(t *testing.T) {
	d := baselined(t, 250*time.Millisecond, good)

	for _, ms := range []int{300, 400, 500} {
		d.Process(at(ms, little))
		if events := d.Process(at(ms+50, good)); len(events) != 0 {
			t.Errorf("brief fault at %dms should not alarm: %v", ms, events)
		}
	}
	if d.EventCountsSnapshot().Faults != 0 {
		t.Error("expected no faults counted")
	}
}

func TestFaultToDifferentFault(t *testing.T) {
	d := baselined(t, 0, little)
	events := d.Process(at(10, much))
	if len(events) != 1 || events[0].Type != EventFault || events[0].From != little || events[0].To != much {
		t.Errorf("expected fault change event, got %v", events)
	}
}

func TestNoMonitorIsNotAFault(t *testing.T) {
	d := baselined(t, 0, good)
	if events := d.Process(at(10, none)); len(events) != 0 {
		t.Errorf("ok to noMonitor should not alarm: %v", events)
	}
	if st, _ := d.Stable(0); st != none {
		t.Errorf("expected stable noMonitor, got %v", st)
	}
}

func TestMultipleChannelsInOrder(t *testing.T) {
	d := baselined(t, 0, good, good, good)
	events := d.Process(at(10, much, good, little))
	if len(events) != 2 || events[0].Channel != 0 || events[1].Channel != 2 {
		t.Errorf("expected faults on channels 0 and 2 in order, got %v", events)
	}
	if got := d.Faulted(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("unexpected faulted channels %v", got)
	}
}

func TestStableUnknownChannel(t *testing.T) {
	d := NewDetector(0, t0)
	if _, ok := d.Stable(3); ok {
		t.Error("unknown channel should not report a stable status")
	}
}

func TestHeartbeat(t *testing.T) {
	d := NewDetector(250*time.Millisecond, t0)

	if hb := d.CheckHeartbeat(t0.Add(time.Hour), time.Minute); hb != nil {
		t.Error("no heartbeat before baseline")
	}

	d.Process(at(0, good))
	d.Process(at(250, good))

	if hb := d.CheckHeartbeat(t0.Add(30*time.Second), time.Minute); hb != nil {
		t.Error("heartbeat before interval")
	}
	hb := d.CheckHeartbeat(t0.Add(time.Minute), time.Minute)
	if hb == nil {
		t.Fatal("expected heartbeat at interval")
	}
	if hb.Uptime != time.Minute {
		t.Errorf("expected uptime 1m, got %v", hb.Uptime)
	}
	if d.CheckHeartbeat(t0.Add(90*time.Second), time.Minute) != nil {
		t.Error("interval restarts from the last heartbeat")
	}
	if d.CheckHeartbeat(t0.Add(time.Hour), 0) != nil {
		t.Error("zero interval disables heartbeat")
	}
}
