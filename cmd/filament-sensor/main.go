// Command filament-sensor monitors Duet3D filament sensors on GPIO lines and
// publishes filament faults to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/filament-sensor/internal/feed"
	"github.com/sweeney/filament-sensor/internal/gpio"
	"github.com/sweeney/filament-sensor/internal/history"
	"github.com/sweeney/filament-sensor/internal/logic"
	"github.com/sweeney/filament-sensor/internal/monitor"
	"github.com/sweeney/filament-sensor/internal/mqtt"
	"github.com/sweeney/filament-sensor/internal/status"
	"github.com/sweeney/filament-sensor/internal/web"
)

// feedMQTT selects the MQTT topics as the extrusion feed.
const feedMQTT = "mqtt"

// commandQueue is how many operator commands may wait for the next poll.
const commandQueue = 16

type options struct {
	poll        time.Duration
	debounce    time.Duration
	heartbeat   time.Duration
	broker      string
	httpAddr    string
	wsBroker    string
	feed        string
	baud        int
	db          string
	retention   time.Duration
	chip        string
	channels    channelFlags
	printConfig bool
}

func main() {
	var opts options
	flag.DurationVar(&opts.poll, "poll", 10*time.Millisecond, "Channel polling interval")
	flag.DurationVar(&opts.debounce, "debounce", 500*time.Millisecond, "How long a fault must persist before it is alarmed")
	flag.StringVar(&opts.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.DurationVar(&opts.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&opts.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.StringVar(&opts.wsBroker, "ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	flag.StringVar(&opts.feed, "feed", feedMQTT, `Extrusion feed: "mqtt" or a serial device path`)
	flag.IntVar(&opts.baud, "baud", 115200, "Serial feed baud rate")
	flag.StringVar(&opts.db, "db", "", "SQLite history database path (empty to disable)")
	flag.DurationVar(&opts.retention, "retention", 30*24*time.Hour, "Drop history older than this at startup (0 keeps everything)")
	flag.StringVar(&opts.chip, "chip", gpio.DefaultChip, "GPIO chip")
	flag.Var(&opts.channels, "channel", "Channel as N:type:pin[:key=value,...] (repeatable)")
	flag.BoolVar(&opts.printConfig, "print-config", false, "Print channel configuration and exit")

	flag.Parse()

	opts.wsBroker = resolveWSBroker(opts.wsBroker, opts.broker)
	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(opts options) error {
	if len(opts.channels) == 0 {
		return errors.New("no channels configured (use --channel)")
	}

	channels, err := buildChannels(opts.channels, gpio.MonotonicClock{})
	if err != nil {
		return err
	}

	if opts.printConfig {
		for i, ch := range channels {
			spec := opts.channels[i]
			p := ch.Monitor().Params()
			fmt.Printf("channel %d: %s on pin %d, %s, check %gmm, allow %.0f%%..%.0f%%\n",
				ch.Index(), spec.Type, spec.Pin, p.Enable, p.CheckLength,
				p.MinMovementAllowed*100, p.MaxMovementAllowed*100)
		}
		return nil
	}

	// Initialize GPIO
	source, err := gpio.NewRealSource(opts.chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer source.Close()
	for i, ch := range channels {
		spec := opts.channels[i]
		if err := source.Watch(spec.Pin, spec.Type != monitor.TypePulsed, ch); err != nil {
			return fmt.Errorf("channel %d: %w", ch.Index(), err)
		}
	}

	extruders := make(map[int]feed.Extruder, len(channels))
	for _, ch := range channels {
		extruders[ch.Index()] = ch
	}
	dispatcher := feed.NewDispatcher(extruders, commandQueue)

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(opts.broker, mqtt.ClientID("filament-sensor"))
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.feed == feedMQTT {
		if err := subscribeFeed(publisher, dispatcher); err != nil {
			return err
		}
	} else {
		src, err := feed.OpenSerial(opts.feed, feed.PortOptions{BaudRate: opts.baud})
		if err != nil {
			return fmt.Errorf("init feed: %w", err)
		}
		defer src.Close()
		go func() {
			if err := src.Run(ctx, dispatcher.Dispatch); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("feed: %v", err)
			}
			lines, malformed := src.Stats()
			log.Printf("feed: serial closed after %d lines (%d malformed)", lines, malformed)
		}()
	}

	// Initialize history
	var rec *recorder
	if opts.db != "" {
		store, err := history.Open(opts.db)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		defer store.Close()
		openHistory(store, opts.retention, time.Now())
		rec = &recorder{store: store, session: uuid.NewString()}
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      opts.poll.Milliseconds(),
		DebounceMs:  opts.debounce.Milliseconds(),
		HeartbeatMs: opts.heartbeat.Milliseconds(),
		Broker:      opts.broker,
		HTTPAddr:    opts.httpAddr,
		Feed:        opts.feed,
		Database:    opts.db,
		WSBroker:    opts.wsBroker,
	})
	tracker.Update(snapshotChannels(channels), false, false, logic.EventCounts{})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if opts.httpAddr != "" {
		var hist web.History
		if rec != nil {
			hist = rec.store
		}
		srv := web.New(opts.httpAddr, tracker, hist, dispatcher)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", opts.httpAddr)
	}

	log.Printf("started: channels=%s poll=%v debounce=%v broker=%s feed=%s heartbeat=%v",
		opts.channels.String(), opts.poll, opts.debounce, opts.broker, opts.feed, opts.heartbeat)

	ticker := time.NewTicker(opts.poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(channels, dispatcher, publisher, publisher, tracker, rec, opts.debounce, opts.heartbeat, time.Now, ticker.C, sigCh)
}

// buildChannels creates a monitor and channel for every spec, in spec order.
func buildChannels(specs []channelSpec, clock monitor.Clock) ([]*monitor.Channel, error) {
	channels := make([]*monitor.Channel, 0, len(specs))
	for _, spec := range specs {
		mon, err := monitor.New(spec.Type, spec.Params, clock)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", spec.Index, err)
		}
		ch, err := monitor.NewChannel(spec.Index, mon)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// subscribeFeed routes the MQTT feed topics to the dispatcher.
func subscribeFeed(sub mqtt.Subscriber, d *feed.Dispatcher) error {
	topics := []struct {
		topic string
		parse func([]byte) (feed.Message, error)
	}{
		{mqtt.TopicExtrusion, feed.ParseExtrusionJSON},
		{mqtt.TopicPrinting, feed.ParsePrintingJSON},
		{mqtt.TopicCommand, feed.ParseCommandJSON},
	}
	for _, t := range topics {
		parse := t.parse
		err := sub.Subscribe(t.topic, func(payload []byte) {
			m, err := parse(payload)
			if err != nil {
				log.Printf("feed: %v", err)
				return
			}
			if err := d.Dispatch(m); err != nil && !errors.Is(err, feed.ErrUnknownChannel) {
				log.Printf("feed: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", t.topic, err)
		}
	}
	return nil
}

func runLoop(channels []*monitor.Channel, dispatcher *feed.Dispatcher, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, rec *recorder, debounce, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	detector := logic.NewDetector(debounce, startTime)
	reporter := monitor.NewReporter(0, 0)

	byIndex := make(map[int]*monitor.Channel, len(channels))
	for _, ch := range channels {
		byIndex[ch.Index()] = ch
	}
	calibrated := make(map[int]bool, len(channels))

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
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
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			printing := dispatcher.Printing()
			changed := applyCommands(byIndex, dispatcher.Commands(), rec, printing, t)

			statuses := make([]logic.ChannelStatus, 0, len(channels))
			haveLive := false
			for _, ch := range channels {
				prev := ch.Status()
				st, c := ch.Poll(printing)
				if c {
					changed = true
					log.Printf("channel %d: %s -> %s", ch.Index(), prev, st)
					rec.transition(ch, prev, st, printing, t)
				}

				ld := ch.LiveData()
				haveLive = haveLive || ld.HasLiveData
				if ld.Calibrated && !calibrated[ch.Index()] {
					log.Printf("channel %d: calibrated over %.1fmm, %.0f%% (%.0f%%..%.0f%%)",
						ch.Index(), ld.CalibrationLength, ld.AvgPercent, ld.MinPercent, ld.MaxPercent)
					rec.calibration(ch.Index(), ld, t)
				}
				calibrated[ch.Index()] = ld.Calibrated

				statuses = append(statuses, logic.ChannelStatus{Channel: ch.Index(), Status: st})
			}

			if reporter.Due(t, changed, haveLive) {
				if err := publisher.PublishStatus(buildReport(t, printing, changed, channels)); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
			}

			for _, event := range detector.Process(logic.Input{Time: t, Statuses: statuses}) {
				log.Printf("alarm: %s channel %d (%s -> %s)", event.Type, event.Channel, event.From, event.To)
			}

			// Heartbeats wait for the baseline
			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.Printf("heartbeat: uptime=%v faults=%d cleared=%d",
					hbData.Uptime, hbData.Counts.Faults, hbData.Counts.Cleared)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
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
					tracker.Update(snapshotChannels(channels), printing, detector.IsBaselined(), detector.EventCountsSnapshot())
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}

			// Update status tracker for HTTP consumers, baselined or not
			if tracker != nil {
				tracker.Update(snapshotChannels(channels), printing, detector.IsBaselined(), detector.EventCountsSnapshot())
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
			}
		}
	}
}

// applyCommands runs every queued operator command. It reports whether any
// channel's status changed.
func applyCommands(byIndex map[int]*monitor.Channel, cmds <-chan feed.Command, rec *recorder, printing bool, t time.Time) bool {
	changed := false
	for {
		select {
		case cmd := <-cmds:
			ch, ok := byIndex[cmd.Channel]
			if !ok {
				continue
			}
			switch cmd.Name {
			case feed.CommandClear:
				prev := ch.Status()
				st := ch.Clear()
				log.Printf("channel %d: cleared", ch.Index())
				if st != prev {
					changed = true
					log.Printf("channel %d: %s -> %s", ch.Index(), prev, st)
					rec.transition(ch, prev, st, printing, t)
				}
			case feed.CommandConfigure:
				p, err := cmd.Apply(ch.Monitor().Params())
				if err == nil {
					err = ch.Configure(p)
				}
				if err != nil {
					log.Printf("channel %d: configure: %v", ch.Index(), err)
					continue
				}
				log.Printf("channel %d: configured %+v", ch.Index(), p)
			}
		default:
			return changed
		}
	}
}

func snapshotChannels(channels []*monitor.Channel) []status.ChannelSnapshot {
	out := make([]status.ChannelSnapshot, 0, len(channels))
	for _, ch := range channels {
		mon := ch.Monitor()
		out = append(out, status.ChannelSnapshot{
			Index:       ch.Index(),
			Type:        mon.Type(),
			Status:      ch.Status(),
			Params:      mon.Params(),
			Live:        ch.LiveData(),
			Diagnostics: ch.Diagnostics(),
		})
	}
	return out
}

func buildReport(t time.Time, printing, changed bool, channels []*monitor.Channel) mqtt.StatusReport {
	report := mqtt.StatusReport{
		Timestamp: t,
		Printing:  printing,
		Changed:   changed,
		Channels:  make([]mqtt.ChannelReport, 0, len(channels)),
	}
	for _, ch := range channels {
		report.Channels = append(report.Channels, mqtt.ChannelReport{
			Channel: ch.Index(),
			Type:    ch.Monitor().Type(),
			Status:  ch.Status(),
			Live:    ch.LiveData(),
		})
	}
	return report
}

// historyStore is the subset of history.Store the loop writes to.
type historyStore interface {
	RecordTransition(tr history.Transition) (int64, error)
	RecordCalibration(c history.Calibration) (int64, error)
	RecentTransitions(channel, limit int) ([]history.Transition, error)
	LatestCalibration(channel int) (history.Calibration, bool, error)
}

// recorder writes status changes and calibrations for one run of the
// daemon. A nil recorder records nothing.
type recorder struct {
	store   historyStore
	session string
}

func (r *recorder) transition(ch *monitor.Channel, from, to monitor.Status, printing bool, t time.Time) {
	if r == nil {
		return
	}
	_, err := r.store.RecordTransition(history.Transition{
		Session:  r.session,
		Channel:  ch.Index(),
		At:       t,
		From:     from,
		To:       to,
		Printing: printing,
		Detail:   ch.Monitor().Diagnostics(),
	})
	if err != nil {
		log.Printf("history: %v", err)
	}
}

func (r *recorder) calibration(channel int, ld monitor.LiveData, t time.Time) {
	if r == nil {
		return
	}
	_, err := r.store.RecordCalibration(history.Calibration{
		Session:     r.session,
		Channel:     channel,
		At:          t,
		LengthMm:    ld.CalibrationLength,
		AvgPercent:  ld.AvgPercent,
		MinPercent:  ld.MinPercent,
		MaxPercent:  ld.MaxPercent,
		Sensitivity: ld.Sensitivity,
	})
	if err != nil {
		log.Printf("history: %v", err)
	}
}

// openHistory prunes old records and logs the faults already on file.
func openHistory(store *history.Store, retention time.Duration, now time.Time) {
	if retention > 0 {
		n, err := store.Prune(now.Add(-retention))
		if err != nil {
			log.Printf("history: prune: %v", err)
		} else if n > 0 {
			log.Printf("history: pruned %d old records", n)
		}
	}
	counts, err := store.FaultCounts()
	if err != nil {
		log.Printf("history: %v", err)
		return
	}
	idx := make([]int, 0, len(counts))
	for ch := range counts {
		idx = append(idx, ch)
	}
	sort.Ints(idx)
	for _, ch := range idx {
		log.Printf("history: channel %d has %d recorded faults", ch, counts[ch])
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

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
