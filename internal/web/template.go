package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/filament-sensor/internal/monitor"
	"github.com/sweeney/filament-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"statusClass": func(s monitor.Status) string {
		switch {
		case s == monitor.StatusOK:
			return "ok"
		case s.IsFault():
			return "fault"
		}
		return "idle"
	},
	"percent": func(v float64) string {
		return fmt.Sprintf("%.0f%%", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Filament Sensor</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.ok { color: green; font-weight: bold; }
.fault { color: red; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.diag { font-size: 0.85em; color: #555; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Filament Sensor{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Channels</h2>
<p>Printer: <span id="printing">{{if .Printing}}printing{{else}}idle{{end}}</span></p>
<table>
<tr><th>Ch</th><th>Type</th><th>Mode</th><th>Status</th><th>Position</th><th>Measured</th><th></th></tr>
{{range .Channels}}<tr>
<td>{{.Index}}</td>
<td>{{.Type}}</td>
<td>{{.Params.Enable}}</td>
<td id="ch{{.Index}}-status" class="{{statusClass .Status}}">{{.Status.Message}}</td>
<td id="ch{{.Index}}-pos">{{if .Live.HavePosition}}{{.Live.Position}}{{else}}-{{end}}</td>
<td id="ch{{.Index}}-avg">{{if .Live.HasLiveData}}{{percent .Live.AvgPercent}}{{else}}-{{end}}</td>
<td><a href="/channels/{{.Index}}">json</a></td>
</tr>
<tr><td></td><td colspan="6" class="diag">{{.Diagnostics}}</td></tr>
{{else}}<tr><td colspan="7">no channels configured</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Feed</th><td>{{.Config.Feed}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Alarms</h2>
<table>
<tr><th>Faults</th><td>{{.Counts.Faults}}</td></tr>
<tr><th>Cleared</th><td>{{.Counts.Cleared}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.Database}}<tr><th>History</th><td><a href="/history.json">{{.Config.Database}}</a></td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "filament/sensor/status";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function setText(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (!msg.filament) { return; }
      setText("printing", msg.filament.printing ? "printing" : "idle");
      msg.filament.channels.forEach(function(ch) {
        var el = document.getElementById("ch" + ch.channel + "-status");
        if (el) {
          el.textContent = ch.message;
          el.className = ch.status === "ok" ? "ok" : (ch.status === "noMonitor" ? "idle" : "fault");
        }
        if (ch.live) {
          setText("ch" + ch.channel + "-pos", ch.live.have_position ? ch.live.position : "-");
          setText("ch" + ch.channel + "-avg", Math.round(ch.live.avg_percent) + "%");
        }
      });
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
