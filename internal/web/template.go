package web

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/openunitstate/unitd/internal/status"
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
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>{{if .State.UnitLabel}}{{.State.UnitLabel}}{{else}}Unit {{.UnitID}}{{end}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.lcd { background: #1a3; color: #021; padding: 6px 10px; display: inline-block; white-space: pre; }
.locked { color: #888; }
.unlocked { color: green; font-weight: bold; }
.maint { color: orange; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>{{if .State.UnitLabel}}{{.State.UnitLabel}}{{else}}Not configured{{end}} <small>({{.UnitID}})</small></h1>

<div class="lcd" id="lcd">{{index .Display 0}}
{{index .Display 1}}</div>

<h2>State</h2>
<table>
<tr><th>Mode</th><td id="mode">{{.State.Mode}}</td></tr>
<tr><th>Maintenance</th><td class="{{if .State.Maintenance}}maint{{end}}">{{if .State.Maintenance}}yes{{if .State.MaintenanceReason}}: {{.State.MaintenanceReason}}{{end}}{{else}}no{{end}}</td></tr>
<tr><th>Lock</th><td id="lock" class="{{if .State.LockEngaged}}locked{{else}}unlocked{{end}}">{{if .State.LockEngaged}}engaged{{else}}released{{end}}</td></tr>
{{if .RelockRunning}}<tr><th>Relock in</th><td>{{uptime .RelockRemaining}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Broker</th><td class="{{if .TransportConnected}}connected{{else}}disconnected{{end}}">{{.Config.Transport}} {{if .TransportConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Address</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Buffered events</th><td>{{.Pending}}</td></tr>
<tr><th>Local IP</th><td>{{orDash .LocalIP}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
{{range .EventCounts}}<tr><th>{{.Type}}</th><td>{{.Count}}</td></tr>
{{else}}<tr><td>none</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>Firmware</th><td>{{orDash .Version}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Topics</th><td>{{.Config.TopicPrefix}}{{.UnitID}}/</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a>{{if .HasMetrics}} | <a href="/metrics">metrics</a>{{end}}</p>
</body>
</html>
`

type eventCount struct {
	Type  string
	Count int
}

func renderHTML(w io.Writer, snap status.Snapshot, hasMetrics bool) {
	counts := make([]eventCount, 0, len(snap.Counts))
	for k, v := range snap.Counts {
		counts = append(counts, eventCount{Type: string(k), Count: v})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Type < counts[j].Type })

	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		EventCounts []eventCount
		HasMetrics  bool
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		EventCounts: counts,
		HasMetrics:  hasMetrics,
	}
	indexTmpl.Execute(w, data)
}
