package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	UnitID                 string         `json:"unit_id"`
	Firmware               string         `json:"firmware"`
	Label                  string         `json:"label"`
	Mode                   string         `json:"mode"`
	Maintenance            bool           `json:"maintenance"`
	MaintenanceReason      string         `json:"maintenance_reason,omitempty"`
	LockEngaged            bool           `json:"lock_engaged"`
	RelockRemainingSeconds *int64         `json:"relock_remaining_seconds,omitempty"`
	Display                [2]string      `json:"display"`
	UptimeSeconds          int64          `json:"uptime_seconds"`
	StartTime              string         `json:"start_time"`
	Timestamp              string         `json:"timestamp"`
	Transport              TransportJSON  `json:"transport"`
	Counts                 map[string]int `json:"event_counts"`
	LocalIP                string         `json:"local_ip,omitempty"`
	Network                *NetworkJSON   `json:"network,omitempty"`
	Config                 ConfigJSON     `json:"config"`
}

// TransportJSON reports broker connection state.
type TransportJSON struct {
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Pending   int    `json:"pending"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
}

// Build converts a snapshot into its JSON form.
func Build(snap Snapshot) StatusInner {
	counts := make(map[string]int, len(snap.Counts))
	for k, v := range snap.Counts {
		counts[string(k)] = v
	}

	inner := StatusInner{
		UnitID:            snap.UnitID,
		Firmware:          snap.Version,
		Label:             snap.State.UnitLabel,
		Mode:              snap.State.Mode.String(),
		Maintenance:       snap.State.Maintenance,
		MaintenanceReason: snap.State.MaintenanceReason,
		LockEngaged:       snap.State.LockEngaged,
		Display:           snap.Display,
		UptimeSeconds:     int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:         snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:         snap.Now.UTC().Format(time.RFC3339),
		Transport: TransportJSON{
			Kind:      snap.Config.Transport,
			Connected: snap.TransportConnected,
			Broker:    snap.Config.Broker,
			Pending:   snap.Pending,
		},
		Counts:  counts,
		LocalIP: snap.LocalIP,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.RelockRunning {
		secs := int64(snap.RelockRemaining / time.Second)
		inner.RelockRemainingSeconds = &secs
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: Build(snap)}, "", "  ")
	return data
}
