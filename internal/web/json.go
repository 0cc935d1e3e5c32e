package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sweeney/filament-sensor/internal/history"
	"github.com/sweeney/filament-sensor/internal/monitor"
	"github.com/sweeney/filament-sensor/internal/status"
)

// channelDetail is the JSON for one channel, with its last calibration.
type channelDetail struct {
	status.ChannelJSON
	LastCalibration *CalibrationJSON `json:"last_calibration,omitempty"`
}

// CalibrationJSON is the JSON representation of a stored calibration.
type CalibrationJSON struct {
	Timestamp   string  `json:"timestamp"`
	LengthMm    float64 `json:"length_mm"`
	AvgPercent  float64 `json:"avg_percent"`
	MinPercent  float64 `json:"min_percent"`
	MaxPercent  float64 `json:"max_percent"`
	Sensitivity float64 `json:"sensitivity"`
}

// HistoryJSON is the envelope for /history.json.
type HistoryJSON struct {
	Transitions []TransitionJSON `json:"transitions"`
}

// TransitionJSON is one stored status change.
type TransitionJSON struct {
	Timestamp string         `json:"timestamp"`
	Channel   int            `json:"channel"`
	From      monitor.Status `json:"from"`
	To        monitor.Status `json:"to"`
	Message   string         `json:"message"`
	Printing  bool           `json:"printing"`
	Detail    string         `json:"detail,omitempty"`
}

func calibrationJSON(c history.Calibration) CalibrationJSON {
	return CalibrationJSON{
		Timestamp:   c.At.UTC().Format(time.RFC3339),
		LengthMm:    c.LengthMm,
		AvgPercent:  c.AvgPercent,
		MinPercent:  c.MinPercent,
		MaxPercent:  c.MaxPercent,
		Sensitivity: c.Sensitivity,
	}
}

func formatHistory(trs []history.Transition) HistoryJSON {
	out := HistoryJSON{Transitions: make([]TransitionJSON, 0, len(trs))}
	for _, tr := range trs {
		out.Transitions = append(out.Transitions, TransitionJSON{
			Timestamp: tr.At.UTC().Format(time.RFC3339),
			Channel:   tr.Channel,
			From:      tr.From,
			To:        tr.To,
			Message:   tr.To.Message(),
			Printing:  tr.Printing,
			Detail:    tr.Detail,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
