// Package metrics records workflow quality measurements to InfluxDB using the
// client's non-blocking write API. Measurement writes never hold up workflow
// completion; write errors surface on the client's error channel and are
// logged there.
package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Writer records measurements.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewWriter connects a non-blocking measurement writer.
func NewWriter(cfg Config) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

// Errors exposes the async write error channel so the caller can log
// failures.
func (w *Writer) Errors() <-chan error {
	return w.writeAPI.Errors()
}

// RecordQuality writes the quality summary for a completed workflow.
func (w *Writer) RecordQuality(severity, crisisType string, timeToFirst, total time.Duration, adherence float64, escalations int, at time.Time) {
	p := influxdb2.NewPoint("workflow_quality",
		map[string]string{
			"severity":    severity,
			"crisis_type": crisisType,
		},
		map[string]interface{}{
			"time_to_first_intervention_ms": timeToFirst.Milliseconds(),
			"total_duration_ms":             total.Milliseconds(),
			"protocol_adherence":            adherence,
			"escalations":                   escalations,
		},
		at,
	)
	w.writeAPI.WritePoint(p)
}

// RecordEscalation writes a single escalation observation.
func (w *Writer) RecordEscalation(from, to, reason string, at time.Time) {
	p := influxdb2.NewPoint("workflow_escalation",
		map[string]string{"from": from, "to": to, "reason": reason},
		map[string]interface{}{"count": 1},
		at,
	)
	w.writeAPI.WritePoint(p)
}

// Close flushes pending writes and shuts the client down.
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}
