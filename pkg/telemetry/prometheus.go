package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PromReporter counts protocol events in a Prometheus CounterVec.
type PromReporter struct {
	events *prometheus.CounterVec
}

// NewPromReporter creates a reporter registered against reg.
// Pass prometheus.DefaultRegisterer to use the process-wide registry.
func NewPromReporter(reg prometheus.Registerer) (*PromReporter, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletbridge",
			Subsystem: "protocol",
			Name:      "events_total",
			Help:      "Protocol events by name, RPC method, and signer flavor.",
		},
		[]string{"event", "method", "ephemeral"},
	)
	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &PromReporter{events: events}, nil
}

// Report increments the counter for the event.
func (r *PromReporter) Report(e Event) {
	r.events.WithLabelValues(e.Name, e.Method, strconv.FormatBool(e.Ephemeral)).Inc()
}

// Verify PromReporter implements Reporter.
var _ Reporter = (*PromReporter)(nil)
