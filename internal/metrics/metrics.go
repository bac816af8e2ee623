package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "smbridge"

// Bridge groups the bridge collectors. A nil *Bridge records nothing.
type Bridge struct {
	registry *prometheus.Registry

	messagesReceived prometheus.Counter
	messagesDropped  prometheus.Counter
	publishes        *prometheus.CounterVec
	streamsCreated   prometheus.Counter
	configUpdates    *prometheus.CounterVec
	state            *prometheus.GaugeVec
}

func New() *Bridge {
	reg := prometheus.NewRegistry()

	m := &Bridge{
		registry: reg,
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct // optional config
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "MQTT messages delivered to the router.",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct // optional config
			Namespace: namespace,
			Name:      "messages_unmapped_total",
			Help:      "MQTT messages that matched no mapping entry.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct // optional config
			Namespace: namespace,
			Name:      "stream_publishes_total",
			Help:      "Stream publishes by result.",
		}, []string{"result"}),
		streamsCreated: prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct // optional config
			Namespace: namespace,
			Name:      "streams_created_total",
			Help:      "Streams created on demand.",
		}),
		configUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct // optional config
			Namespace: namespace,
			Name:      "config_updates_total",
			Help:      "Configuration section updates by section and result.",
		}, []string{"section", "result"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{ //nolint:exhaustruct // optional config
			Namespace: namespace,
			Name:      "service_state",
			Help:      "1 for the current service state, 0 otherwise.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct // defaults
		m.messagesReceived,
		m.messagesDropped,
		m.publishes,
		m.streamsCreated,
		m.configUpdates,
		m.state,
	)

	return m
}

func (m *Bridge) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Bridge) MessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Bridge) MessageUnmapped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
}

func (m *Bridge) Published(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishes.WithLabelValues("error").Inc()
		return
	}
	m.publishes.WithLabelValues("ok").Inc()
}

func (m *Bridge) StreamCreated() {
	if m == nil {
		return
	}
	m.streamsCreated.Inc()
}

func (m *Bridge) ConfigUpdated(section string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.configUpdates.WithLabelValues(section, result).Inc()
}

// State marks current as the only active state among all.
func (m *Bridge) State(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}
