package observability

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "messaging"

// Metrics groups every collector of the process on its own registry so
// tests can build as many instances as they want.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesSent        prometheus.Counter
	PersistFailures     prometheus.Counter
	Receipts            *prometheus.CounterVec // scope: message|conversation
	FramesDropped       *prometheus.CounterVec // type
	FramesRejected      *prometheus.CounterVec // code
	SlowConsumers       prometheus.Counter
	Notifications       *prometheus.CounterVec // result: sent|failed|dropped
	TypingExpired       prometheus.Counter
	BackfilledMessages  prometheus.Counter
	Connections         prometheus.Gauge
	Rooms               prometheus.Gauge
	Memberships         prometheus.Gauge
	ProcessCPUPercent   prometheus.Gauge
	ProcessRSSBytes     prometheus.Gauge
	ChannelBacklog      *prometheus.GaugeVec // channel
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Messages persisted and dispatched.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_persist_failures_total",
			Help: "Send attempts rejected by the message store.",
		}),
		Receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_receipts_total",
			Help: "Read transitions by scope.",
		}, []string{"scope"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Outbound frames dropped under backpressure.",
		}, []string{"type"}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_rejected_total",
			Help: "Inbound frames answered with an error frame.",
		}, []string{"code"}),
		SlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_consumers_total",
			Help: "Connections closed because their outbox stayed full.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Offline notifications by result.",
		}, []string{"result"}),
		TypingExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "typing_expired_total",
			Help: "Typing indicators stopped by expiry.",
		}),
		BackfilledMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "backfilled_messages_total",
			Help: "Messages replayed to rejoining connections.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Live connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Conversations with at least one joined connection.",
		}),
		Memberships: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "room_memberships",
			Help: "Joined (conversation, connection) pairs.",
		}),
		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_cpu_percent",
			Help: "CPU usage of the process as sampled by gopsutil.",
		}),
		ProcessRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_rss_bytes",
			Help: "Resident memory of the process.",
		}),
		ChannelBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channel_backlog",
			Help: "Items waiting in an internal channel.",
		}, []string{"channel"}),
	}
	m.Registry.MustRegister(
		m.MessagesSent, m.PersistFailures, m.Receipts, m.FramesDropped, m.FramesRejected,
		m.SlowConsumers, m.Notifications, m.TypingExpired, m.BackfilledMessages,
		m.Connections, m.Rooms, m.Memberships, m.ProcessCPUPercent, m.ProcessRSSBytes,
		m.ChannelBacklog,
		collectors.NewGoCollector(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "goroutines",
			Help: "Number of goroutines.",
		}, func() float64 { return float64(runtime.NumGoroutine()) }),
	)
	return m
}
