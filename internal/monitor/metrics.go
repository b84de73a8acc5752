package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "mc_frontend"

// 拒绝原因标签
const (
	RejectRateLimit      = "rate_limit"
	RejectMaxConnections = "max_connections"
	RejectThrottled      = "throttled"
	RejectInvalidName    = "invalid_name"
	RejectCancelled      = "cancelled"
	RejectUnsupported    = "unsupported_version"
	RejectHandoff        = "handoff"
)

// Metrics 前端的 Prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	framesReceived      *prometheus.CounterVec
	framesSent          prometheus.Counter
	bytesSent           prometheus.Counter
	violations          *prometheus.CounterVec
	handshakes          *prometheus.CounterVec
	statusResponses     prometheus.Counter
	loginRejections     *prometheus.CounterVec
	loginsAdmitted      *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到独立的 Registry，同时附带 Go 运行时和进程指标
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Connections that passed the accept guard.",
		}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "rejected_total",
			Help:      "Connections closed before a session was created.",
		}, []string{"reason"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Inbound frames by connection state.",
		}, []string{"state"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Outbound frames written to sockets.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_bytes_total",
			Help:      "Outbound bytes written to sockets.",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "violations_total",
			Help:      "Sessions closed because of a protocol violation.",
		}, []string{"kind"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "handshakes_total",
			Help:      "Handshakes by resolved version and intent.",
		}, []string{"version", "intent"}),
		statusResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "responses_total",
			Help:      "Server list responses sent.",
		}),
		loginRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "rejections_total",
			Help:      "Logins refused by the admission pipeline.",
		}, []string{"reason"}),
		loginsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "admitted_total",
			Help:      "Logins handed off, by authentication requirement.",
		}, []string{"authenticate"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsAccepted,
		m.connectionsRejected,
		m.framesReceived,
		m.framesSent,
		m.bytesSent,
		m.violations,
		m.handshakes,
		m.statusResponses,
		m.loginRejections,
		m.loginsAdmitted,
	)
	return m
}

// Registry 用于 /metrics 输出
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGauge 注册一个按需取值的仪表，例如活动会话数
func (m *Metrics) RegisterGauge(subsystem, name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ConnectionAccepted() { m.connectionsAccepted.Inc() }
func (m *Metrics) ConnectionRejected(reason string) { m.connectionsRejected.WithLabelValues(reason).Inc() }
func (m *Metrics) FrameReceived(state string) { m.framesReceived.WithLabelValues(state).Inc() }
func (m *Metrics) Violation(kind string) { m.violations.WithLabelValues(kind).Inc() }
func (m *Metrics) StatusResponse() { m.statusResponses.Inc() }
func (m *Metrics) LoginRejected(reason string) { m.loginRejections.WithLabelValues(reason).Inc() }

// FrameSent 记录一帧出站数据
func (m *Metrics) FrameSent(size int) {
	m.framesSent.Inc()
	m.bytesSent.Add(float64(size))
}

// Handshake 记录握手，未注册的版本记为 unsupported
func (m *Metrics) Handshake(version, intent string) {
	m.handshakes.WithLabelValues(version, intent).Inc()
}

// LoginAdmitted 记录准入通过的登录
func (m *Metrics) LoginAdmitted(authenticate bool) {
	label := "false"
	if authenticate {
		label = "true"
	}
	m.loginsAdmitted.WithLabelValues(label).Inc()
}
