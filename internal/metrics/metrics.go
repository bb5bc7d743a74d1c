package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 总线与协议指标；所有记录方法对 nil 接收者安全
type AppMetrics struct {
	FramesRx           prometheus.Counter
	FramesTx           prometheus.Counter
	PendingFrames      prometheus.Gauge
	PendingDropped     prometheus.Counter
	MatchTimeouts      prometheus.Counter
	MasterRequests     *prometheus.CounterVec // labels: cmd, result=ok|timeout|error
	SlaveDispatch      *prometheus.CounterVec // labels: cmd
	BroadcastsSent     prometheus.Counter
	DatapointsReceived *prometheus.CounterVec // labels: source
	NodesOnline        prometheus.Gauge
}

// NewAppMetrics 注册并返回指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		FramesRx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "can_frames_rx_total",
			Help: "Total CAN frames read from the transport.",
		}),
		FramesTx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "can_frames_tx_total",
			Help: "Total CAN frames written to the transport.",
		}),
		PendingFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "can_pending_frames",
			Help: "Frames read but not yet claimed by a matching reader.",
		}),
		PendingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "can_pending_dropped_total",
			Help: "Pending frames dropped because the queue was full.",
		}),
		MatchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "can_match_timeouts_total",
			Help: "Matching reads that reached their deadline.",
		}),
		MasterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovercan_master_requests_total",
			Help: "Master requests by command and result.",
		}, []string{"cmd", "result"}),
		SlaveDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovercan_slave_dispatch_total",
			Help: "Commands dispatched to slave handlers.",
		}, []string{"cmd"}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rovercan_broadcasts_sent_total",
			Help: "Datapoint broadcasts sent by this node.",
		}),
		DatapointsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovercan_datapoints_received_total",
			Help: "Broadcast datapoints collected by source node.",
		}, []string{"source"}),
		NodesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rovercan_nodes_online",
			Help: "Nodes that answered a ping recently.",
		}),
	}
	reg.MustRegister(m.FramesRx, m.FramesTx, m.PendingFrames, m.PendingDropped, m.MatchTimeouts,
		m.MasterRequests, m.SlaveDispatch, m.BroadcastsSent, m.DatapointsReceived, m.NodesOnline)
	return m
}

// MatcherCallbacks 返回可直接安装到 canbus.Matcher 的回调
func (m *AppMetrics) MatcherCallbacks() (onRead, onWrite func(), onPending func(int), onDrop, onTimeout func()) {
	if m == nil {
		return nil, nil, nil, nil, nil
	}
	return m.FramesRx.Inc, m.FramesTx.Inc,
		func(n int) { m.PendingFrames.Set(float64(n)) },
		m.PendingDropped.Inc, m.MatchTimeouts.Inc
}

// ObserveRequest 记录主站请求结果
func (m *AppMetrics) ObserveRequest(cmd, result string) {
	if m == nil {
		return
	}
	m.MasterRequests.WithLabelValues(cmd, result).Inc()
}

// ObserveDispatch 记录从站命令分发
func (m *AppMetrics) ObserveDispatch(cmd string) {
	if m == nil {
		return
	}
	m.SlaveDispatch.WithLabelValues(cmd).Inc()
}

// ObserveBroadcast 记录本节点发出的广播
func (m *AppMetrics) ObserveBroadcast() {
	if m == nil {
		return
	}
	m.BroadcastsSent.Inc()
}

// ObserveDatapoint 记录采集到的广播数据点
func (m *AppMetrics) ObserveDatapoint(source string) {
	if m == nil {
		return
	}
	m.DatapointsReceived.WithLabelValues(source).Inc()
}

// SetNodesOnline 设置在线节点数
func (m *AppMetrics) SetNodesOnline(n int) {
	if m == nil {
		return
	}
	m.NodesOnline.Set(float64(n))
}
