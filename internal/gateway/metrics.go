package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	admittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "gateway",
		Name:      "admitted_total",
		Help:      "Requests accepted by the admission controller",
	})

	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "gateway",
		Name:      "rejected_total",
		Help:      "Requests rejected at admission, by reason",
	}, []string{"reason"})

	completedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "gateway",
		Name:      "completed_total",
		Help:      "Requests that reached Completed",
	})

	failedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "gateway",
		Name:      "failed_total",
		Help:      "Requests that reached Failed, by reason",
	}, []string{"reason"})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "gateway",
		Name:      "queue_depth",
		Help:      "Admitted requests waiting for dispatch",
	})

	chunksRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "gateway",
		Name:      "chunks_relayed_total",
		Help:      "Stream chunks forwarded to client sinks",
	})
)

func init() {
	prometheus.MustRegister(admittedTotal, rejectedTotal, completedTotal, failedTotal, queueDepthGauge, chunksRelayed)
}
