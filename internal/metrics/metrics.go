package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the engine's collectors on a private registry. A nil
// *Recorder records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	salesCommitted *prometheus.CounterVec
	commitOutcomes *prometheus.CounterVec
	refunds        prometheus.Counter
	refundedAmount prometheus.Counter
	voids          prometheus.Counter
	commitDuration prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		salesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "sales_committed_total",
			Help:      "Sales durably committed, by payment method.",
		}, []string{"payment_method"}),
		commitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "commit_attempts_total",
			Help:      "Commit attempts by outcome (committed, duplicate, conflict, timeout, rejected, failed).",
		}, []string{"outcome"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "refunds_applied_total",
			Help:      "Refund requests that changed a sale.",
		}),
		refundedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "refunded_amount_total",
			Help:      "Sum of refunded amounts in the company currency.",
		}),
		voids: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "sales_voided_total",
			Help:      "Sales moved to voided.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pos",
			Name:      "commit_duration_seconds",
			Help:      "Latency of the atomic sale commit.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
	r.registry.MustRegister(
		r.salesCommitted,
		r.commitOutcomes,
		r.refunds,
		r.refundedAmount,
		r.voids,
		r.commitDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) SaleCommitted(paymentMethod string) {
	if r == nil {
		return
	}
	r.salesCommitted.WithLabelValues(paymentMethod).Inc()
}

func (r *Recorder) CommitAttempt(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.commitOutcomes.WithLabelValues(outcome).Inc()
	r.commitDuration.Observe(took.Seconds())
}

func (r *Recorder) RefundApplied(amount float64) {
	if r == nil {
		return
	}
	r.refunds.Inc()
	r.refundedAmount.Add(amount)
}

func (r *Recorder) SaleVoided() {
	if r == nil {
		return
	}
	r.voids.Inc()
}
