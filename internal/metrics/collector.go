package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus instruments for the marketplace core.
// A nil *Collector is valid and records nothing, so metrics stay optional.
type Collector struct {
	// Task metrics
	tasksSubmitted *prometheus.CounterVec
	tasksAssigned  *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec

	// Scheduler metrics
	schedulingPassDuration prometheus.Histogram
	agentsRegistered       prometheus.Gauge
	agentsAvailable        prometheus.Gauge
	queueLength            prometheus.Gauge

	// Router metrics
	messagesDelivered *prometheus.CounterVec
	messagesRejected  *prometheus.CounterVec
	messagesQueued    prometheus.Counter
}

// NewCollector creates a collector registered against the given registerer.
// A nil registerer uses the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.tasksSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted to the marketplace",
		},
		[]string{"priority"},
	)

	c.tasksAssigned = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_assigned_total",
			Help:      "Total number of task assignments",
		},
		[]string{"strategy"},
	)

	c.tasksFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	c.schedulingPassDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduling_pass_duration_seconds",
			Help:      "Duration of scheduling passes in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	c.agentsRegistered = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_registered",
			Help:      "Number of registered agents",
		},
	)

	c.agentsAvailable = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_available",
			Help:      "Number of agents able to accept another task",
		},
	)

	c.queueLength = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_length",
			Help:      "Number of tasks waiting in the priority queue",
		},
	)

	c.messagesDelivered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages dispatched to handlers",
		},
		[]string{"type"},
	)

	c.messagesRejected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Total number of hard-rejected messages",
		},
		[]string{"reason"},
	)

	c.messagesQueued = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_queued_total",
			Help:      "Total number of messages queued for offline receivers",
		},
	)

	return c
}

// TaskSubmitted records a task submission.
func (c *Collector) TaskSubmitted(priority string) {
	if c == nil {
		return
	}
	c.tasksSubmitted.WithLabelValues(priority).Inc()
}

// TaskAssigned records a task assignment under the given strategy.
func (c *Collector) TaskAssigned(strategy string) {
	if c == nil {
		return
	}
	c.tasksAssigned.WithLabelValues(strategy).Inc()
}

// TaskFinished records a task reaching a terminal state.
func (c *Collector) TaskFinished(status string) {
	if c == nil {
		return
	}
	c.tasksFinished.WithLabelValues(status).Inc()
}

// SchedulingPass records the duration of one scheduling pass.
func (c *Collector) SchedulingPass(seconds float64) {
	if c == nil {
		return
	}
	c.schedulingPassDuration.Observe(seconds)
}

// AgentCounts updates the registered and available agent gauges.
func (c *Collector) AgentCounts(registered, available int) {
	if c == nil {
		return
	}
	c.agentsRegistered.Set(float64(registered))
	c.agentsAvailable.Set(float64(available))
}

// QueueLength updates the task queue length gauge.
func (c *Collector) QueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

// MessageDelivered records a dispatched message.
func (c *Collector) MessageDelivered(msgType string) {
	if c == nil {
		return
	}
	c.messagesDelivered.WithLabelValues(msgType).Inc()
}

// MessageRejected records a hard-rejected message.
func (c *Collector) MessageRejected(reason string) {
	if c == nil {
		return
	}
	c.messagesRejected.WithLabelValues(reason).Inc()
}

// MessageQueued records a message queued for an offline receiver.
func (c *Collector) MessageQueued() {
	if c == nil {
		return
	}
	c.messagesQueued.Inc()
}
