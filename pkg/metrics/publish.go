package metrics

import "github.com/prometheus/client_golang/prometheus"

// PublishMetrics tracks per-target provider outcomes of the publish worker.
type PublishMetrics struct {
	targets *prometheus.CounterVec
	posts   *prometheus.CounterVec
}

// NewPublishMetrics registers publish metrics on the provided registerer.
func NewPublishMetrics(reg prometheus.Registerer) *PublishMetrics {
	if reg == nil {
		return &PublishMetrics{}
	}
	targets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_targets_total",
		Help: "Provider publish attempts by provider and outcome.",
	}, []string{"provider", "result"})
	posts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_posts_total",
		Help: "Scheduled posts settled by final status.",
	}, []string{"status"})
	reg.MustRegister(targets, posts)
	return &PublishMetrics{targets: targets, posts: posts}
}

// ObserveTarget counts one provider call.
func (m *PublishMetrics) ObserveTarget(provider string, success bool) {
	if m == nil || m.targets == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.targets.WithLabelValues(normalizeLabel(provider), result).Inc()
}

// ObservePost counts one settled post.
func (m *PublishMetrics) ObservePost(status string) {
	if m == nil || m.posts == nil {
		return
	}
	m.posts.WithLabelValues(normalizeLabel(status)).Inc()
}
