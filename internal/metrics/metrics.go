// Package metrics holds the Prometheus collectors for identity and graph events.
// Collectors register on the default registry at init; Handler exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Logins counts login attempts by result: success, invalid, inactive, remembered.
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	// Activations counts activation link clicks by result: success, invalid.
	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_activations_total",
		Help: "Activation link outcomes",
	}, []string{"result"})

	// PasswordResets counts reset flow events by stage: requested, completed, invalid, expired.
	PasswordResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_password_resets_total",
		Help: "Password reset flow events by stage",
	}, []string{"stage"})

	// GraphChanges counts follow and unfollow calls.
	GraphChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_graph_changes_total",
		Help: "Follow graph mutations by operation",
	}, []string{"op"})

	// MailJobs counts mail queue events by type and result: enqueued, sent, failed, dropped.
	MailJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_mail_jobs_total",
		Help: "Mail queue events by job type and result",
	}, []string{"type", "result"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
