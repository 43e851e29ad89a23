// Package metrics defines the Prometheus metrics exported by Agora.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agora"

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// which keeps unit tests free of registry plumbing.
type Metrics struct {
	DispatchDuration *prometheus.HistogramVec
	ConflictRetries  *prometheus.CounterVec

	VotesCast             *prometheus.CounterVec
	MembershipTransitions *prometheus.CounterVec
	ReportTransitions     *prometheus.CounterVec
	SanctionFailures      prometheus.Counter
	MessagesSent          prometheus.Counter

	LoginAttempts     *prometheus.CounterVec
	Lockouts          prometheus.Counter
	OTPVerifications  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	ArchiveFailures   prometheus.Counter

	SweeperRuns        prometheus.Counter
	SweeperPurged      prometheus.Counter
	SweeperLastRunTime prometheus.Gauge
	SweeperDuration    prometheus.Histogram
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handling a dispatched request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		ConflictRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Optimistic-concurrency conflicts that triggered a retry.",
		}, []string{"operation"}),

		VotesCast: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Votes that changed a target's score.",
		}, []string{"kind", "value"}),
		MembershipTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_transitions_total",
			Help:      "Committed membership state transitions.",
		}, []string{"event"}),
		ReportTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_transitions_total",
			Help:      "Committed moderation report transitions.",
		}, []string{"event"}),
		SanctionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanction_failures_total",
			Help:      "Resolved reports whose sanction side effect failed.",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages accepted into a conversation.",
		}),

		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		Lockouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after repeated failures.",
		}),
		OTPVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_verifications_total",
			Help:      "One-time code verifications by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to the sink by outcome.",
		}, []string{"outcome"}),
		ArchiveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_archive_failures_total",
			Help:      "Closed reports that could not be archived.",
		}),

		SweeperRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_runs_total",
			Help:      "Completed one-time code sweeper runs.",
		}),
		SweeperPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_purged_total",
			Help:      "One-time code records purged by the sweeper.",
		}),
		SweeperLastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweeper_last_run_timestamp_seconds",
			Help:      "Unix time of the last sweeper run.",
		}),
		SweeperDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweeper_duration_seconds",
			Help:      "Sweeper run duration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveDispatch records one dispatched request.
func (m *Metrics) ObserveDispatch(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// RecordConflictRetry counts a retried conflict.
func (m *Metrics) RecordConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.ConflictRetries.WithLabelValues(operation).Inc()
}

// RecordVote counts a score-changing vote.
func (m *Metrics) RecordVote(kind, value string) {
	if m == nil {
		return
	}
	m.VotesCast.WithLabelValues(kind, value).Inc()
}

// RecordMembershipTransition counts a committed membership event.
func (m *Metrics) RecordMembershipTransition(event string) {
	if m == nil {
		return
	}
	m.MembershipTransitions.WithLabelValues(event).Inc()
}

// RecordReportTransition counts a committed report event.
func (m *Metrics) RecordReportTransition(event string) {
	if m == nil {
		return
	}
	m.ReportTransitions.WithLabelValues(event).Inc()
}

// RecordSanctionFailure counts a failed sanction side effect.
func (m *Metrics) RecordSanctionFailure() {
	if m == nil {
		return
	}
	m.SanctionFailures.Inc()
}

// RecordMessage counts an accepted message.
func (m *Metrics) RecordMessage() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// RecordLockout counts a new account lockout.
func (m *Metrics) RecordLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

// RecordOTPVerification counts a one-time code verification.
func (m *Metrics) RecordOTPVerification(purpose, outcome string) {
	if m == nil {
		return
	}
	m.OTPVerifications.WithLabelValues(purpose, outcome).Inc()
}

// RecordNotification counts a notification delivery.
func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(outcome).Inc()
}

// RecordArchiveFailure counts a failed report archive.
func (m *Metrics) RecordArchiveFailure() {
	if m == nil {
		return
	}
	m.ArchiveFailures.Inc()
}

// RecordSweeperRun records a completed sweeper run.
func (m *Metrics) RecordSweeperRun(d time.Duration, purged int64) {
	if m == nil {
		return
	}
	m.SweeperRuns.Inc()
	m.SweeperPurged.Add(float64(purged))
	m.SweeperDuration.Observe(d.Seconds())
	m.SweeperLastRunTime.SetToCurrentTime()
}
