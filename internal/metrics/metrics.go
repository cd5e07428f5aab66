// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification results.
const (
	ResultOK        = "ok"
	ResultMalformed = "malformed"
	ResultNoMatch   = "no_match"
	ResultInactive  = "inactive"
	ResultExpired   = "expired"
	ResultError     = "error"
)

var (
	// Credential Vault

	CredentialVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallyview_credential_verifications_total",
			Help: "Total number of API key verifications by result",
		},
		[]string{"result"},
	)

	CredentialOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallyview_credential_operations_total",
			Help: "Total number of credential lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	DecryptFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallyview_decrypt_failures_total",
			Help: "Total number of ciphertexts that failed authentication",
		},
		[]string{"purpose"},
	)

	// Review Router

	RouterTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallyview_router_transitions_total",
			Help: "Total number of routing session transitions",
		},
		[]string{"from", "to"},
	)

	RouterResolveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallyview_router_resolve_failures_total",
			Help: "Total number of magic-link tokens that did not resolve",
		},
		[]string{"reason"},
	)

	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallyview_outcomes_total",
			Help: "Total number of terminal routing outcomes recorded",
		},
		[]string{"type"},
	)

	// HTTP

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallyview_http_requests_total",
			Help: "Total number of HTTP requests by server and status code",
		},
		[]string{"server", "code"},
	)
)
