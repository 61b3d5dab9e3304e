package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_requests_total",
		Help: "Federated requests by service.",
	}, []string{"service"})
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "federator_cache_hits_total",
		Help: "Federated requests answered from the response cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "federator_cache_misses_total",
		Help: "Federated requests that missed the response cache.",
	})
	endpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_endpoint_responses_total",
		Help: "Endpoint sub-request outcomes by status class.",
	}, []string{"status"})
	splitOperations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "federator_split_operations_total",
		Help: "Sub-requests split after an endpoint responded with 413.",
	})
	responseBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "federator_response_bytes_total",
		Help: "Payload bytes streamed to federated clients.",
	})
)
