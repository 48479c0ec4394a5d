package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const latencyWindow = 100

// Metrics holds application metrics
type Metrics struct {
	mu sync.RWMutex

	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64

	EndpointRequests map[string]int64
	EndpointErrors   map[string]int64
	EndpointLatency  map[string][]time.Duration

	ServiceCalls   map[string]int64
	ServiceErrors  map[string]int64
	ServiceLatency map[string][]time.Duration

	CircuitBreakerState    map[string]string
	CircuitBreakerFailures map[string]int64

	// Live call sessions
	ActiveSessions  int64
	TotalSessions   int64
	SessionEndings  map[string]int64
	SessionDuration []time.Duration

	// Post-call results by outcome and outbound calls by status
	CallResults   map[string]int64
	OutboundCalls map[string]int64

	StartTime time.Time
}

var globalMetrics = newMetrics()

func newMetrics() *Metrics {
	return &Metrics{
		EndpointRequests:       make(map[string]int64),
		EndpointErrors:         make(map[string]int64),
		EndpointLatency:        make(map[string][]time.Duration),
		ServiceCalls:           make(map[string]int64),
		ServiceErrors:          make(map[string]int64),
		ServiceLatency:         make(map[string][]time.Duration),
		CircuitBreakerState:    make(map[string]string),
		CircuitBreakerFailures: make(map[string]int64),
		SessionEndings:         make(map[string]int64),
		CallResults:            make(map[string]int64),
		OutboundCalls:          make(map[string]int64),
		StartTime:              time.Now(),
	}
}

// Reset clears every counter. Tests use it to start from a known state.
func Reset() {
	m := newMetrics()
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.TotalRequests, globalMetrics.SuccessfulRequests, globalMetrics.FailedRequests = 0, 0, 0
	globalMetrics.EndpointRequests = m.EndpointRequests
	globalMetrics.EndpointErrors = m.EndpointErrors
	globalMetrics.EndpointLatency = m.EndpointLatency
	globalMetrics.ServiceCalls = m.ServiceCalls
	globalMetrics.ServiceErrors = m.ServiceErrors
	globalMetrics.ServiceLatency = m.ServiceLatency
	globalMetrics.CircuitBreakerState = m.CircuitBreakerState
	globalMetrics.CircuitBreakerFailures = m.CircuitBreakerFailures
	globalMetrics.ActiveSessions, globalMetrics.TotalSessions = 0, 0
	globalMetrics.SessionEndings = m.SessionEndings
	globalMetrics.SessionDuration = nil
	globalMetrics.CallResults = m.CallResults
	globalMetrics.OutboundCalls = m.OutboundCalls
	globalMetrics.StartTime = m.StartTime
}

// Middleware records every request against its route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RecordRequest(c.Request.Method+" "+endpoint, c.Writer.Status() < 500, time.Since(start))
	}
}

// RecordRequest records a request
func RecordRequest(endpoint string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.TotalRequests++
	if success {
		globalMetrics.SuccessfulRequests++
	} else {
		globalMetrics.FailedRequests++
		globalMetrics.EndpointErrors[endpoint]++
	}

	globalMetrics.EndpointRequests[endpoint]++
	globalMetrics.EndpointLatency[endpoint] = appendLatency(globalMetrics.EndpointLatency[endpoint], latency)
}

// RecordServiceCall records a service call
func RecordServiceCall(service string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.ServiceCalls[service]++
	if !success {
		globalMetrics.ServiceErrors[service]++
	}
	globalMetrics.ServiceLatency[service] = appendLatency(globalMetrics.ServiceLatency[service], latency)
}

// UpdateCircuitBreaker updates circuit breaker metrics
func UpdateCircuitBreaker(service, state string, failures int64) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.CircuitBreakerState[service] = state
	globalMetrics.CircuitBreakerFailures[service] = failures
}

// SessionStarted counts a newly accepted media stream.
func SessionStarted() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.ActiveSessions++
	globalMetrics.TotalSessions++
}

// SessionEnded records how a session finished and how long it lasted.
func SessionEnded(reason string, duration time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.ActiveSessions--
	globalMetrics.SessionEndings[reason]++
	globalMetrics.SessionDuration = appendLatency(globalMetrics.SessionDuration, duration)
}

// RecordCallResult counts a processed post-call webhook by outcome.
func RecordCallResult(outcome string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.CallResults[outcome]++
}

// RecordOutboundCall counts an outbound call attempt by status.
func RecordOutboundCall(status string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.OutboundCalls[status]++
}

func appendLatency(window []time.Duration, latency time.Duration) []time.Duration {
	if len(window) >= latencyWindow {
		window = window[1:]
	}
	return append(window, latency)
}

func average(latencies []time.Duration) float64 {
	if len(latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return sum.Seconds() / float64(len(latencies))
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func averages(src map[string][]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(src))
	for k, v := range src {
		if len(v) > 0 {
			out[k] = average(v)
		}
	}
	return out
}

// GetMetrics returns a snapshot of current metrics
func GetMetrics() map[string]interface{} {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	breakerState := make(map[string]string, len(globalMetrics.CircuitBreakerState))
	for k, v := range globalMetrics.CircuitBreakerState {
		breakerState[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(globalMetrics.StartTime).Seconds(),
		"requests": map[string]interface{}{
			"total":      globalMetrics.TotalRequests,
			"successful": globalMetrics.SuccessfulRequests,
			"failed":     globalMetrics.FailedRequests,
		},
		"endpoints": map[string]interface{}{
			"requests":            copyCounts(globalMetrics.EndpointRequests),
			"errors":              copyCounts(globalMetrics.EndpointErrors),
			"latency_avg_seconds": averages(globalMetrics.EndpointLatency),
		},
		"services": map[string]interface{}{
			"calls":               copyCounts(globalMetrics.ServiceCalls),
			"errors":              copyCounts(globalMetrics.ServiceErrors),
			"latency_avg_seconds": averages(globalMetrics.ServiceLatency),
		},
		"circuit_breakers": map[string]interface{}{
			"state":    breakerState,
			"failures": copyCounts(globalMetrics.CircuitBreakerFailures),
		},
		"sessions": map[string]interface{}{
			"active":               globalMetrics.ActiveSessions,
			"total":                globalMetrics.TotalSessions,
			"endings":              copyCounts(globalMetrics.SessionEndings),
			"duration_avg_seconds": average(globalMetrics.SessionDuration),
		},
		"call_results":   copyCounts(globalMetrics.CallResults),
		"outbound_calls": copyCounts(globalMetrics.OutboundCalls),
	}
}

// GetPrometheusMetrics returns metrics in Prometheus text format
func GetPrometheusMetrics() string {
	m := GetMetrics()
	var b strings.Builder

	writeHeader(&b, "carecall_uptime_seconds", "Process uptime in seconds", "gauge")
	fmt.Fprintf(&b, "carecall_uptime_seconds %.2f\n", m["uptime_seconds"].(float64))

	reqs := m["requests"].(map[string]interface{})
	writeHeader(&b, "carecall_requests_total", "Total number of HTTP requests", "counter")
	for _, status := range []string{"total", "successful", "failed"} {
		fmt.Fprintf(&b, "carecall_requests_total{status=%q} %d\n", status, reqs[status].(int64))
	}

	endpoints := m["endpoints"].(map[string]interface{})
	writeCounter(&b, "carecall_endpoint_requests_total", "Requests per endpoint", "endpoint", endpoints["requests"].(map[string]int64))
	writeCounter(&b, "carecall_endpoint_errors_total", "Server errors per endpoint", "endpoint", endpoints["errors"].(map[string]int64))

	services := m["services"].(map[string]interface{})
	writeCounter(&b, "carecall_service_calls_total", "Calls per downstream service", "service", services["calls"].(map[string]int64))
	writeCounter(&b, "carecall_service_errors_total", "Failed calls per downstream service", "service", services["errors"].(map[string]int64))

	sessions := m["sessions"].(map[string]interface{})
	writeHeader(&b, "carecall_sessions_active", "Media stream sessions in progress", "gauge")
	fmt.Fprintf(&b, "carecall_sessions_active %d\n", sessions["active"].(int64))
	writeHeader(&b, "carecall_sessions_total", "Media stream sessions accepted", "counter")
	fmt.Fprintf(&b, "carecall_sessions_total %d\n", sessions["total"].(int64))
	writeCounter(&b, "carecall_session_endings_total", "Finished sessions by reason", "reason", sessions["endings"].(map[string]int64))

	writeCounter(&b, "carecall_call_results_total", "Post-call webhooks by outcome", "outcome", m["call_results"].(map[string]int64))
	writeCounter(&b, "carecall_outbound_calls_total", "Outbound call attempts by status", "status", m["outbound_calls"].(map[string]int64))

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeCounter(b *strings.Builder, name, help, label string, values map[string]int64) {
	writeHeader(b, name, help, "counter")
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}
